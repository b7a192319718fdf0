package camera

import "strings"

// LabelCutoff is the first night on which the CIW/CIE and CIC/CIN cables were
// connected to the correctly labelled readouts.
const LabelCutoff = 20190402

// LabelSwaps are the camera pairs whose labels were exchanged before LabelCutoff.
var LabelSwaps = [][2]string{{CIW, CIE}, {CIC, CIN}}

// SwapLabels returns a new mapping where the value stored under each label of a
// swap pair moves to its partner. Every lookup reads orig, never the mapping
// under construction, so the pairs cannot interfere with each other and
// applying SwapLabels twice restores the original mapping. A label whose
// partner is absent moves rather than being duplicated.
func SwapLabels[V any](orig map[string]V, swaps [][2]string) map[string]V {
	out := make(map[string]V, len(orig))
	for k, v := range orig {
		out[k] = v
	}
	for _, pair := range swaps {
		a, b := pair[0], pair[1]
		delete(out, a)
		delete(out, b)
		if v, ok := orig[a]; ok {
			out[b] = v
		}
		if v, ok := orig[b]; ok {
			out[a] = v
		}
	}
	return out
}

// swapName maps a single label through swaps.
func swapName(name string, swaps [][2]string) string {
	for _, pair := range swaps {
		switch name {
		case pair[0]:
			return pair[1]
		case pair[1]:
			return pair[0]
		}
	}
	return name
}

// NeedsLabelSwap reports whether exposures from night carry swapped labels.
func NeedsLabelSwap(night int) bool {
	return night < LabelCutoff
}

// CorrectLabels returns c viewed through the historical label correction.
// Closing the result closes c.
func CorrectLabels(c Container) Container {
	orig := make(map[string]Extension)
	for _, name := range c.Names() {
		if e, ok := c.Extension(name); ok {
			orig[strings.ToUpper(name)] = e
		}
	}
	return &relabeled{Container: c, ext: SwapLabels(orig, LabelSwaps)}
}
