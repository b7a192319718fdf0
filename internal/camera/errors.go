package camera

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound means the exposure file does not exist.
	ErrNotFound = errors.New("exposure file not found")
	// ErrMissingHeaderField means the primary header lacks a required keyword.
	ErrMissingHeaderField = errors.New("missing header field")
	// ErrMissingExtension means a manifest camera has no extension.
	ErrMissingExtension = errors.New("missing camera extension")
)

// MissingExtensionError lists every manifest camera without an extension.
type MissingExtensionError struct {
	Path    string
	Cameras []string
}

func (e *MissingExtensionError) Error() string {
	return fmt.Sprintf("missing HDU for %s in %s", strings.Join(e.Cameras, ","), e.Path)
}

// Is lets errors.Is match ErrMissingExtension.
func (e *MissingExtensionError) Is(target error) bool {
	return target == ErrMissingExtension
}
