package fitsfile

import (
	"errors"
	"fmt"
	"math/bits"
)

// riceParams are the code-length field width and the split position that
// marks an uncoded block, by pixel width in bytes.
type riceParams struct {
	fsbits int
	fsmax  int
}

var riceByWidth = map[int]riceParams{
	1: {fsbits: 3, fsmax: 6},
	2: {fsbits: 4, fsmax: 14},
	4: {fsbits: 5, fsmax: 25},
}

var errRiceTruncated = errors.New("rice: compressed tile is truncated")

// riceDecode expands one RICE_1 tile of n pixels, each bytepix bytes wide,
// coded in blocks of blocksize differences. Two and four byte pixels come
// back sign-extended; single bytes are unsigned.
func riceDecode(in []byte, n, blocksize, bytepix int) ([]int64, error) {
	p, ok := riceByWidth[bytepix]
	if !ok {
		return nil, fmt.Errorf("rice: unsupported BYTEPIX %d", bytepix)
	}
	if blocksize <= 0 {
		return nil, fmt.Errorf("rice: invalid BLOCKSIZE %d", blocksize)
	}
	out := make([]int64, n)
	if n == 0 {
		return out, nil
	}
	if len(in) < bytepix {
		return nil, errRiceTruncated
	}

	widen := func(v uint32) int64 {
		switch bytepix {
		case 1:
			return int64(uint8(v))
		case 2:
			return int64(int16(uint16(v)))
		}
		return int64(int32(v))
	}
	undo := func(diff uint32) uint32 {
		if diff&1 == 0 {
			return diff >> 1
		}
		return ^(diff >> 1)
	}

	var lastpix uint32
	for _, c := range in[:bytepix] {
		lastpix = lastpix<<8 | uint32(c)
	}
	pos := bytepix
	next := func() (uint32, error) {
		if pos >= len(in) {
			return 0, errRiceTruncated
		}
		c := in[pos]
		pos++
		return uint32(c), nil
	}

	bbits := 1 << p.fsbits
	b, err := next()
	if err != nil {
		return nil, err
	}
	nbits := 8
	for i := 0; i < n; {
		nbits -= p.fsbits
		for nbits < 0 {
			c, err := next()
			if err != nil {
				return nil, err
			}
			b = b<<8 | c
			nbits += 8
		}
		fs := int(b>>uint(nbits)) - 1
		b &= 1<<uint(nbits) - 1
		imax := min(i+blocksize, n)

		switch {
		case fs < 0:
			// Every difference in the block is zero.
			for ; i < imax; i++ {
				out[i] = widen(lastpix)
			}
		case fs == p.fsmax:
			// Differences stored verbatim, bbits each.
			for ; i < imax; i++ {
				k := bbits - nbits
				diff := b << uint(k)
				for k -= 8; k >= 0; k -= 8 {
					c, err := next()
					if err != nil {
						return nil, err
					}
					diff |= c << uint(k)
				}
				if nbits > 0 {
					c, err := next()
					if err != nil {
						return nil, err
					}
					diff |= c >> uint(-k)
					b = c & (1<<uint(nbits) - 1)
				} else {
					b = 0
				}
				lastpix += undo(diff)
				out[i] = widen(lastpix)
			}
		default:
			for ; i < imax; i++ {
				for b == 0 {
					c, err := next()
					if err != nil {
						return nil, err
					}
					b = c
					nbits += 8
				}
				nzero := nbits - bits.Len32(b)
				nbits -= nzero + 1
				b ^= 1 << uint(nbits)
				nbits -= fs
				for nbits < 0 {
					c, err := next()
					if err != nil {
						return nil, err
					}
					b = b<<8 | c
					nbits += 8
				}
				diff := uint32(nzero)<<uint(fs) | b>>uint(nbits)
				b &= 1<<uint(nbits) - 1
				lastpix += undo(diff)
				out[i] = widen(lastpix)
			}
		}
	}
	return out, nil
}
