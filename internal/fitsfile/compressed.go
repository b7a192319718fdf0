package fitsfile

import (
	"fmt"
	"strings"

	"github.com/astrogo/fitsio"

	"github.com/banshee-data/ci.report/internal/camera"
)

// Tiled image compression keywords and the only algorithm read here.
const (
	compressedColumn = "COMPRESSED_DATA"
	riceCompression  = "RICE_1"
	defaultBlockSize = 32
)

// tiling describes a tile-compressed image HDU.
type tiling struct {
	width, height int // ZNAXIS1, ZNAXIS2
	tileW, tileH  int // ZTILE1, ZTILE2
	blocksize     int
	bytepix       int
}

func parseTiling(hdr camera.Header) (*tiling, error) {
	cmp, _ := hdr.String("ZCMPTYPE")
	if cmp != riceCompression {
		return nil, fmt.Errorf("%w: ZCMPTYPE %q", ErrCompressedImage, cmp)
	}
	zbitpix, ok := hdr.Int("ZBITPIX")
	if !ok {
		return nil, fmt.Errorf("%w: ZBITPIX", camera.ErrMissingHeaderField)
	}
	if zbitpix < 0 {
		return nil, fmt.Errorf("%w: quantized floating-point tiles (ZBITPIX %d)", ErrCompressedImage, zbitpix)
	}
	if naxis, ok := hdr.Int("ZNAXIS"); !ok || naxis != 2 {
		return nil, fmt.Errorf("expected ZNAXIS = 2, got %v", hdr["ZNAXIS"])
	}
	t := &tiling{blocksize: defaultBlockSize, bytepix: int(zbitpix / 8)}
	for key, dst := range map[string]*int{"ZNAXIS1": &t.width, "ZNAXIS2": &t.height} {
		v, ok := hdr.Int(key)
		if !ok || v <= 0 {
			return nil, fmt.Errorf("%w: %s", camera.ErrMissingHeaderField, key)
		}
		*dst = int(v)
	}
	t.tileW, t.tileH = t.width, 1
	if v, ok := hdr.Int("ZTILE1"); ok && v > 0 {
		t.tileW = int(v)
	}
	if v, ok := hdr.Int("ZTILE2"); ok && v > 0 {
		t.tileH = int(v)
	}
	for i := 1; ; i++ {
		name, ok := hdr.String(fmt.Sprintf("ZNAME%d", i))
		if !ok {
			break
		}
		v, ok := hdr.Int(fmt.Sprintf("ZVAL%d", i))
		if !ok {
			continue
		}
		switch strings.ToUpper(name) {
		case "BLOCKSIZE":
			t.blocksize = int(v)
		case "BYTEPIX":
			t.bytepix = int(v)
		}
	}
	return t, nil
}

// readTiles decompresses every tile of a RICE_1 image and applies BSCALE
// and BZERO.
func readTiles(tbl *fitsio.Table, hdr camera.Header, scale, zero float64) (*camera.Image, error) {
	t, err := parseTiling(hdr)
	if err != nil {
		return nil, err
	}
	if tbl.Index(compressedColumn) < 0 {
		return nil, fmt.Errorf("%w: no %s column", ErrCompressedImage, compressedColumn)
	}
	ntx := (t.width + t.tileW - 1) / t.tileW
	nty := (t.height + t.tileH - 1) / t.tileH

	rows, err := tbl.Read(0, tbl.NumRows())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	pix := make([]float64, t.width*t.height)
	tile := 0
	for rows.Next() {
		if tile >= ntx*nty {
			return nil, fmt.Errorf("more than %d tiles", ntx*nty)
		}
		row := map[string]any{compressedColumn: nil}
		if err := rows.Scan(&row); err != nil {
			return nil, fmt.Errorf("tile %d: %w", tile, err)
		}
		data, _ := row[compressedColumn].([]byte)

		x0, y0 := (tile%ntx)*t.tileW, (tile/ntx)*t.tileH
		w, h := min(t.tileW, t.width-x0), min(t.tileH, t.height-y0)
		vals, err := riceDecode(data, w*h, t.blocksize, t.bytepix)
		if err != nil {
			return nil, fmt.Errorf("tile %d: %w", tile, err)
		}
		for r := 0; r < h; r++ {
			for c := 0; c < w; c++ {
				pix[(y0+r)*t.width+x0+c] = float64(vals[r*w+c])*scale + zero
			}
		}
		tile++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if tile != ntx*nty {
		return nil, fmt.Errorf("expected %d tiles, got %d", ntx*nty, tile)
	}
	return &camera.Image{Width: t.width, Height: t.height, Pix: pix}, nil
}
