package gopyramid

import (
	"fmt"
)

// opaque is the alpha written for pixels that received data.
const opaque = 0xFF

// BandCopier copies a rectangle of one tile's raw payload into one band of a
// destination raster, unpacking samples as its encoding requires.
type BandCopier interface {
	// CopyTile copies src (in tile pixel coordinates) of the tile payload
	// data to dst, placing src's top-left pixel at (dstX, dstY) of band.
	CopyTile(data []byte, src Rectangle, dst *Raster, dstX, dstY, band int) error
}

// NewBandCopier returns the copier for enc and the pyramid tile size.
func NewBandCopier(enc PixelEncoding, tileWidth, tileHeight int) (BandCopier, error) {
	base := tileLayout{width: tileWidth, height: tileHeight}
	switch enc.Kind {
	case EncodingOneBit:
		base.stride = (tileWidth + 7) / 8
		return &oneBitCopier{tileLayout: base}, nil
	case EncodingIndexed, EncodingGray:
		base.stride = tileWidth
		return &byteCopier{tileLayout: base}, nil
	case EncodingRGB:
		base.stride = tileWidth
		if enc.SourceBands == 3 {
			return &alphaSynthCopier{byteCopier: byteCopier{tileLayout: base}}, nil
		}
		return &byteCopier{tileLayout: base}, nil
	}
	return nil, &ConfigurationError{Reason: fmt.Sprintf("no band copier for %s", enc), Err: ErrUnsupportedEncoding}
}

// tileLayout describes the raw payload of one band of one tile.
type tileLayout struct {
	width  int
	height int
	stride int // bytes per payload row
}

func (t tileLayout) check(data []byte, src Rectangle, dst *Raster, dstX, dstY, band int) error {
	if src.Empty() {
		return fmt.Errorf("empty source rectangle %s", src)
	}
	if !(Rectangle{Width: t.width, Height: t.height}).Contains(src) {
		return fmt.Errorf("source rectangle %s outside %dx%d tile", src, t.width, t.height)
	}
	if need := t.stride * t.height; len(data) < need {
		return fmt.Errorf("tile payload has %d bytes, need %d", len(data), need)
	}
	if band < 0 || band >= dst.Bands {
		return fmt.Errorf("destination band %d out of range [0,%d)", band, dst.Bands)
	}
	if !dst.Rect().Contains(Rectangle{X: dstX, Y: dstY, Width: src.Width, Height: src.Height}) {
		return fmt.Errorf("destination rectangle (%d,%d %dx%d) outside %dx%d raster",
			dstX, dstY, src.Width, src.Height, dst.Width, dst.Height)
	}
	return nil
}

// byteCopier copies 8-bit samples.
type byteCopier struct {
	tileLayout
}

func (c *byteCopier) CopyTile(data []byte, src Rectangle, dst *Raster, dstX, dstY, band int) error {
	if err := c.check(data, src, dst, dstX, dstY, band); err != nil {
		return err
	}
	for row := 0; row < src.Height; row++ {
		in := data[(src.Y+row)*c.stride+src.X:]
		out := dst.Index(band, dstX, dstY+row)
		if dst.Bands == 1 {
			copy(dst.Pix[out:out+src.Width], in[:src.Width])
			continue
		}
		for col := 0; col < src.Width; col++ {
			dst.Pix[out] = in[col]
			out += dst.Bands
		}
	}
	return nil
}

// alphaSynthCopier copies three-band RGB and marks every written pixel
// opaque in the alpha sample, so pixels no tile reached stay transparent.
type alphaSynthCopier struct {
	byteCopier
}

func (c *alphaSynthCopier) CopyTile(data []byte, src Rectangle, dst *Raster, dstX, dstY, band int) error {
	if err := c.byteCopier.CopyTile(data, src, dst, dstX, dstY, band); err != nil {
		return err
	}
	alpha := dst.Bands - 1
	for row := 0; row < src.Height; row++ {
		out := dst.Index(alpha, dstX, dstY+row)
		for col := 0; col < src.Width; col++ {
			dst.Pix[out] = opaque
			out += dst.Bands
		}
	}
	return nil
}

// oneBitCopier unpacks bilevel payloads: rows are byte aligned and the most
// significant bit is the leftmost pixel. Samples are written as 0 or 1.
type oneBitCopier struct {
	tileLayout
}

func (c *oneBitCopier) CopyTile(data []byte, src Rectangle, dst *Raster, dstX, dstY, band int) error {
	if err := c.check(data, src, dst, dstX, dstY, band); err != nil {
		return err
	}
	for row := 0; row < src.Height; row++ {
		in := data[(src.Y+row)*c.stride:]
		out := dst.Index(band, dstX, dstY+row)
		for col := 0; col < src.Width; col++ {
			x := src.X + col
			dst.Pix[out] = (in[x>>3] >> (7 - uint(x&7))) & 1
			out += dst.Bands
		}
	}
	return nil
}
