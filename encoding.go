package gopyramid

import (
	"fmt"
	"image/color"
)

// EncodingInfo is the pixel layout a tile store reports for a level.
type EncodingInfo struct {
	BitsPerSample int
	Signed        bool
	BandCount     int
	// ColorMap is non-nil when the level carries an indexed color table.
	ColorMap color.Palette
}

// EncodingKind enumerates the supported destination pixel layouts.
type EncodingKind int

const (
	EncodingOneBit EncodingKind = iota + 1
	EncodingIndexed
	EncodingGray
	EncodingRGB
)

func (k EncodingKind) String() string {
	switch k {
	case EncodingOneBit:
		return "one-bit"
	case EncodingIndexed:
		return "indexed"
	case EncodingGray:
		return "gray"
	case EncodingRGB:
		return "rgb"
	default:
		return fmt.Sprintf("EncodingKind(%d)", int(k))
	}
}

// PixelEncoding is the resolved layout used for one read. SourceBands is the
// number of bands the store holds (3 or 4 for EncodingRGB, 1 otherwise).
type PixelEncoding struct {
	Kind        EncodingKind
	SourceBands int
	Palette     color.Palette
}

// DestinationBands returns the number of samples per pixel of a raster in
// this encoding. RGB rasters always carry an alpha sample.
func (e PixelEncoding) DestinationBands() int {
	if e.Kind == EncodingRGB {
		return 4
	}
	return 1
}

// WritableBands returns how many destination bands may be targeted by a band
// mapper. With three source bands the alpha sample is synthesized and not
// writable.
func (e PixelEncoding) WritableBands() int {
	if e.Kind == EncodingRGB {
		return e.SourceBands
	}
	return 1
}

func (e PixelEncoding) String() string {
	if e.Kind == EncodingRGB {
		return fmt.Sprintf("%s(%d)", e.Kind, e.SourceBands)
	}
	return e.Kind.String()
}

// ResolveEncoding maps a store-reported layout to a PixelEncoding:
//
//	1 band, 1 bit              -> one-bit
//	1 band, 8 bit, color map   -> indexed
//	1 band, 8 bit unsigned     -> gray
//	3 or 4 bands, 8 bit unsigned -> rgb
//
// Anything else is a ConfigurationError wrapping ErrUnsupportedEncoding.
func ResolveEncoding(info EncodingInfo) (PixelEncoding, error) {
	switch {
	case info.BandCount == 1 && info.BitsPerSample == 1:
		return PixelEncoding{Kind: EncodingOneBit, SourceBands: 1}, nil
	case info.BandCount == 1 && info.BitsPerSample == 8 && len(info.ColorMap) > 0:
		return PixelEncoding{Kind: EncodingIndexed, SourceBands: 1, Palette: info.ColorMap}, nil
	case info.BandCount == 1 && info.BitsPerSample == 8 && !info.Signed:
		return PixelEncoding{Kind: EncodingGray, SourceBands: 1}, nil
	case (info.BandCount == 3 || info.BandCount == 4) && info.BitsPerSample == 8 && !info.Signed:
		return PixelEncoding{Kind: EncodingRGB, SourceBands: info.BandCount}, nil
	}
	return PixelEncoding{}, &ConfigurationError{
		Reason: fmt.Sprintf("%d band(s) of %d bit (signed=%t, color map=%t)",
			info.BandCount, info.BitsPerSample, info.Signed, len(info.ColorMap) > 0),
		Err: ErrUnsupportedEncoding,
	}
}
