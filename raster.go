package gopyramid

import (
	"fmt"
	"image"
	"image/color"

	"github.com/paulmach/orb"
)

// bilevelPalette renders one-bit rasters: sample 0 is black, 1 is white.
var bilevelPalette = color.Palette{color.Gray{Y: 0}, color.Gray{Y: 255}}

// Raster is a destination image buffer.
// Data is stored as a flat array in band-interleaved-by-pixel (BIP) format,
// one byte per sample:
// index = y * Width * Bands + x * Bands + band
// A Raster has no internal synchronization.
type Raster struct {
	Pix      []uint8
	Width    int
	Height   int
	Bands    int
	Encoding PixelEncoding
	// Bounds is the geographic extent of the raster when known.
	Bounds orb.Bound
}

// NewRaster allocates a zero-filled raster for the given encoding.
func NewRaster(enc PixelEncoding, width, height int) *Raster {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	bands := enc.DestinationBands()
	return &Raster{
		Pix:      make([]uint8, width*height*bands),
		Width:    width,
		Height:   height,
		Bands:    bands,
		Encoding: enc,
	}
}

// Index returns the flat array index for the given band, x, y coordinates.
func (r *Raster) Index(band, x, y int) int {
	return y*r.Width*r.Bands + x*r.Bands + band
}

func (r *Raster) inBounds(band, x, y int) bool {
	return band >= 0 && band < r.Bands && x >= 0 && x < r.Width && y >= 0 && y < r.Height
}

// At returns the sample at band, x, y, or 0 outside the raster.
func (r *Raster) At(band, x, y int) uint8 {
	if !r.inBounds(band, x, y) {
		return 0
	}
	return r.Pix[r.Index(band, x, y)]
}

// Set sets the sample at band, x, y. Writes outside the raster are ignored.
func (r *Raster) Set(band, x, y int, value uint8) {
	if !r.inBounds(band, x, y) {
		return
	}
	r.Pix[r.Index(band, x, y)] = value
}

// Fill sets every sample of every band.
func (r *Raster) Fill(value uint8) {
	for i := range r.Pix {
		r.Pix[i] = value
	}
}

// FillBand sets every sample of one band.
func (r *Raster) FillBand(band int, value uint8) {
	if band < 0 || band >= r.Bands {
		return
	}
	for i := band; i < len(r.Pix); i += r.Bands {
		r.Pix[i] = value
	}
}

// Rect returns the raster's pixel rectangle.
func (r *Raster) Rect() Rectangle {
	return Rectangle{Width: r.Width, Height: r.Height}
}

// GetRegion returns the samples of one band inside rect, row-major.
func (r *Raster) GetRegion(band int, rect Rectangle) ([]uint8, error) {
	if band < 0 || band >= r.Bands {
		return nil, fmt.Errorf("band %d out of range [0,%d)", band, r.Bands)
	}
	if rect.Empty() || !r.Rect().Contains(rect) {
		return nil, fmt.Errorf("region %s outside raster %dx%d", rect, r.Width, r.Height)
	}
	out := make([]uint8, rect.Width*rect.Height)
	for row := 0; row < rect.Height; row++ {
		src := r.Index(band, rect.X, rect.Y+row)
		dst := row * rect.Width
		for col := 0; col < rect.Width; col++ {
			out[dst+col] = r.Pix[src]
			src += r.Bands
		}
	}
	return out, nil
}

// SetRegion writes row-major samples of one band into rect.
func (r *Raster) SetRegion(band int, rect Rectangle, values []uint8) error {
	if band < 0 || band >= r.Bands {
		return fmt.Errorf("band %d out of range [0,%d)", band, r.Bands)
	}
	if rect.Empty() || !r.Rect().Contains(rect) {
		return fmt.Errorf("region %s outside raster %dx%d", rect, r.Width, r.Height)
	}
	if len(values) < rect.Width*rect.Height {
		return fmt.Errorf("region %s needs %d samples, got %d", rect, rect.Width*rect.Height, len(values))
	}
	for row := 0; row < rect.Height; row++ {
		dst := r.Index(band, rect.X, rect.Y+row)
		src := row * rect.Width
		for col := 0; col < rect.Width; col++ {
			r.Pix[dst] = values[src+col]
			dst += r.Bands
		}
	}
	return nil
}

// Image returns a standard library view of the raster sharing its pixels.
func (r *Raster) Image() image.Image {
	rect := image.Rect(0, 0, r.Width, r.Height)
	stride := r.Width * r.Bands
	switch r.Encoding.Kind {
	case EncodingOneBit:
		return &image.Paletted{Pix: r.Pix, Stride: stride, Rect: rect, Palette: bilevelPalette}
	case EncodingIndexed:
		return &image.Paletted{Pix: r.Pix, Stride: stride, Rect: rect, Palette: r.Encoding.Palette}
	case EncodingRGB:
		return &image.NRGBA{Pix: r.Pix, Stride: stride, Rect: rect}
	default:
		return &image.Gray{Pix: r.Pix, Stride: stride, Rect: rect}
	}
}
