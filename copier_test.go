package gopyramid

import (
	"bytes"
	"testing"
)

func TestByteCopier(t *testing.T) {
	enc := PixelEncoding{Kind: EncodingGray, SourceBands: 1}
	c, err := NewBandCopier(enc, 4, 4)
	if err != nil {
		t.Fatalf("NewBandCopier failed: %v", err)
	}

	data := make([]byte, 16)
	for i := range data {
		data[i] = byte(i)
	}
	dst := NewRaster(enc, 5, 5)
	if err := c.CopyTile(data, Rect(1, 2, 3, 2), dst, 2, 1, 0); err != nil {
		t.Fatalf("CopyTile failed: %v", err)
	}

	row1, _ := dst.GetRegion(0, Rect(0, 1, 5, 1))
	row2, _ := dst.GetRegion(0, Rect(0, 2, 5, 1))
	if !bytes.Equal(row1, []byte{0, 0, 9, 10, 11}) || !bytes.Equal(row2, []byte{0, 0, 13, 14, 15}) {
		t.Errorf("Unexpected rows %v %v", row1, row2)
	}
}

func TestAlphaSynthCopier(t *testing.T) {
	enc := PixelEncoding{Kind: EncodingRGB, SourceBands: 3}
	c, err := NewBandCopier(enc, 2, 2)
	if err != nil {
		t.Fatalf("NewBandCopier failed: %v", err)
	}
	if _, ok := c.(*alphaSynthCopier); !ok {
		t.Fatalf("Expected alpha synthesizing copier, got %T", c)
	}

	dst := NewRaster(enc, 3, 2)
	if err := c.CopyTile([]byte{1, 2, 3, 4}, Rect(0, 0, 2, 2), dst, 0, 0, 1); err != nil {
		t.Fatalf("CopyTile failed: %v", err)
	}
	if dst.At(1, 1, 1) != 4 || dst.At(0, 1, 1) != 0 {
		t.Errorf("Band 1 not copied in isolation: %v", dst.Pix)
	}
	if dst.At(3, 0, 0) != 0xFF || dst.At(3, 1, 1) != 0xFF {
		t.Error("Written pixels are not opaque")
	}
	if dst.At(3, 2, 0) != 0 {
		t.Error("Unwritten pixel is not transparent")
	}
}

func TestOneBitCopier(t *testing.T) {
	enc := PixelEncoding{Kind: EncodingOneBit, SourceBands: 1}
	c, err := NewBandCopier(enc, 10, 2)
	if err != nil {
		t.Fatalf("NewBandCopier failed: %v", err)
	}

	// 10 pixels per row, 2 bytes per row.
	data := []byte{
		0b10110000, 0b01000000,
		0b00000001, 0b11000000,
	}
	dst := NewRaster(enc, 10, 2)
	if err := c.CopyTile(data, Rect(0, 0, 10, 2), dst, 0, 0, 0); err != nil {
		t.Fatalf("CopyTile failed: %v", err)
	}
	want := []byte{
		1, 0, 1, 1, 0, 0, 0, 0, 0, 1,
		0, 0, 0, 0, 0, 0, 0, 1, 1, 1,
	}
	if !bytes.Equal(dst.Pix, want) {
		t.Errorf("Pix = %v, want %v", dst.Pix, want)
	}

	// Sub-rectangle starting mid-byte.
	part := NewRaster(enc, 3, 1)
	if err := c.CopyTile(data, Rect(7, 1, 3, 1), part, 0, 0, 0); err != nil {
		t.Fatalf("CopyTile failed: %v", err)
	}
	if !bytes.Equal(part.Pix, []byte{1, 1, 1}) {
		t.Errorf("Pix = %v, want [1 1 1]", part.Pix)
	}
}

func TestCopierRejectsBadInput(t *testing.T) {
	enc := PixelEncoding{Kind: EncodingGray, SourceBands: 1}
	c, _ := NewBandCopier(enc, 4, 4)
	data := make([]byte, 16)
	dst := NewRaster(enc, 4, 4)

	tests := []struct {
		name       string
		data       []byte
		src        Rectangle
		dstX, dstY int
		band       int
	}{
		{"short payload", data[:10], Rect(0, 0, 4, 4), 0, 0, 0},
		{"source outside tile", data, Rect(2, 0, 4, 4), 0, 0, 0},
		{"empty source", data, Rect(0, 0, 0, 4), 0, 0, 0},
		{"destination overflow", data, Rect(0, 0, 4, 4), 1, 0, 0},
		{"band out of range", data, Rect(0, 0, 4, 4), 0, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := c.CopyTile(tt.data, tt.src, dst, tt.dstX, tt.dstY, tt.band); err == nil {
				t.Error("Expected error")
			}
		})
	}

	if _, err := NewBandCopier(PixelEncoding{}, 4, 4); err == nil {
		t.Error("Expected error for zero encoding")
	}
}
