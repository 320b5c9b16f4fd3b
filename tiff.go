package gopyramid

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// TIFF constants
const (
	tiffMagicLE = 0x4949 // "II" little-endian
	tiffMagicBE = 0x4D4D // "MM" big-endian
	tiffVersion = 42
)

// Compression types
const (
	CompressionNone         = 1
	CompressionLZW          = 5
	CompressionOldJPEG      = 6
	CompressionJPEG         = 7
	CompressionDeflate      = 8
	CompressionPackBits     = 32773
	CompressionAdobeDeflate = 32946
)

// PhotometricInterpretation values the store distinguishes.
const (
	photometricWhiteIsZero = 0
	photometricPalette     = 3
)

// Baseline and extension tag IDs read by the COG store.
const (
	tagNewSubfileType  = 254
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagPhotometric     = 262
	tagSamplesPerPixel = 277
	tagPlanarConfig    = 284
	tagPredictor       = 317
	tagColorMap        = 320
	tagTileWidth       = 322
	tagTileLength      = 323
	tagTileOffsets     = 324
	tagTileByteCounts  = 325
	tagSampleFormat    = 339
	tagJPEGTables      = 347
)

// fieldType is the TIFF type of a directory entry.
type fieldType uint16

const (
	ftByte      fieldType = 1
	ftASCII     fieldType = 2
	ftShort     fieldType = 3
	ftLong      fieldType = 4
	ftRational  fieldType = 5
	ftSByte     fieldType = 6
	ftUndefined fieldType = 7
	ftSShort    fieldType = 8
	ftSLong     fieldType = 9
	ftSRational fieldType = 10
	ftFloat     fieldType = 11
	ftDouble    fieldType = 12
)

// size returns the size in bytes of one value of the type.
func (t fieldType) size() uint32 {
	switch t {
	case ftShort, ftSShort:
		return 2
	case ftLong, ftSLong, ftFloat:
		return 4
	case ftRational, ftSRational, ftDouble:
		return 8
	default:
		return 1
	}
}

// tiffEntry is one 12 byte IFD entry. Values of four bytes or less are
// stored inline in raw; larger values live at the offset raw encodes.
type tiffEntry struct {
	id    uint16
	typ   fieldType
	count uint32
	raw   [4]byte
}

// ifd represents an Image File Directory
type ifd struct {
	entries map[uint16]tiffEntry
}

func (d *ifd) has(id uint16) bool {
	_, ok := d.entries[id]
	return ok
}

// tiffReader reads classic (non-BigTIFF) directories. Entry values are read
// on demand so large offset arrays are only fetched for levels being read.
type tiffReader struct {
	r     io.ReadSeeker
	size  int64
	order binary.ByteOrder
	ifds  []*ifd
}

func newTIFFReader(r io.ReadSeeker) (*tiffReader, error) {
	size, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to determine TIFF size: %w", err)
	}
	tr := &tiffReader{r: r, size: size}

	// Read TIFF header (8 bytes: magic + version + first IFD offset) in one go
	header := make([]byte, 8)
	if err := tr.readAt(0, header); err != nil {
		return nil, fmt.Errorf("failed to read TIFF header: %w", err)
	}

	switch binary.LittleEndian.Uint16(header[0:2]) {
	case tiffMagicLE:
		tr.order = binary.LittleEndian
	case tiffMagicBE:
		tr.order = binary.BigEndian
	default:
		return nil, fmt.Errorf("invalid TIFF magic: 0x%04x", binary.LittleEndian.Uint16(header[0:2]))
	}

	if version := tr.order.Uint16(header[2:4]); version != tiffVersion {
		return nil, fmt.Errorf("invalid TIFF version: %d", version)
	}

	seen := make(map[uint32]bool)
	for next := tr.order.Uint32(header[4:8]); next != 0; {
		if seen[next] {
			return nil, fmt.Errorf("IFD chain loops at offset %d", next)
		}
		seen[next] = true

		d, following, err := tr.readIFD(next)
		if err != nil {
			return nil, fmt.Errorf("failed to read IFD at %d: %w", next, err)
		}
		tr.ifds = append(tr.ifds, d)
		next = following
	}

	return tr, nil
}

// readIFD reads one directory and returns the offset of the next one.
func (tr *tiffReader) readIFD(offset uint32) (*ifd, uint32, error) {
	countBuf := make([]byte, 2)
	if err := tr.readAt(int64(offset), countBuf); err != nil {
		return nil, 0, fmt.Errorf("failed to read tag count: %w", err)
	}
	count := int(tr.order.Uint16(countBuf))

	// Entries (12 bytes each) and next IFD offset in a single read to keep
	// range requests down.
	buf := make([]byte, count*12+4)
	if err := tr.readAt(int64(offset)+2, buf); err != nil {
		return nil, 0, fmt.Errorf("failed to read IFD entries: %w", err)
	}

	d := &ifd{entries: make(map[uint16]tiffEntry, count)}
	for i := 0; i < count; i++ {
		b := buf[i*12 : i*12+12]
		e := tiffEntry{
			id:    tr.order.Uint16(b[0:2]),
			typ:   fieldType(tr.order.Uint16(b[2:4])),
			count: tr.order.Uint32(b[4:8]),
		}
		copy(e.raw[:], b[8:12])
		d.entries[e.id] = e
	}

	return d, tr.order.Uint32(buf[count*12:]), nil
}

// checkSpan reports an error unless n bytes at offset lie inside the file.
func (tr *tiffReader) checkSpan(offset, n uint64) error {
	if offset > uint64(tr.size) || n > uint64(tr.size)-offset {
		return fmt.Errorf("%d bytes at %d exceed file size %d", n, offset, tr.size)
	}
	return nil
}

// readAt reads len(buf) bytes at offset.
func (tr *tiffReader) readAt(offset int64, buf []byte) error {
	if _, err := tr.r.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek to %d: %w", offset, err)
	}
	if _, err := io.ReadFull(tr.r, buf); err != nil {
		return fmt.Errorf("failed to read %d bytes at %d: %w", len(buf), offset, err)
	}
	return nil
}

// rawValue returns the undecoded bytes of an entry.
func (tr *tiffReader) rawValue(e tiffEntry) ([]byte, error) {
	size := uint64(e.typ.size()) * uint64(e.count)
	if size <= 4 {
		return e.raw[:size], nil
	}
	offset := uint64(tr.order.Uint32(e.raw[:]))
	if err := tr.checkSpan(offset, size); err != nil {
		return nil, fmt.Errorf("tag %d: %w", e.id, err)
	}
	buf := make([]byte, size)
	if err := tr.readAt(int64(offset), buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// uints decodes an unsigned integer entry.
func (tr *tiffReader) uints(d *ifd, id uint16) ([]uint64, error) {
	e, ok := d.entries[id]
	if !ok {
		return nil, fmt.Errorf("tag %d not found", id)
	}
	raw, err := tr.rawValue(e)
	if err != nil {
		return nil, fmt.Errorf("failed to read tag %d: %w", id, err)
	}

	out := make([]uint64, e.count)
	for i := range out {
		switch e.typ {
		case ftByte, ftUndefined:
			out[i] = uint64(raw[i])
		case ftShort:
			out[i] = uint64(tr.order.Uint16(raw[i*2:]))
		case ftLong:
			out[i] = uint64(tr.order.Uint32(raw[i*4:]))
		default:
			return nil, fmt.Errorf("tag %d has non-integer type %d", id, e.typ)
		}
	}
	return out, nil
}

// uint returns the first value of an integer entry, or def when absent.
func (tr *tiffReader) uint(d *ifd, id uint16, def uint64) (uint64, error) {
	if !d.has(id) {
		return def, nil
	}
	v, err := tr.uints(d, id)
	if err != nil {
		return 0, err
	}
	if len(v) == 0 {
		return def, nil
	}
	return v[0], nil
}

// floats decodes a floating point (or integer) entry.
func (tr *tiffReader) floats(d *ifd, id uint16) ([]float64, error) {
	e, ok := d.entries[id]
	if !ok {
		return nil, nil
	}
	switch e.typ {
	case ftFloat, ftDouble:
	default:
		v, err := tr.uints(d, id)
		if err != nil {
			return nil, err
		}
		out := make([]float64, len(v))
		for i, x := range v {
			out[i] = float64(x)
		}
		return out, nil
	}

	raw, err := tr.rawValue(e)
	if err != nil {
		return nil, fmt.Errorf("failed to read tag %d: %w", id, err)
	}
	out := make([]float64, e.count)
	for i := range out {
		if e.typ == ftFloat {
			out[i] = float64(math.Float32frombits(tr.order.Uint32(raw[i*4:])))
		} else {
			out[i] = math.Float64frombits(tr.order.Uint64(raw[i*8:]))
		}
	}
	return out, nil
}

// bytes returns the raw bytes of an entry, or nil when absent.
func (tr *tiffReader) bytes(d *ifd, id uint16) ([]byte, error) {
	e, ok := d.entries[id]
	if !ok {
		return nil, nil
	}
	raw, err := tr.rawValue(e)
	if err != nil {
		return nil, err
	}
	// Inline values alias the entry; hand out a copy.
	out := make([]byte, len(raw))
	copy(out, raw)
	return out, nil
}
