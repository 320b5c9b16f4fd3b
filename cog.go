package gopyramid

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zlib"
	"github.com/paulmach/orb"
	"github.com/valyala/fasthttp"
	"golang.org/x/image/tiff/lzw"
)

// COGStore exposes a tiled (Cloud Optimized) GeoTIFF as a pyramid: the full
// resolution image is level 0 and each reduced resolution image is the next
// level. It implements MetadataSource and TileStore.
//
// A COGStore owns a single reader and is a session in the TileStore sense:
// it must not be used by concurrent reads.
type COGStore struct {
	reader io.ReadSeeker
	tr     *tiffReader
	levels []*cogLevel
	extent orb.Bound
	crs    string
}

// cogLevel is one image directory used as a pyramid level.
type cogLevel struct {
	dir           *ifd
	width         int
	height        int
	tileWidth     int
	tileHeight    int
	tilesAcross   int
	tilesDown     int
	bands         int
	bitsPerSample int
	signed        bool
	planar        bool
	compression   uint64
	predictor     uint64
	photometric   uint64
	colorMap      color.Palette
	jpegTables    []byte

	// Loaded on first tile access.
	offsets    []uint64
	byteCounts []uint64
}

// Open opens a COG from a file path or URL and reads its directories (not
// the image data). Inputs starting with http:// or https:// are read with
// HTTP range requests through client, which may be nil.
func Open(pathOrURL string, client *fasthttp.Client) (*COGStore, error) {
	if strings.HasPrefix(pathOrURL, "http://") || strings.HasPrefix(pathOrURL, "https://") {
		rr, err := NewHTTPRangeReader(pathOrURL, client)
		if err != nil {
			return nil, err
		}
		return NewCOGStore(rr)
	}

	file, err := os.Open(pathOrURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	s, err := NewCOGStore(file)
	if err != nil {
		file.Close()
		return nil, err
	}
	return s, nil
}

// NewCOGStore reads the directories of a tiled TIFF from r.
func NewCOGStore(r io.ReadSeeker) (*COGStore, error) {
	tr, err := newTIFFReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create TIFF reader: %w", err)
	}

	s := &COGStore{reader: r, tr: tr}
	for i, d := range tr.ifds {
		subfile, err := tr.uint(d, tagNewSubfileType, 0)
		if err != nil {
			return nil, fmt.Errorf("IFD %d: %w", i, err)
		}
		if subfile&4 != 0 { // transparency mask
			continue
		}
		if i > 0 && subfile&1 == 0 { // further page, not an overview
			continue
		}

		lvl, err := s.readLevel(d)
		if err != nil {
			return nil, fmt.Errorf("failed to read IFD %d: %w", i, err)
		}
		if len(s.levels) > 0 {
			first := s.levels[0]
			if lvl.tileWidth != first.tileWidth || lvl.tileHeight != first.tileHeight {
				return nil, fmt.Errorf("IFD %d: tile size %dx%d differs from full resolution %dx%d",
					i, lvl.tileWidth, lvl.tileHeight, first.tileWidth, first.tileHeight)
			}
		}
		s.levels = append(s.levels, lvl)
	}
	if len(s.levels) == 0 {
		return nil, fmt.Errorf("no image directories")
	}

	full := s.levels[0]
	geo, err := readGeoreference(tr, full.dir)
	if err != nil {
		return nil, err
	}
	if geo != nil {
		s.extent = geo.bounds(full.width, full.height)
		s.crs = geo.crs
	} else {
		// Not georeferenced: use pixel space, Y up.
		s.extent = orb.Bound{Max: orb.Point{float64(full.width), float64(full.height)}}
	}

	return s, nil
}

func (s *COGStore) readLevel(d *ifd) (*cogLevel, error) {
	if !d.has(tagTileWidth) || !d.has(tagTileOffsets) {
		return nil, fmt.Errorf("image is not tiled")
	}

	var err error
	get := func(id uint16, def uint64) int {
		if err != nil {
			return 0
		}
		var v uint64
		v, err = s.tr.uint(d, id, def)
		return int(v)
	}
	lvl := &cogLevel{
		dir:           d,
		width:         get(tagImageWidth, 0),
		height:        get(tagImageLength, 0),
		tileWidth:     get(tagTileWidth, 0),
		tileHeight:    get(tagTileLength, 0),
		bands:         get(tagSamplesPerPixel, 1),
		bitsPerSample: get(tagBitsPerSample, 1),
		planar:        get(tagPlanarConfig, 1) == 2,
		signed:        get(tagSampleFormat, 1) == 2,
	}
	lvl.compression = uint64(get(tagCompression, CompressionNone))
	lvl.predictor = uint64(get(tagPredictor, 1))
	lvl.photometric = uint64(get(tagPhotometric, 1))
	if err != nil {
		return nil, err
	}

	if lvl.width <= 0 || lvl.height <= 0 || lvl.tileWidth <= 0 || lvl.tileHeight <= 0 {
		return nil, fmt.Errorf("invalid image %dx%d with tiles %dx%d", lvl.width, lvl.height, lvl.tileWidth, lvl.tileHeight)
	}
	lvl.tilesAcross = (lvl.width + lvl.tileWidth - 1) / lvl.tileWidth
	lvl.tilesDown = (lvl.height + lvl.tileHeight - 1) / lvl.tileHeight

	if lvl.photometric == photometricPalette && d.has(tagColorMap) {
		lvl.colorMap, err = s.readColorMap(d, lvl.bitsPerSample)
		if err != nil {
			return nil, err
		}
	}
	if lvl.jpegTables, err = s.tr.bytes(d, tagJPEGTables); err != nil {
		return nil, fmt.Errorf("failed to read JPEGTables: %w", err)
	}

	return lvl, nil
}

// readColorMap converts the 16-bit TIFF color table (all reds, then all
// greens, then all blues) to a palette.
func (s *COGStore) readColorMap(d *ifd, bits int) (color.Palette, error) {
	values, err := s.tr.uints(d, tagColorMap)
	if err != nil {
		return nil, fmt.Errorf("failed to read ColorMap: %w", err)
	}
	n := 1 << bits
	if len(values) < 3*n {
		return nil, fmt.Errorf("ColorMap has %d entries, need %d", len(values), 3*n)
	}
	p := make(color.Palette, n)
	for i := 0; i < n; i++ {
		p[i] = color.RGBA{
			R: uint8(values[i] >> 8),
			G: uint8(values[n+i] >> 8),
			B: uint8(values[2*n+i] >> 8),
			A: 0xFF,
		}
	}
	return p, nil
}

// Close closes the underlying reader when it is closable and releases the
// read-ahead window of remote readers.
func (s *COGStore) Close() error {
	if rr, ok := s.reader.(*HTTPRangeReader); ok {
		rr.ClearBuffer()
		return nil
	}
	if c, ok := s.reader.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// CRS returns the Coordinate Reference System, or "" when unknown.
func (s *COGStore) CRS() string {
	return s.crs
}

// Bounds returns the geographic bounding box of the full resolution image.
func (s *COGStore) Bounds() orb.Bound {
	return s.extent
}

// PyramidMetadata implements MetadataSource. Every level covers the full
// resolution extent.
func (s *COGStore) PyramidMetadata() (PyramidMetadata, error) {
	md := PyramidMetadata{
		TileWidth:  s.levels[0].tileWidth,
		TileHeight: s.levels[0].tileHeight,
		Levels:     make([]Level, len(s.levels)),
	}
	for i, l := range s.levels {
		md.Levels[i] = Level{
			Index:          i,
			Extent:         s.extent,
			Width:          l.width,
			Height:         l.height,
			TilesPerRow:    l.tilesAcross,
			TilesPerColumn: l.tilesDown,
			TileWidth:      l.tileWidth,
			TileHeight:     l.tileHeight,
		}
	}
	return md, nil
}

func (s *COGStore) level(index int) (*cogLevel, error) {
	if index < 0 || index >= len(s.levels) {
		return nil, fmt.Errorf("invalid overview level: %d", index)
	}
	return s.levels[index], nil
}

// Encoding implements TileStore.
func (s *COGStore) Encoding(level int) (EncodingInfo, error) {
	l, err := s.level(level)
	if err != nil {
		return EncodingInfo{}, err
	}
	return EncodingInfo{
		BitsPerSample: l.bitsPerSample,
		Signed:        l.signed,
		BandCount:     l.bands,
		ColorMap:      l.colorMap,
	}, nil
}

// Tiles implements TileStore. Tiles are delivered row by row; missing
// (sparse) tiles are delivered as empty tiles.
func (s *COGStore) Tiles(level int, r TileRange, bands []BandID) (TileIterator, error) {
	l, err := s.level(level)
	if err != nil {
		return nil, err
	}
	for _, b := range bands {
		if b < 1 || int(b) > l.bands {
			return nil, fmt.Errorf("band %d out of range [1,%d]", b, l.bands)
		}
	}
	if err := s.loadTileIndex(l); err != nil {
		return nil, err
	}

	r = r.Intersect(TileRange{MaxColumn: l.tilesAcross - 1, MaxRow: l.tilesDown - 1})
	return &cogTileIterator{store: s, level: l, rng: r, bands: bands, col: r.MinColumn, row: r.MinRow}, nil
}

func (s *COGStore) loadTileIndex(l *cogLevel) error {
	if l.offsets != nil {
		return nil
	}
	offsets, err := s.tr.uints(l.dir, tagTileOffsets)
	if err != nil {
		return fmt.Errorf("failed to read tile offsets: %w", err)
	}
	counts, err := s.tr.uints(l.dir, tagTileByteCounts)
	if err != nil {
		return fmt.Errorf("failed to read tile byte counts: %w", err)
	}
	want := l.tilesAcross * l.tilesDown
	if l.planar {
		want *= l.bands
	}
	if len(offsets) < want || len(counts) < want {
		return fmt.Errorf("tile index has %d offsets and %d byte counts, need %d", len(offsets), len(counts), want)
	}
	l.offsets, l.byteCounts = offsets, counts
	return nil
}

// cogTileIterator reads one tile position at a time. For chunky images the
// decoded tile is split into one Tile per requested band.
type cogTileIterator struct {
	store   *COGStore
	level   *cogLevel
	rng     TileRange
	bands   []BandID
	col     int
	row     int
	pending []*Tile
}

func (it *cogTileIterator) Next() (*Tile, error) {
	for len(it.pending) == 0 {
		if it.rng.Empty() || it.row > it.rng.MaxRow {
			return nil, io.EOF
		}
		tiles, err := it.store.readPosition(it.level, it.col, it.row, it.bands)
		if err != nil {
			return nil, err
		}
		it.pending = tiles

		it.col++
		if it.col > it.rng.MaxColumn {
			it.col = it.rng.MinColumn
			it.row++
		}
	}
	t := it.pending[0]
	it.pending = it.pending[1:]
	return t, nil
}

func (it *cogTileIterator) Close() error {
	it.pending = nil
	it.row = it.rng.MaxRow + 1
	return nil
}

// readPosition returns the requested bands of the tile at col, row.
func (s *COGStore) readPosition(l *cogLevel, col, row int, bands []BandID) ([]*Tile, error) {
	index := row*l.tilesAcross + col
	out := make([]*Tile, 0, len(bands))

	if l.planar {
		for _, b := range bands {
			data, err := s.readTile(l, index+(int(b)-1)*l.tilesAcross*l.tilesDown, 1)
			if err != nil {
				return nil, fmt.Errorf("tile %d,%d band %d: %w", col, row, b, err)
			}
			out = append(out, newTile(l, col, row, b, data))
		}
		return out, nil
	}

	data, err := s.readTile(l, index, l.bands)
	if err != nil {
		return nil, fmt.Errorf("tile %d,%d: %w", col, row, err)
	}
	if l.bands == 1 || data == nil {
		for _, b := range bands {
			out = append(out, newTile(l, col, row, b, data))
		}
		return out, nil
	}

	// Split band-interleaved samples (8-bit only: ResolveEncoding admits
	// nothing else with several bands).
	n := l.tileWidth * l.tileHeight
	for _, b := range bands {
		plane := make([]byte, n)
		for i, j := 0, int(b)-1; i < n; i, j = i+1, j+l.bands {
			plane[i] = data[j]
		}
		out = append(out, newTile(l, col, row, b, plane))
	}
	return out, nil
}

func newTile(l *cogLevel, col, row int, band BandID, data []byte) *Tile {
	t := &Tile{Column: col, Row: row, Band: band, Data: data}
	if data != nil {
		t.PixelCount = l.tileWidth * l.tileHeight
	}
	return t
}

// tileBytes returns the decoded size of one tile holding samples bands.
func (l *cogLevel) tileBytes(samples int) int {
	rowBytes := (l.tileWidth*samples*l.bitsPerSample + 7) / 8
	return rowBytes * l.tileHeight
}

// readTile reads and decodes tile index. A tile with no bytes is sparse and
// returns nil data.
func (s *COGStore) readTile(l *cogLevel, index, samples int) ([]byte, error) {
	offset, size := l.offsets[index], l.byteCounts[index]
	if offset == 0 || size == 0 {
		return nil, nil
	}
	if err := s.tr.checkSpan(offset, size); err != nil {
		return nil, fmt.Errorf("tile %d: %w", index, err)
	}

	if l.compression == CompressionNone {
		data := make([]byte, size)
		if err := s.tr.readAt(int64(offset), data); err != nil {
			return nil, err
		}
		return l.finish(data, samples)
	}

	// Read tile data using pooled buffer
	raw := GetBuffer(int(size))
	defer PutBuffer(raw)
	if err := s.tr.readAt(int64(offset), raw); err != nil {
		return nil, err
	}

	data, err := l.decompress(raw, samples)
	if err != nil {
		return nil, err
	}
	return l.finish(data, samples)
}

// finish checks the decoded size, undoes the horizontal predictor and turns
// WhiteIsZero samples into the BlackIsZero form the copiers expect.
func (l *cogLevel) finish(data []byte, samples int) ([]byte, error) {
	expected := l.tileBytes(samples)
	if len(data) < expected {
		return nil, fmt.Errorf("decoded tile has %d bytes, expected %d", len(data), expected)
	}
	data = data[:expected]

	if l.predictor == 2 && l.bitsPerSample == 8 {
		rowLen := l.tileWidth * samples
		for y := 0; y < l.tileHeight; y++ {
			row := data[y*rowLen : (y+1)*rowLen]
			for i := samples; i < rowLen; i++ {
				row[i] += row[i-samples]
			}
		}
	}

	if l.photometric == photometricWhiteIsZero && l.bands == 1 {
		for i := range data {
			data[i] = ^data[i]
		}
	}
	return data, nil
}

// decompress decompresses tile data based on compression type
func (l *cogLevel) decompress(data []byte, samples int) ([]byte, error) {
	switch l.compression {
	case CompressionLZW:
		r := lzw.NewReader(bytes.NewReader(data), lzw.MSB, 8)
		defer r.Close()
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress LZW tile: %w", err)
		}
		return out, nil

	case CompressionDeflate, CompressionAdobeDeflate:
		r, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to decompress Deflate tile: %w", err)
		}
		defer r.Close()
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress Deflate tile: %w", err)
		}
		return out, nil

	case CompressionPackBits:
		return unpackBits(data, l.tileBytes(samples))

	case CompressionJPEG, CompressionOldJPEG:
		return l.decodeJPEG(data, samples)

	default:
		return nil, fmt.Errorf("unsupported compression type: %d", l.compression)
	}
}

// unpackBits decodes PackBits run-length data.
func unpackBits(data []byte, expected int) ([]byte, error) {
	out := make([]byte, 0, expected)
	for i := 0; i < len(data) && len(out) < expected; {
		n := int(int8(data[i]))
		i++
		switch {
		case n >= 0:
			if i+n+1 > len(data) {
				return nil, fmt.Errorf("truncated PackBits literal run")
			}
			out = append(out, data[i:i+n+1]...)
			i += n + 1
		case n != -128:
			if i >= len(data) {
				return nil, fmt.Errorf("truncated PackBits repeat run")
			}
			for k := 0; k < 1-n; k++ {
				out = append(out, data[i])
			}
			i++
		}
	}
	return out, nil
}

// decodeJPEG decodes a JPEG tile, prefixed with the shared JPEGTables when
// present, into interleaved 8-bit samples.
func (l *cogLevel) decodeJPEG(data []byte, samples int) ([]byte, error) {
	stream := data
	if len(l.jpegTables) > 4 && len(data) > 2 {
		// tables without EOI + tile without SOI
		stream = make([]byte, 0, len(l.jpegTables)+len(data))
		stream = append(stream, l.jpegTables[:len(l.jpegTables)-2]...)
		stream = append(stream, data[2:]...)
	}

	img, err := jpeg.Decode(bytes.NewReader(stream))
	if err != nil {
		return nil, fmt.Errorf("failed to decode JPEG tile: %w", err)
	}

	out := make([]byte, l.tileWidth*l.tileHeight*samples)
	b := img.Bounds()
	w, h := min(b.Dx(), l.tileWidth), min(b.Dy(), l.tileHeight)

	if gray, ok := img.(*image.Gray); ok && samples == 1 {
		for y := 0; y < h; y++ {
			copy(out[y*l.tileWidth:y*l.tileWidth+w], gray.Pix[y*gray.Stride:])
		}
		return out, nil
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl, a := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			o := (y*l.tileWidth + x) * samples
			if samples < 3 {
				out[o] = uint8(r >> 8)
				continue
			}
			out[o], out[o+1], out[o+2] = uint8(r>>8), uint8(g>>8), uint8(bl>>8)
			if samples == 4 {
				out[o+3] = uint8(a >> 8)
			}
		}
	}
	return out, nil
}
