package gopyramid

import (
	"fmt"
	"io"
	"sort"
	"sync"
)

// TileIterator is a finite, order-unspecified sequence of tiles. Next returns
// io.EOF once the sequence is exhausted.
type TileIterator interface {
	Next() (*Tile, error)
	Close() error
}

// TileStore is a session on an external tile store. A session is used by one
// read at a time.
type TileStore interface {
	// Encoding reports the pixel layout of a level.
	Encoding(level int) (EncodingInfo, error)
	// Tiles returns the tiles of the given bands inside r. Tiles that do
	// not exist are simply absent from the sequence.
	Tiles(level int, r TileRange, bands []BandID) (TileIterator, error)
}

// MetadataSource supplies the level geometries of a pyramid.
type MetadataSource interface {
	PyramidMetadata() (PyramidMetadata, error)
}

// TileOrder controls the order in which MemoryStore delivers tiles.
type TileOrder int

const (
	// RowMajor delivers rows top to bottom, bands innermost.
	RowMajor TileOrder = iota
	// ReverseOrder delivers the row-major sequence backwards.
	ReverseOrder
	// BandMajor delivers every tile of the first band, then the next band.
	BandMajor
)

type memoryKey struct {
	level  int
	column int
	row    int
	band   BandID
}

// MemoryStore keeps a whole pyramid in memory. It implements both
// MetadataSource and TileStore and is safe for concurrent use.
type MemoryStore struct {
	mu        sync.RWMutex
	metadata  PyramidMetadata
	encodings map[int]EncodingInfo
	tiles     map[memoryKey][]byte
	order     TileOrder
}

// NewMemoryStore creates an empty store for the given pyramid geometry.
func NewMemoryStore(md PyramidMetadata) *MemoryStore {
	return &MemoryStore{
		metadata:  md,
		encodings: make(map[int]EncodingInfo),
		tiles:     make(map[memoryKey][]byte),
	}
}

// SetOrder changes the delivery order of subsequent Tiles calls.
func (s *MemoryStore) SetOrder(order TileOrder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = order
}

// SetEncoding records the pixel layout of a level.
func (s *MemoryStore) SetEncoding(level int, info EncodingInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.encodings[level] = info
}

// PutTile stores the payload of one band of one tile. A nil or empty payload
// stores a no-data tile.
func (s *MemoryStore) PutTile(level, column, row int, band BandID, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tiles[memoryKey{level: level, column: column, row: row, band: band}] = data
}

// PyramidMetadata implements MetadataSource.
func (s *MemoryStore) PyramidMetadata() (PyramidMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	md := s.metadata
	md.Levels = append([]Level(nil), s.metadata.Levels...)
	return md, nil
}

// Encoding implements TileStore.
func (s *MemoryStore) Encoding(level int) (EncodingInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.encodings[level]
	if !ok {
		return EncodingInfo{}, fmt.Errorf("no encoding recorded for level %d", level)
	}
	return info, nil
}

// Tiles implements TileStore.
func (s *MemoryStore) Tiles(level int, r TileRange, bands []BandID) (TileIterator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.encodings[level]; !ok {
		return nil, fmt.Errorf("unknown level %d", level)
	}

	var out []*Tile
	for row := r.MinRow; row <= r.MaxRow; row++ {
		for col := r.MinColumn; col <= r.MaxColumn; col++ {
			for _, band := range bands {
				data, ok := s.tiles[memoryKey{level: level, column: col, row: row, band: band}]
				if !ok {
					continue
				}
				t := &Tile{Column: col, Row: row, Band: band, Data: data}
				if len(data) > 0 {
					t.PixelCount = s.metadata.TileWidth * s.metadata.TileHeight
				}
				out = append(out, t)
			}
		}
	}

	switch s.order {
	case ReverseOrder:
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	case BandMajor:
		sort.SliceStable(out, func(i, j int) bool { return out[i].Band < out[j].Band })
	}

	return NewSliceIterator(out), nil
}

// SliceIterator delivers a fixed list of tiles.
type SliceIterator struct {
	tiles []*Tile
	pos   int
}

// NewSliceIterator returns an iterator over tiles.
func NewSliceIterator(tiles []*Tile) *SliceIterator {
	return &SliceIterator{tiles: tiles}
}

// Next implements TileIterator.
func (it *SliceIterator) Next() (*Tile, error) {
	if it.pos >= len(it.tiles) {
		return nil, io.EOF
	}
	t := it.tiles[it.pos]
	it.pos++
	return t, nil
}

// Close implements TileIterator.
func (it *SliceIterator) Close() error {
	it.pos = len(it.tiles)
	return nil
}
