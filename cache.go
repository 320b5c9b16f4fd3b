package gopyramid

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the number of band tiles a CachingStore keeps when no
// size is given.
const DefaultCacheSize = 1024

type cacheKey struct {
	level  int
	column int
	row    int
	band   BandID
}

// CachingStore keeps recently read tiles of a wrapped TileStore in an LRU.
// A range is served from the cache only when every tile of it is cached;
// otherwise the wrapped store is asked and the delivered tiles are recorded.
// Tiles the wrapped store does not deliver are never cached, so a partially
// populated range always goes back to the store.
type CachingStore struct {
	inner TileStore
	tiles *lru.Cache[cacheKey, *Tile]

	mu        sync.Mutex
	encodings map[int]EncodingInfo
}

// NewCachingStore wraps inner with an LRU of size tiles.
func NewCachingStore(inner TileStore, size int) (*CachingStore, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c, err := lru.New[cacheKey, *Tile](size)
	if err != nil {
		return nil, err
	}
	return &CachingStore{inner: inner, tiles: c, encodings: make(map[int]EncodingInfo)}, nil
}

// Encoding implements TileStore.
func (s *CachingStore) Encoding(level int) (EncodingInfo, error) {
	s.mu.Lock()
	info, ok := s.encodings[level]
	s.mu.Unlock()
	if ok {
		return info, nil
	}

	info, err := s.inner.Encoding(level)
	if err != nil {
		return EncodingInfo{}, err
	}

	s.mu.Lock()
	s.encodings[level] = info
	s.mu.Unlock()
	return info, nil
}

// Tiles implements TileStore.
func (s *CachingStore) Tiles(level int, r TileRange, bands []BandID) (TileIterator, error) {
	if cached, ok := s.lookup(level, r, bands); ok {
		return NewSliceIterator(cached), nil
	}

	it, err := s.inner.Tiles(level, r, bands)
	if err != nil {
		return nil, err
	}
	return &recordingIterator{inner: it, level: level, cache: s.tiles}, nil
}

// Len returns the number of cached tiles.
func (s *CachingStore) Len() int {
	return s.tiles.Len()
}

// Purge drops every cached tile and encoding.
func (s *CachingStore) Purge() {
	s.tiles.Purge()
	s.mu.Lock()
	s.encodings = make(map[int]EncodingInfo)
	s.mu.Unlock()
}

func (s *CachingStore) lookup(level int, r TileRange, bands []BandID) ([]*Tile, bool) {
	if r.Empty() {
		return nil, true
	}
	out := make([]*Tile, 0, r.Count()*len(bands))
	for row := r.MinRow; row <= r.MaxRow; row++ {
		for col := r.MinColumn; col <= r.MaxColumn; col++ {
			for _, band := range bands {
				t, ok := s.tiles.Get(cacheKey{level: level, column: col, row: row, band: band})
				if !ok {
					return nil, false
				}
				out = append(out, t)
			}
		}
	}
	return out, true
}

// recordingIterator passes tiles through and adds each to the cache.
type recordingIterator struct {
	inner TileIterator
	level int
	cache *lru.Cache[cacheKey, *Tile]
}

func (it *recordingIterator) Next() (*Tile, error) {
	t, err := it.inner.Next()
	if err != nil {
		return nil, err
	}
	it.cache.Add(cacheKey{level: it.level, column: t.Column, row: t.Row, band: t.Band}, t)
	return t, nil
}

func (it *recordingIterator) Close() error {
	return it.inner.Close()
}
