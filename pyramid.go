package gopyramid

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
)

// Pyramid is the ordered set of levels of a tiled raster plus the
// pyramid-wide tile size. It is immutable once built and safe for concurrent
// use.
type Pyramid struct {
	tileWidth  int
	tileHeight int
	levels     []*Level
	byIndex    map[int]*Level
}

// PyramidMetadata is what a MetadataSource reports when a pyramid is opened.
type PyramidMetadata struct {
	TileWidth  int
	TileHeight int
	Levels     []Level
}

// NewPyramid builds a pyramid from level geometries. Levels are sorted by
// index and receive the pyramid tile size.
func NewPyramid(tileWidth, tileHeight int, levels []Level) (*Pyramid, error) {
	if tileWidth <= 0 || tileHeight <= 0 {
		return nil, configErr(0, Rectangle{}, "tile size %dx%d must be positive", tileWidth, tileHeight)
	}
	if len(levels) == 0 {
		return nil, configErr(0, Rectangle{}, "pyramid has no levels")
	}

	p := &Pyramid{
		tileWidth:  tileWidth,
		tileHeight: tileHeight,
		levels:     make([]*Level, 0, len(levels)),
		byIndex:    make(map[int]*Level, len(levels)),
	}

	for i := range levels {
		l := levels[i]
		l.TileWidth = tileWidth
		l.TileHeight = tileHeight
		if reason := l.validate(); reason != "" {
			return nil, configErr(l.Index, l.PixelBounds(), "%s", reason)
		}
		if _, dup := p.byIndex[l.Index]; dup {
			return nil, configErr(l.Index, l.PixelBounds(), "duplicate level index")
		}
		p.byIndex[l.Index] = &l
		p.levels = append(p.levels, &l)
	}

	if _, ok := p.byIndex[0]; !ok {
		return nil, configErr(0, Rectangle{}, "pyramid has no full resolution level 0")
	}

	sort.Slice(p.levels, func(i, j int) bool {
		return p.levels[i].Index < p.levels[j].Index
	})

	return p, nil
}

// OpenPyramid reads the level geometries from src once and builds the
// pyramid.
func OpenPyramid(src MetadataSource) (*Pyramid, error) {
	md, err := src.PyramidMetadata()
	if err != nil {
		return nil, &StoreError{Op: "read pyramid metadata", Err: err}
	}
	return NewPyramid(md.TileWidth, md.TileHeight, md.Levels)
}

// TileSize returns the tile width and height shared by all levels.
func (p *Pyramid) TileSize() (int, int) {
	return p.tileWidth, p.tileHeight
}

// LevelCount returns the number of levels.
func (p *Pyramid) LevelCount() int {
	return len(p.levels)
}

// Levels returns the levels in ascending index order.
func (p *Pyramid) Levels() []*Level {
	out := make([]*Level, len(p.levels))
	copy(out, p.levels)
	return out
}

// Level returns the level with the given index.
func (p *Pyramid) Level(index int) (*Level, error) {
	l, ok := p.byIndex[index]
	if !ok {
		return nil, configErr(index, Rectangle{}, "pyramid has no level %d", index)
	}
	return l, nil
}

// Bounds returns the geographic extent of the full resolution level.
func (p *Pyramid) Bounds() orb.Bound {
	return p.byIndex[0].Extent
}

// PickOptimalLevel returns the index of the coarsest level that is still at
// least as fine as the resolution implied by drawing extent into a
// width x height image. Levels are scanned from full resolution and the scan
// stops at the first level that is too coarse, so resolution is expected to
// grow monotonically with the index. Level 0 is returned when nothing
// qualifies.
func (p *Pyramid) PickOptimalLevel(extent orb.Bound, width, height int) int {
	if width <= 0 || height <= 0 {
		return 0
	}

	reqXRes := (extent.Max[0] - extent.Min[0]) / float64(width)
	reqYRes := (extent.Max[1] - extent.Min[1]) / float64(height)

	best := 0
	for _, l := range p.levels {
		if reqXRes >= l.XRes() && reqYRes >= l.YRes() {
			best = l.Index
			continue
		}
		break
	}
	return best
}

// FitExtentToPixelGrid returns the smallest pixel rectangle of the given
// level that contains extent, and the geographic extent of that rectangle.
// The result is not clamped to the level; it may start at negative pixels or
// run past the level's size.
func (p *Pyramid) FitExtentToPixelGrid(extent orb.Bound, level int) (Rectangle, orb.Bound, error) {
	l, err := p.Level(level)
	if err != nil {
		return Rectangle{}, orb.Bound{}, err
	}

	xRes, yRes := l.XRes(), l.YRes()

	xMin := int(math.Floor((extent.Min[0] - l.Extent.Min[0]) / xRes))
	xMax := int(math.Ceil((extent.Max[0] - l.Extent.Min[0]) / xRes))
	// Y is inverted: pixel row 0 is the top of the extent
	yMin := int(math.Floor((l.Extent.Max[1] - extent.Max[1]) / yRes))
	yMax := int(math.Ceil((l.Extent.Max[1] - extent.Min[1]) / yRes))

	region := Rectangle{X: xMin, Y: yMin, Width: xMax - xMin, Height: yMax - yMin}
	return region, l.RegionBound(region), nil
}
