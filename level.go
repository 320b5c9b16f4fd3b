package gopyramid

import (
	"github.com/paulmach/orb"
)

// Level describes the geometry of one resolution tier of a pyramid.
// Index 0 is full resolution; larger indices are coarser. Indices need not be
// contiguous.
type Level struct {
	Index int

	// Extent is the geographic rectangle covered by the level, in the
	// pyramid's native CRS.
	Extent orb.Bound

	// Width and Height are the level's pixel dimensions covering Extent.
	Width  int
	Height int

	// Tile grid dimensions.
	TilesPerRow    int
	TilesPerColumn int

	// TileWidth and TileHeight are shared by every level of a pyramid.
	TileWidth  int
	TileHeight int

	// XOffset and YOffset locate the level's first pixel inside its tile
	// grid. They are zero when the image starts on a tile boundary.
	XOffset int
	YOffset int
}

// XRes returns the ground distance covered by one pixel along X.
func (l *Level) XRes() float64 {
	return (l.Extent.Max[0] - l.Extent.Min[0]) / float64(l.Width)
}

// YRes returns the ground distance covered by one pixel along Y.
func (l *Level) YRes() float64 {
	return (l.Extent.Max[1] - l.Extent.Min[1]) / float64(l.Height)
}

// PixelBounds returns the level's full pixel rectangle.
func (l *Level) PixelBounds() Rectangle {
	return Rectangle{Width: l.Width, Height: l.Height}
}

// TileGrid returns the full tile range of the level.
func (l *Level) TileGrid() TileRange {
	return TileRange{
		MinColumn: 0,
		MinRow:    0,
		MaxColumn: l.TilesPerRow - 1,
		MaxRow:    l.TilesPerColumn - 1,
	}
}

// RegionBound converts a pixel rectangle of this level to its geographic
// extent. Pixel row 0 is the top of the extent.
func (l *Level) RegionBound(r Rectangle) orb.Bound {
	xRes, yRes := l.XRes(), l.YRes()
	return orb.Bound{
		Min: orb.Point{
			l.Extent.Min[0] + float64(r.X)*xRes,
			l.Extent.Max[1] - float64(r.MaxY())*yRes,
		},
		Max: orb.Point{
			l.Extent.Min[0] + float64(r.MaxX())*xRes,
			l.Extent.Max[1] - float64(r.Y)*yRes,
		},
	}
}

// PointFromPixel converts pixel coordinates to a geographic point
func (l *Level) PointFromPixel(x, y int) orb.Point {
	return orb.Point{
		l.Extent.Min[0] + float64(x)*l.XRes(),
		l.Extent.Max[1] - float64(y)*l.YRes(),
	}
}

// Polygon returns the level extent as a polygon.
func (l *Level) Polygon() orb.Polygon {
	return PolygonFromBounds(l.Extent)
}

func (l *Level) validate() string {
	switch {
	case l.Index < 0:
		return "negative level index"
	case l.Width <= 0 || l.Height <= 0:
		return "level pixel size must be positive"
	case l.TilesPerRow <= 0 || l.TilesPerColumn <= 0:
		return "level tile grid must be positive"
	case l.XOffset < 0 || l.YOffset < 0:
		return "level origin offset must be non-negative"
	case !(l.Extent.Max[0] > l.Extent.Min[0]) || !(l.Extent.Max[1] > l.Extent.Min[1]):
		return "level extent must have positive area"
	}
	return ""
}
