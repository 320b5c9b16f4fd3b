package gopyramid

import (
	"fmt"
)

// BandID identifies a band of the tile store. Band identifiers are 1-based.
type BandID int

// Tile is one band of one tile as delivered by a tile store. PixelCount is
// the number of pixels the tile holds (tile width times height), or 0 for
// no-data placeholder tiles, whose Data is ignored.
type Tile struct {
	Column     int
	Row        int
	Band       BandID
	Data       []byte
	PixelCount int
}

// Position returns the tile's grid position and band.
func (t *Tile) Position() TilePosition {
	return TilePosition{Column: t.Column, Row: t.Row, Band: t.Band}
}

// TileRange is an inclusive range of tile columns and rows.
type TileRange struct {
	MinColumn int
	MinRow    int
	MaxColumn int
	MaxRow    int
}

// Empty reports whether the range holds no tiles.
func (r TileRange) Empty() bool {
	return r.MaxColumn < r.MinColumn || r.MaxRow < r.MinRow
}

// Contains reports whether the tile at column, row is inside the range.
func (r TileRange) Contains(column, row int) bool {
	return column >= r.MinColumn && column <= r.MaxColumn && row >= r.MinRow && row <= r.MaxRow
}

// Count returns the number of tile positions in the range.
func (r TileRange) Count() int {
	if r.Empty() {
		return 0
	}
	return (r.MaxColumn - r.MinColumn + 1) * (r.MaxRow - r.MinRow + 1)
}

// Intersect returns the tiles present in both ranges.
func (r TileRange) Intersect(o TileRange) TileRange {
	return TileRange{
		MinColumn: max(r.MinColumn, o.MinColumn),
		MinRow:    max(r.MinRow, o.MinRow),
		MaxColumn: min(r.MaxColumn, o.MaxColumn),
		MaxRow:    min(r.MaxRow, o.MaxRow),
	}
}

func (r TileRange) String() string {
	return fmt.Sprintf("[%d..%d]x[%d..%d]", r.MinColumn, r.MaxColumn, r.MinRow, r.MaxRow)
}
