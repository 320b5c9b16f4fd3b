package gopyramid

import (
	"image"
)

// BandMapper maps a store band to the destination raster band (0-based) it
// is written to.
type BandMapper map[BandID]int

// IdentityBandMapper maps the i-th requested band to destination band i.
func IdentityBandMapper(bands []BandID) BandMapper {
	m := make(BandMapper, len(bands))
	for i, b := range bands {
		m[b] = i
	}
	return m
}

// ReadRequest describes one read of a pixel region of one pyramid level.
type ReadRequest struct {
	// Level is the index of the pyramid level to read.
	Level int
	// Region is expressed in the level's full pixel space, origin top-left.
	Region Rectangle
	// Bands lists the store bands to read, in order.
	Bands []BandID
	// BandMapper must hold exactly one entry per requested band.
	BandMapper BandMapper
	// Destination is written in place when set; otherwise a raster of
	// DestinationOffset + Region size is allocated.
	Destination *Raster
	// DestinationOffset is where the top-left pixel of Region lands.
	DestinationOffset image.Point
	// Session is the tile store the tiles are fetched from.
	Session TileStore
}

// Validate checks the request for structural errors. Encoding dependent
// checks are done by the Assembler before any tile is fetched.
func (r *ReadRequest) Validate() error {
	switch {
	case r.Session == nil:
		return configErr(r.Level, r.Region, "no tile store session")
	case r.Region.Empty():
		return configErr(r.Level, r.Region, "region must have positive size")
	case len(r.Bands) == 0:
		return configErr(r.Level, r.Region, "no bands requested")
	case r.DestinationOffset.X < 0 || r.DestinationOffset.Y < 0:
		return configErr(r.Level, r.Region, "negative destination offset %v", r.DestinationOffset)
	case len(r.BandMapper) != len(r.Bands):
		return configErr(r.Level, r.Region, "band mapper has %d entries for %d bands", len(r.BandMapper), len(r.Bands))
	}

	seen := make(map[BandID]struct{}, len(r.Bands))
	for _, b := range r.Bands {
		if b < 1 {
			return configErr(r.Level, r.Region, "band identifier %d is not 1-based", b)
		}
		if _, dup := seen[b]; dup {
			return configErr(r.Level, r.Region, "band %d requested twice", b)
		}
		seen[b] = struct{}{}

		target, ok := r.BandMapper[b]
		if !ok {
			return configErr(r.Level, r.Region, "band mapper has no entry for band %d", b)
		}
		if target < 0 {
			return configErr(r.Level, r.Region, "band %d mapped to negative band %d", b, target)
		}
	}
	return nil
}
