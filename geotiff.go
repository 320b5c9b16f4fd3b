package gopyramid

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

// GeoTIFF tag IDs
const (
	TagModelPixelScale     = 33550
	TagModelTiepoint       = 33922
	TagModelTransformation = 34264
	TagGeoKeyDirectory     = 34735
)

// GeoKeys
const (
	GeographicTypeGeoKey  = 2048
	ProjectedCSTypeGeoKey = 3072
)

// georeference maps pixel coordinates of the full resolution image to the
// native CRS.
type georeference struct {
	scale        [3]float64
	tiepoint     [6]float64 // pixel x, y, z, geo x, y, z
	hasTiepoint  bool
	transform    [16]float64
	hasTransform bool
	crs          string
}

// readGeoreference reads ModelPixelScale, ModelTiepoint, ModelTransformation
// and the CRS GeoKeys of d. It returns nil when d is not georeferenced.
func readGeoreference(tr *tiffReader, d *ifd) (*georeference, error) {
	g := &georeference{}

	scale, err := tr.floats(d, TagModelPixelScale)
	if err != nil {
		return nil, fmt.Errorf("failed to read ModelPixelScale: %w", err)
	}
	tie, err := tr.floats(d, TagModelTiepoint)
	if err != nil {
		return nil, fmt.Errorf("failed to read ModelTiepoint: %w", err)
	}
	if len(scale) >= 2 && len(tie) >= 6 && scale[0] != 0 && scale[1] != 0 {
		copy(g.scale[:], scale)
		copy(g.tiepoint[:], tie[:6])
		g.hasTiepoint = true
	}

	transform, err := tr.floats(d, TagModelTransformation)
	if err != nil {
		return nil, fmt.Errorf("failed to read ModelTransformation: %w", err)
	}
	if len(transform) >= 16 {
		copy(g.transform[:], transform[:16])
		g.hasTransform = true
	}

	if !g.hasTiepoint && !g.hasTransform {
		return nil, nil
	}

	if d.has(TagGeoKeyDirectory) {
		keys, err := tr.uints(d, TagGeoKeyDirectory)
		if err != nil {
			return nil, fmt.Errorf("failed to read GeoKeyDirectory: %w", err)
		}
		g.crs = crsFromGeoKeys(keys)
	}

	return g, nil
}

// crsFromGeoKeys returns "EPSG:<code>" from the projected or geographic type
// key. Only keys stored directly in the directory are considered.
func crsFromGeoKeys(keys []uint64) string {
	if len(keys) < 4 {
		return ""
	}
	// Header: version, revision, minor revision, number of keys; then
	// (keyID, location, count, value) per key.
	var projected, geographic uint64
	n := int(keys[3])
	for i := 0; i < n && 4+i*4+3 < len(keys); i++ {
		k := keys[4+i*4 : 4+i*4+4]
		if k[1] != 0 {
			continue
		}
		switch k[0] {
		case ProjectedCSTypeGeoKey:
			projected = k[3]
		case GeographicTypeGeoKey:
			geographic = k[3]
		}
	}

	// 32767 is "user defined"
	switch {
	case projected != 0 && projected != 32767:
		return fmt.Sprintf("EPSG:%d", projected)
	case geographic != 0 && geographic != 32767:
		return fmt.Sprintf("EPSG:%d", geographic)
	}
	return ""
}

// pixelToGeo converts pixel coordinates to geographic coordinates
func (g *georeference) pixelToGeo(x, y float64) (float64, float64) {
	if g.hasTransform {
		t := g.transform
		return t[0]*x + t[1]*y + t[3], t[4]*x + t[5]*y + t[7]
	}
	tp := g.tiepoint
	// Y is inverted
	return tp[3] + (x-tp[0])*g.scale[0], tp[4] - (y-tp[1])*g.scale[1]
}

// bounds returns the bounding box of a width x height image.
func (g *georeference) bounds(width, height int) orb.Bound {
	w, h := float64(width), float64(height)
	x0, y0 := g.pixelToGeo(0, 0)
	x1, y1 := g.pixelToGeo(w, 0)
	x2, y2 := g.pixelToGeo(0, h)
	x3, y3 := g.pixelToGeo(w, h)

	return orb.Bound{
		Min: orb.Point{math.Min(math.Min(x0, x1), math.Min(x2, x3)), math.Min(math.Min(y0, y1), math.Min(y2, y3))},
		Max: orb.Point{math.Max(math.Max(x0, x1), math.Max(x2, x3)), math.Max(math.Max(y0, y1), math.Max(y2, y3))},
	}
}

// ParseEPSGCode extracts EPSG code from CRS string
func ParseEPSGCode(crs string) (int, error) {
	if strings.HasPrefix(crs, "EPSG:") {
		code, err := strconv.Atoi(crs[5:])
		if err != nil {
			return 0, err
		}
		return code, nil
	}
	return 0, fmt.Errorf("invalid CRS format: %s", crs)
}
