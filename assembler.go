package gopyramid

import (
	"errors"
	"io"
	"time"

	"github.com/paulmach/orb"
	"github.com/rs/zerolog"
)

// AssemblerOptions configures an Assembler. Nil fields use defaults.
type AssemblerOptions struct {
	// Logger receives per-read debug events and geometry warnings.
	// Defaults to a disabled logger.
	Logger *zerolog.Logger
	// Metrics, when set, is updated by every read.
	Metrics *Metrics
}

// Assembler composites pyramid tiles into destination rasters. It holds no
// per-read state and may be used concurrently, provided every concurrent
// read uses its own tile store session.
type Assembler struct {
	pyramid *Pyramid
	log     zerolog.Logger
	metrics *Metrics
}

// NewAssembler creates an assembler reading from p.
func NewAssembler(p *Pyramid, opts *AssemblerOptions) *Assembler {
	a := &Assembler{pyramid: p, log: zerolog.Nop()}
	if opts != nil {
		if opts.Logger != nil {
			a.log = *opts.Logger
		}
		a.metrics = opts.Metrics
	}
	return a
}

// Pyramid returns the pyramid the assembler reads from.
func (a *Assembler) Pyramid() *Pyramid {
	return a.pyramid
}

// readPlan is everything computed for a request before the first tile is
// fetched.
type readPlan struct {
	level   *Level
	region  Rectangle
	enc     PixelEncoding
	copier  BandCopier
	dst     *Raster
	window  Rectangle // sub-region of dst receiving region
	tiles   TileRange // tiles intersecting the region, max clamped to the grid
	fetch   TileRange // tiles actually requested from the store
	gridOff [2]int    // leading sub-tile offset in x and y
}

// Read fetches the tiles intersecting req.Region and composites them into
// the destination raster, which is returned. Tiles are processed one at a
// time in the order the store delivers them. Destination pixels outside the
// level, or covered only by no-data tiles, are left untouched.
func (a *Assembler) Read(req *ReadRequest) (raster *Raster, err error) {
	start := time.Now()
	defer func() {
		a.metrics.observeRead(err, time.Since(start).Seconds())
	}()

	plan, err := a.plan(req)
	if err != nil {
		return nil, err
	}

	log := a.log.With().
		Int("pyramid_level", plan.level.Index).
		Stringer("region", plan.region).
		Stringer("tiles", plan.tiles).
		Logger()

	if !plan.level.PixelBounds().Contains(plan.region) {
		a.metrics.incGeometryWarning()
		log.Warn().
			Int("level_width", plan.level.Width).
			Int("level_height", plan.level.Height).
			Msg("region extends outside level; uncovered pixels are left untouched")
	}

	if plan.fetch.Empty() {
		log.Debug().Msg("no tiles intersect the level")
		return plan.dst, nil
	}

	it, err := req.Session.Tiles(plan.level.Index, plan.fetch, req.Bands)
	if err != nil {
		return nil, &StoreError{Op: "fetch tiles", Level: plan.level.Index, Region: plan.region, Err: err}
	}
	defer it.Close()

	var copied, skipped int
	for {
		tile, err := it.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &StoreError{Op: "read tile", Level: plan.level.Index, Region: plan.region, Err: err}
		}

		ok, err := a.composite(plan, req.BandMapper, tile)
		if err != nil {
			return nil, err
		}
		if ok {
			copied++
		} else {
			skipped++
		}
	}

	log.Debug().
		Int("copied", copied).
		Int("skipped", skipped).
		Dur("elapsed", time.Since(start)).
		Msg("raster read")

	return plan.dst, nil
}

// ReadRegion reads extent at the level best suited to an output of
// width x height pixels. The extent is snapped to that level's pixel grid;
// the returned raster is at level resolution and its Bounds hold the snapped
// extent. Band i of the raster receives bands[i].
func (a *Assembler) ReadRegion(session TileStore, extent orb.Bound, width, height int, bands []BandID) (*Raster, error) {
	level := a.pyramid.PickOptimalLevel(extent, width, height)
	region, snapped, err := a.pyramid.FitExtentToPixelGrid(extent, level)
	if err != nil {
		return nil, err
	}

	r, err := a.Read(&ReadRequest{
		Level:      level,
		Region:     region,
		Bands:      bands,
		BandMapper: IdentityBandMapper(bands),
		Session:    session,
	})
	if err != nil {
		return nil, err
	}
	r.Bounds = snapped
	return r, nil
}

// plan validates req and computes the destination window and tile ranges.
// It performs no tile fetch.
func (a *Assembler) plan(req *ReadRequest) (*readPlan, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	level, err := a.pyramid.Level(req.Level)
	if err != nil {
		return nil, err
	}
	region := req.Region

	info, err := req.Session.Encoding(level.Index)
	if err != nil {
		return nil, &StoreError{Op: "read encoding", Level: level.Index, Region: region, Err: err}
	}
	enc, err := ResolveEncoding(info)
	if err != nil {
		var ce *ConfigurationError
		if errors.As(err, &ce) {
			ce.Level, ce.Region = level.Index, region
		}
		return nil, err
	}

	targets := make(map[int]BandID, len(req.Bands))
	for _, b := range req.Bands {
		if int(b) > info.BandCount {
			return nil, configErr(level.Index, region, "band %d requested, level has %d band(s)", b, info.BandCount)
		}
		t := req.BandMapper[b]
		if t >= enc.WritableBands() {
			return nil, configErr(level.Index, region, "band %d mapped to band %d, %s has %d writable band(s)",
				b, t, enc, enc.WritableBands())
		}
		if other, dup := targets[t]; dup {
			return nil, configErr(level.Index, region, "bands %d and %d both mapped to band %d", other, b, t)
		}
		targets[t] = b
	}

	// An RGBA read that leaves out the alpha band gets synthesized alpha
	// like a three-band source.
	copyEnc := enc
	if enc.Kind == EncodingRGB && enc.SourceBands == 4 {
		if _, ok := targets[3]; !ok {
			copyEnc.SourceBands = 3
		}
	}

	tw, th := a.pyramid.TileSize()
	copier, err := NewBandCopier(copyEnc, tw, th)
	if err != nil {
		return nil, err
	}

	plan := &readPlan{level: level, region: region, enc: enc, copier: copier}

	off := req.DestinationOffset
	if req.Destination == nil {
		plan.dst = NewRaster(enc, off.X+region.Width, off.Y+region.Height)
		plan.dst.Bounds = level.RegionBound(Rectangle{
			X: region.X - off.X, Y: region.Y - off.Y,
			Width: plan.dst.Width, Height: plan.dst.Height,
		})
		plan.window = Rectangle{X: off.X, Y: off.Y, Width: region.Width, Height: region.Height}
	} else {
		dst := req.Destination
		if dst.Encoding.Kind != enc.Kind || dst.Bands != enc.DestinationBands() {
			return nil, configErr(level.Index, region, "destination is %s with %d band(s), level needs %s with %d",
				dst.Encoding.Kind, dst.Bands, enc.Kind, enc.DestinationBands())
		}
		if len(dst.Pix) < dst.Width*dst.Height*dst.Bands {
			return nil, configErr(level.Index, region, "destination buffer holds %d samples, %dx%dx%d needed",
				len(dst.Pix), dst.Width, dst.Height, dst.Bands)
		}
		if off.X >= dst.Width || off.Y >= dst.Height {
			return nil, configErr(level.Index, region, "destination offset %v outside %dx%d destination",
				off, dst.Width, dst.Height)
		}
		plan.dst = dst
		plan.window = Rectangle{
			X:      off.X,
			Y:      off.Y,
			Width:  min(region.Width, dst.Width-off.X),
			Height: min(region.Height, dst.Height-off.Y),
		}
	}

	// Position of the region inside the level's tile grid.
	gx := region.X + level.XOffset
	gy := region.Y + level.YOffset

	plan.tiles = TileRange{
		MinColumn: floorDiv(gx, tw),
		MinRow:    floorDiv(gy, th),
		MaxColumn: min(floorDiv(gx+region.Width-1, tw), level.TilesPerRow-1),
		MaxRow:    min(floorDiv(gy+region.Height-1, th), level.TilesPerColumn-1),
	}
	plan.gridOff = [2]int{floorMod(gx, tw), floorMod(gy, th)}
	plan.fetch = plan.tiles.Intersect(level.TileGrid())

	return plan, nil
}

// composite copies one tile into the destination. It reports whether any
// pixel was written.
func (a *Assembler) composite(plan *readPlan, mapper BandMapper, tile *Tile) (bool, error) {
	pos := tile.Position()

	target, ok := mapper[tile.Band]
	if !ok {
		return false, &StoreError{
			Op: "tile for unrequested band", Level: plan.level.Index, Region: plan.region, Tile: &pos,
		}
	}
	if !plan.tiles.Contains(tile.Column, tile.Row) {
		a.metrics.incTile(tileOutOfRange)
		a.log.Debug().Stringer("tile", pos).Msg("ignoring tile outside requested range")
		return false, nil
	}
	if tile.PixelCount == 0 {
		a.metrics.incTile(tileEmpty)
		return false, nil
	}

	src, dstX, dstY := plan.placement(tile.Column, tile.Row)
	if src.Empty() {
		a.metrics.incTile(tileClipped)
		return false, nil
	}

	err := plan.copier.CopyTile(tile.Data, src, plan.dst, plan.window.X+dstX, plan.window.Y+dstY, target)
	if err != nil {
		return false, &StoreError{
			Op: "composite tile", Level: plan.level.Index, Region: plan.region, Tile: &pos, Err: err,
		}
	}
	a.metrics.incTile(tileCopied)
	return true, nil
}

// placement returns the part of tile (column, row) that contributes to the
// destination window, in tile pixel coordinates, and where it lands relative
// to the window origin. The rectangle is empty when nothing contributes.
func (p *readPlan) placement(column, row int) (Rectangle, int, int) {
	l := p.level
	sx, dx, w := span(column, p.tiles.MinColumn, p.gridOff[0], l.TileWidth, p.window.Width, l.XOffset, l.XOffset+l.Width)
	sy, dy, h := span(row, p.tiles.MinRow, p.gridOff[1], l.TileHeight, p.window.Height, l.YOffset, l.YOffset+l.Height)
	if w <= 0 || h <= 0 {
		return Rectangle{}, 0, 0
	}
	return Rectangle{X: sx, Y: sy, Width: w, Height: h}, dx, dy
}

// span resolves one axis of a tile placement. The leading tile of the range
// contributes from gridOff onward and lands at 0; every later tile is placed
// after the leading tile's remainder plus the full tiles before it. The
// contributing length is clipped to the destination window and to the
// level's pixels [levelStart, levelEnd) in grid space, which drops the
// store's padding.
func span(index, first, gridOff, tileSize, windowSize, levelStart, levelEnd int) (srcOff, dstOff, size int) {
	if index == first {
		srcOff = gridOff
	} else {
		dstOff = (tileSize - gridOff) + (index-first-1)*tileSize
	}
	size = tileSize - srcOff

	if start := index*tileSize + srcOff; start < levelStart {
		skip := levelStart - start
		srcOff += skip
		dstOff += skip
		size -= skip
	}

	size = min(size, windowSize-dstOff)
	size = min(size, levelEnd-(index*tileSize+srcOff))
	return srcOff, dstOff, size
}
