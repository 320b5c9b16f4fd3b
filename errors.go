package gopyramid

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedEncoding is wrapped by the ConfigurationError returned for a
// pixel layout no BandCopier can handle.
var ErrUnsupportedEncoding = errors.New("unsupported pixel encoding")

// ConfigurationError reports a malformed read request or pyramid definition.
// It is always detected before any tile is fetched.
type ConfigurationError struct {
	Level  int
	Region Rectangle
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "configuration error: %s", e.Reason)
	fmt.Fprintf(&b, " (level %d, region %s)", e.Level, e.Region)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// TilePosition identifies a tile within a level.
type TilePosition struct {
	Column int
	Row    int
	Band   BandID
}

func (p TilePosition) String() string {
	return fmt.Sprintf("col=%d row=%d band=%d", p.Column, p.Row, p.Band)
}

// StoreError reports a failure of the tile store while reading metadata or
// tiles. The read that hit it is aborted; no retry is attempted.
type StoreError struct {
	Op     string
	Level  int
	Region Rectangle
	Tile   *TilePosition
	Err    error
}

func (e *StoreError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "store error: %s (level %d, region %s", e.Op, e.Level, e.Region)
	if e.Tile != nil {
		fmt.Fprintf(&b, ", tile %s", e.Tile)
	}
	b.WriteString(")")
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *StoreError) Unwrap() error { return e.Err }

func configErr(level int, region Rectangle, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Level: level, Region: region, Reason: fmt.Sprintf(format, args...)}
}
