package main

import (
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tingold/gopyramid"
	"github.com/valyala/fasthttp"
	"golang.org/x/image/draw"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "pyramid-read",
	Short: "Read a region of a tiled raster pyramid into a PNG",
	Long: `pyramid-read picks the pyramid level best suited to the requested output
size, composites the tiles covering the bounding box and writes the result
as PNG, scaled to the requested size.

The source is a tiled (Cloud Optimized) GeoTIFF on disk or behind an HTTP
server that supports range requests.

Examples:
  # Whole image at 512x512
  pyramid-read --source scene.tif --width 512 --height 512 -o scene.png

  # Region of a remote COG, first three bands
  pyramid-read --source https://example.com/scene.tif \
    --bbox 500000,4100000,510000,4110000 --width 1024 --height 1024 \
    --bands 1,2,3 -o region.png`,
	SilenceUsage: true,
	RunE:         runRead,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.pyramid-read.yaml)")

	rootCmd.Flags().StringP("source", "s", "", "GeoTIFF path or http(s) URL (required)")
	rootCmd.Flags().String("bbox", "", "extent as 'minx,miny,maxx,maxy' in source CRS units (default: whole image)")
	rootCmd.Flags().Int("width", 256, "output width in pixels")
	rootCmd.Flags().Int("height", 256, "output height in pixels")
	rootCmd.Flags().String("bands", "", "comma separated 1-based bands to read (default: all color bands)")
	rootCmd.Flags().StringP("output", "o", "", "output PNG file (default: stdout)")
	rootCmd.Flags().Int("cache-size", 256, "number of decoded tiles kept in memory")
	rootCmd.Flags().String("log-level", "info", "log level (debug|info|warn|error)")
	rootCmd.Flags().Bool("log-console", true, "human readable log output")

	for _, name := range []string{"source", "bbox", "width", "height", "bands", "output", "cache-size", "log-level", "log-console"} {
		viper.BindPFlag(name, rootCmd.Flags().Lookup(name))
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".pyramid-read")
	}

	viper.SetEnvPrefix("PYRAMID")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func runRead(cmd *cobra.Command, args []string) error {
	source := viper.GetString("source")
	if source == "" {
		return fmt.Errorf("a source is required (use --source)")
	}
	width, height := viper.GetInt("width"), viper.GetInt("height")
	if width <= 0 || height <= 0 {
		return fmt.Errorf("width and height must be positive, got %dx%d", width, height)
	}

	log := gopyramid.NewLogger(viper.GetString("log-level"), viper.GetBool("log-console"))

	store, err := gopyramid.Open(source, &fasthttp.Client{ReadTimeout: 30 * time.Second})
	if err != nil {
		return err
	}
	defer store.Close()

	pyramid, err := gopyramid.OpenPyramid(store)
	if err != nil {
		return err
	}

	extent := pyramid.Bounds()
	if s := viper.GetString("bbox"); s != "" {
		if extent, err = parseBBox(s); err != nil {
			return err
		}
	}

	session, err := gopyramid.NewCachingStore(store, viper.GetInt("cache-size"))
	if err != nil {
		return err
	}

	bands, err := parseBands(viper.GetString("bands"))
	if err != nil {
		return err
	}
	if len(bands) == 0 {
		if bands, err = defaultBands(session); err != nil {
			return err
		}
	}

	asm := gopyramid.NewAssembler(pyramid, &gopyramid.AssemblerOptions{
		Logger:  &log,
		Metrics: gopyramid.NewMetrics(prometheus.NewRegistry()),
	})

	raster, err := asm.ReadRegion(session, extent, width, height, bands)
	if err != nil {
		return err
	}
	ev := log.Info().Str("source", source).Str("crs", store.CRS())
	if code, err := gopyramid.ParseEPSGCode(store.CRS()); err == nil {
		ev = ev.Int("epsg", code)
	}
	ev.
		Int("raster_width", raster.Width).
		Int("raster_height", raster.Height).
		Msg("region read")

	out := io.Writer(cmd.OutOrStdout())
	if path := viper.GetString("output"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	if err := png.Encode(out, scale(raster.Image(), width, height)); err != nil {
		return fmt.Errorf("failed to encode PNG: %w", err)
	}
	return nil
}

// scale resamples img to width x height. Images already at that size are
// returned unchanged.
func scale(img image.Image, width, height int) image.Image {
	b := img.Bounds()
	if b.Dx() == width && b.Dy() == height {
		return img
	}
	dst := image.NewNRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// parseBBox parses "minx,miny,maxx,maxy".
func parseBBox(s string) (orb.Bound, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return orb.Bound{}, fmt.Errorf("bbox must have 4 comma separated values, got %d", len(parts))
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return orb.Bound{}, fmt.Errorf("invalid bbox value %q: %w", p, err)
		}
		v[i] = f
	}
	if v[0] >= v[2] || v[1] >= v[3] {
		return orb.Bound{}, fmt.Errorf("bbox minimum must be below maximum, got %s", s)
	}
	return orb.Bound{Min: orb.Point{v[0], v[1]}, Max: orb.Point{v[2], v[3]}}, nil
}

func parseBands(s string) ([]gopyramid.BandID, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var bands []gopyramid.BandID
	for _, p := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid band %q", p)
		}
		bands = append(bands, gopyramid.BandID(n))
	}
	return bands, nil
}

// defaultBands selects every color band of an RGB(A) source and band 1
// otherwise.
func defaultBands(store gopyramid.TileStore) ([]gopyramid.BandID, error) {
	info, err := store.Encoding(0)
	if err != nil {
		return nil, err
	}
	enc, err := gopyramid.ResolveEncoding(info)
	if err != nil {
		return nil, err
	}
	bands := make([]gopyramid.BandID, enc.WritableBands())
	for i := range bands {
		bands[i] = gopyramid.BandID(i + 1)
	}
	return bands, nil
}
