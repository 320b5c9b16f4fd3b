package gopyramid

import (
	"bytes"
	"io"
	"net"
	"sync/atomic"
	"testing"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

// rangeServer serves data over an in-memory listener, honoring Range
// headers unless ignoreRange is set.
type rangeServer struct {
	data        []byte
	ignoreRange bool
	gets        atomic.Int32
}

func (s *rangeServer) handle(ctx *fasthttp.RequestCtx) {
	if string(ctx.Path()) != "/pyramid.tif" {
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		return
	}
	if ctx.IsHead() {
		// fasthttp reports the body length and skips the body.
		ctx.SetBody(s.data)
		return
	}

	s.gets.Add(1)
	rng := ctx.Request.Header.Peek(fasthttp.HeaderRange)
	if s.ignoreRange || len(rng) == 0 {
		ctx.SetBody(s.data)
		return
	}
	start, end, err := fasthttp.ParseByteRange(rng, len(s.data))
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusRequestedRangeNotSatisfiable)
		return
	}
	ctx.SetStatusCode(fasthttp.StatusPartialContent)
	ctx.SetBody(s.data[start : end+1])
}

func startRangeServer(t *testing.T, s *rangeServer) *fasthttp.Client {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	go fasthttp.Serve(ln, s.handle)
	t.Cleanup(func() { ln.Close() })

	return &fasthttp.Client{
		Dial: func(addr string) (net.Conn, error) {
			return ln.Dial()
		},
	}
}

func testPayload(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i * 7)
	}
	return data
}

func TestHTTPRangeReader(t *testing.T) {
	srv := &rangeServer{data: testPayload(10000)}
	client := startRangeServer(t, srv)

	rr, err := NewHTTPRangeReader("http://cog.test/pyramid.tif", client)
	if err != nil {
		t.Fatalf("NewHTTPRangeReader failed: %v", err)
	}
	if rr.Size() != 10000 {
		t.Errorf("Expected size 10000, got %d", rr.Size())
	}
	rr.SetReadAheadSize(1024)

	pos, err := rr.Seek(5000, io.SeekStart)
	if err != nil || pos != 5000 {
		t.Fatalf("Seek failed: %d, %v", pos, err)
	}
	buf := make([]byte, 100)
	if _, err := io.ReadFull(rr, buf); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !bytes.Equal(buf, srv.data[5000:5100]) {
		t.Error("Read returned wrong bytes")
	}

	// Served from the read-ahead window.
	if _, err := io.ReadFull(rr, buf); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !bytes.Equal(buf, srv.data[5100:5200]) {
		t.Error("Second read returned wrong bytes")
	}
	if got := srv.gets.Load(); got != 1 {
		t.Errorf("Expected 1 range request, got %d", got)
	}

	// Reading past the end stops at EOF.
	if _, err := rr.Seek(-10, io.SeekEnd); err != nil {
		t.Fatalf("Seek from end failed: %v", err)
	}
	rest, err := io.ReadAll(rr)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if !bytes.Equal(rest, srv.data[9990:]) {
		t.Errorf("Expected last 10 bytes, got %d bytes", len(rest))
	}

	if _, err := rr.Seek(-1, io.SeekStart); err == nil {
		t.Error("Expected error for negative position")
	}
	if _, err := rr.Seek(0, 42); err == nil {
		t.Error("Expected error for invalid whence")
	}
}

func TestHTTPRangeReaderIgnoredRange(t *testing.T) {
	srv := &rangeServer{data: testPayload(3000), ignoreRange: true}
	client := startRangeServer(t, srv)

	rr, err := NewHTTPRangeReader("http://cog.test/pyramid.tif", client)
	if err != nil {
		t.Fatalf("NewHTTPRangeReader failed: %v", err)
	}
	rr.SetReadAheadSize(16)

	if _, err := rr.Seek(2000, io.SeekStart); err != nil {
		t.Fatalf("Seek failed: %v", err)
	}
	buf := make([]byte, 16)
	if _, err := io.ReadFull(rr, buf); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !bytes.Equal(buf, srv.data[2000:2016]) {
		t.Error("Read returned wrong bytes when the server ignored the range")
	}
}

func TestHTTPRangeReaderNotFound(t *testing.T) {
	client := startRangeServer(t, &rangeServer{data: testPayload(10)})

	if _, err := NewHTTPRangeReader("http://cog.test/missing.tif", client); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestOpenURL(t *testing.T) {
	data := cogFixture{width: 48, height: 32, tile: 16, levels: 2, georef: true, compression: CompressionDeflate}.build(t)
	client := startRangeServer(t, &rangeServer{data: data})

	s, err := Open("http://cog.test/pyramid.tif", client)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	p, err := OpenPyramid(s)
	if err != nil {
		t.Fatalf("OpenPyramid failed: %v", err)
	}
	r, err := NewAssembler(p, nil).Read(&ReadRequest{
		Region:     Rect(8, 8, 32, 16),
		Bands:      []BandID{1},
		BandMapper: IdentityBandMapper([]BandID{1}),
		Session:    s,
	})
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if got, want := r.At(0, 31, 15), sampleValue(0, 0, 39, 23); got != want {
		t.Errorf("Pixel (31,15) = %d, want %d", got, want)
	}
}
