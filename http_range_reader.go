package gopyramid

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/valyala/fasthttp"
)

// Default read-ahead buffer size (64KB). COG headers and neighbouring tile
// directory entries are usually served by one request.
const defaultReadAheadSize = 64 * 1024

// HTTPRangeReader implements io.ReadSeeker for a remote file via HTTP range
// requests. Reads are served from a read-ahead window when possible.
type HTTPRangeReader struct {
	url    string
	client *fasthttp.Client

	mu   sync.Mutex
	size int64 // -1 when the server does not report it
	pos  int64

	window      []byte
	windowStart int64
	readAhead   int
}

// NewHTTPClient returns the fasthttp client used when none is supplied.
func NewHTTPClient() *fasthttp.Client {
	return &fasthttp.Client{
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// NewHTTPRangeReader creates a reader for url. The file size is probed with
// a HEAD request; a failing probe is returned as an error.
func NewHTTPRangeReader(url string, client *fasthttp.Client) (*HTTPRangeReader, error) {
	if client == nil {
		client = NewHTTPClient()
	}
	rr := &HTTPRangeReader{
		url:       url,
		client:    client,
		size:      -1,
		readAhead: defaultReadAheadSize,
	}
	if err := rr.probeSize(); err != nil {
		return nil, err
	}
	return rr, nil
}

// SetReadAheadSize sets the minimum number of bytes fetched per request.
func (rr *HTTPRangeReader) SetReadAheadSize(size int) {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	if size > 0 {
		rr.readAhead = size
	}
}

// Size returns the file size, or -1 if unknown
func (rr *HTTPRangeReader) Size() int64 {
	return rr.size
}

func (rr *HTTPRangeReader) probeSize() error {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(rr.url)
	req.Header.SetMethod(fasthttp.MethodHead)

	if err := rr.client.Do(req, resp); err != nil {
		return fmt.Errorf("failed to probe %s: %w", rr.url, err)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return fmt.Errorf("failed to probe %s: unexpected status code %d", rr.url, resp.StatusCode())
	}
	if n := resp.Header.ContentLength(); n >= 0 {
		rr.size = int64(n)
	}
	return nil
}

// Read implements io.Reader.
func (rr *HTTPRangeReader) Read(p []byte) (int, error) {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	if len(p) == 0 {
		return 0, nil
	}
	if rr.size >= 0 && rr.pos >= rr.size {
		return 0, io.EOF
	}

	// Serve from the read-ahead window first.
	if rr.pos >= rr.windowStart && rr.pos < rr.windowStart+int64(len(rr.window)) {
		n := copy(p, rr.window[rr.pos-rr.windowStart:])
		rr.pos += int64(n)
		return n, nil
	}

	want := max(len(p), rr.readAhead)
	end := rr.pos + int64(want) - 1
	if rr.size >= 0 && end >= rr.size {
		end = rr.size - 1
	}

	data, err := rr.fetchRange(rr.pos, end)
	if err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, io.EOF
	}

	rr.window = data
	rr.windowStart = rr.pos
	n := copy(p, data)
	rr.pos += int64(n)
	return n, nil
}

// fetchRange fetches bytes [start, end] from the server
func (rr *HTTPRangeReader) fetchRange(start, end int64) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(rr.url)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.SetByteRange(int(start), int(end))

	if err := rr.client.Do(req, resp); err != nil {
		return nil, fmt.Errorf("failed to fetch bytes %d-%d: %w", start, end, err)
	}

	body := resp.Body()
	switch resp.StatusCode() {
	case fasthttp.StatusPartialContent:
	case fasthttp.StatusOK:
		// Server ignored the range and sent the whole file.
		if start >= int64(len(body)) {
			return nil, nil
		}
		last := min(end+1, int64(len(body)))
		body = body[start:last]
	default:
		return nil, fmt.Errorf("failed to fetch bytes %d-%d: unexpected status code %d", start, end, resp.StatusCode())
	}

	// Copy body since response will be released
	out := make([]byte, len(body))
	copy(out, body)
	return out, nil
}

// Seek implements io.Seeker.
func (rr *HTTPRangeReader) Seek(offset int64, whence int) (int64, error) {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = rr.pos + offset
	case io.SeekEnd:
		if rr.size < 0 {
			return 0, fmt.Errorf("cannot seek from end: file size unknown")
		}
		pos = rr.size + offset
	default:
		return 0, fmt.Errorf("invalid whence: %d", whence)
	}

	if pos < 0 {
		return 0, fmt.Errorf("negative position: %d", pos)
	}
	rr.pos = pos
	return pos, nil
}

// ClearBuffer drops the read-ahead window to free memory
func (rr *HTTPRangeReader) ClearBuffer() {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	rr.window = nil
	rr.windowStart = 0
}
