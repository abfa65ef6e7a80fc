// Package http provides a bar.ByteSource backed by HTTP range requests, so a
// remote archive can be opened without downloading it: bar.Open reads the
// trailer and header, and each extraction fetches one file's byte range.
package http //nolint:revive // intentional naming for domain clarity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	nethttp "net/http"
	"strconv"
	"strings"
)

// ErrRangeUnsupported is returned when the server ignores Range headers.
var ErrRangeUnsupported = errors.New("range requests not supported")

// errStale marks a 412 answer to a conditional range request.
var errStale = errors.New("remote content changed")

// validators are the cache validators the remote reported when probed.
type validators struct {
	etag         string
	lastModified string
}

func (v validators) empty() bool {
	return v.etag == "" && v.lastModified == ""
}

// Source reads a remote archive through HTTP range requests.
// It satisfies bar.ByteSource, and its ReadRange lets bar stream each file
// with a single request.
type Source struct {
	url         string
	client      *nethttp.Client
	headers     nethttp.Header
	size        int64
	seen        validators
	conditional bool
	logger      *slog.Logger
}

// Option configures a Source.
type Option func(*Source)

// WithClient sets the HTTP client used for requests.
func WithClient(client *nethttp.Client) Option {
	return func(s *Source) {
		s.client = client
	}
}

// WithHeaders sets additional headers on each request.
func WithHeaders(headers nethttp.Header) Option {
	return func(s *Source) {
		if headers == nil {
			return
		}
		s.headers = headers.Clone()
	}
}

// WithHeader sets a single header on each request.
func WithHeader(key, value string) Option {
	return func(s *Source) {
		if s.headers == nil {
			s.headers = make(nethttp.Header)
		}
		s.headers.Set(key, value)
	}
}

// WithConditionalHeaders sends If-Match / If-Unmodified-Since with range
// reads, using the validators seen when the source was created. A server
// answering 412 is asked once more without them. Off by default, since
// some servers reject conditional range requests.
func WithConditionalHeaders() Option {
	return func(s *Source) {
		s.conditional = true
	}
}

// WithLogger sets the logger for range requests.
// If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Source) {
		s.logger = logger
	}
}

// NewSource creates a Source for the archive at url. It learns the archive
// size from a one-byte range request, cross-checked against HEAD when the
// server answers it.
func NewSource(url string, opts ...Option) (*Source, error) {
	s := &Source{url: url}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = nethttp.DefaultClient
	}

	if err := s.probe(); err != nil {
		return nil, err
	}
	s.log().Debug("http source ready", "url", url, "size", s.size, "etag", s.seen.etag)
	return s, nil
}

// log returns the logger, falling back to a discard logger if nil.
func (s *Source) log() *slog.Logger {
	if s.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return s.logger
}

// Size returns the total size of the remote archive.
func (s *Source) Size() int64 {
	return s.size
}

// SourceID identifies the remote content by URL and the strongest validator
// the server gave.
func (s *Source) SourceID() string {
	switch {
	case s.seen.etag != "":
		return fmt.Sprintf("url:%s|etag:%s", s.url, s.seen.etag)
	case s.seen.lastModified != "":
		return fmt.Sprintf("url:%s|mod:%s|size:%d", s.url, s.seen.lastModified, s.size)
	default:
		return fmt.Sprintf("url:%s|size:%d", s.url, s.size)
	}
}

// ReadRange streams bytes [off, off+length), clamped to the archive end,
// from one GET. It returns io.EOF if off is at or past the end. Close the
// reader to release the connection.
func (s *Source) ReadRange(off, length int64) (io.ReadCloser, error) {
	switch {
	case length < 0:
		return nil, fmt.Errorf("read range length %d: negative length", length)
	case length == 0:
		return nethttp.NoBody, nil
	case off < 0:
		return nil, fmt.Errorf("read range %d: negative offset", off)
	case off >= s.size:
		return nil, io.EOF
	}
	length = min(length, s.size-off)
	end := off + length - 1

	resp, err := s.get(off, end, s.conditional && !s.seen.empty())
	if errors.Is(err, errStale) {
		s.log().Debug("conditional range rejected, retrying", "url", s.url, "off", off)
		resp, err = s.get(off, end, false)
	}
	if err != nil {
		return nil, err
	}
	return &rangeBody{Reader: io.LimitReader(resp.Body, length), body: resp.Body}, nil
}

// ReadAt implements io.ReaderAt on top of ReadRange. A read that runs past
// the end returns the available bytes and io.EOF.
func (s *Source) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	rc, err := s.ReadRange(off, int64(len(p)))
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	n, err := io.ReadFull(rc, p)
	if errors.Is(err, io.ErrUnexpectedEOF) && off+int64(n) == s.size {
		return n, io.EOF
	}
	return n, err
}

// get sends a GET for bytes [off, end] and returns the 206 response.
// Any other status is turned into an error and its body released.
func (s *Source) get(off, end int64, conditional bool) (*nethttp.Response, error) {
	req, err := s.request(nethttp.MethodGet)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", off, end))
	if conditional {
		setIfAbsent(req.Header, "If-Match", s.seen.etag)
		setIfAbsent(req.Header, "If-Unmodified-Since", s.seen.lastModified)
	}

	s.log().Debug("http range request", "url", s.url, "off", off, "end", end, "conditional", conditional)
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == nethttp.StatusPartialContent {
		return resp, nil
	}
	drain(resp.Body)

	switch resp.StatusCode {
	case nethttp.StatusPreconditionFailed:
		if conditional {
			return nil, errStale
		}
	case nethttp.StatusRequestedRangeNotSatisfiable:
		return nil, io.EOF
	case nethttp.StatusOK:
		return nil, ErrRangeUnsupported
	}
	return nil, fmt.Errorf("range request failed: %s", resp.Status)
}

// probe learns the archive size and validators. HEAD is advisory; the
// one-byte range request is authoritative and proves range support.
func (s *Source) probe() error {
	headSize := int64(-1)
	if req, err := s.request(nethttp.MethodHead); err == nil {
		if resp, err := s.client.Do(req); err == nil {
			drain(resp.Body)
			if resp.StatusCode == nethttp.StatusOK {
				headSize = resp.ContentLength
				s.seen = validatorsOf(resp.Header)
			}
		}
	}

	resp, err := s.get(0, 0, false)
	if err != nil {
		return fmt.Errorf("range probe: %w", err)
	}
	drain(resp.Body)

	size, err := parseContentRange(resp.Header.Get("Content-Range"))
	if err != nil {
		return err
	}
	if headSize > 0 && headSize != size {
		return fmt.Errorf("content size mismatch: head=%d range=%d", headSize, size)
	}
	s.size = size
	if s.seen.empty() {
		s.seen = validatorsOf(resp.Header)
	}
	return nil
}

// request builds a request carrying the configured headers. Transfer
// compression is refused so byte offsets refer to the archive itself.
func (s *Source) request(method string) (*nethttp.Request, error) {
	req, err := nethttp.NewRequestWithContext(context.Background(), method, s.url, nethttp.NoBody)
	if err != nil {
		return nil, err
	}
	for key, values := range s.headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	setIfAbsent(req.Header, "Accept-Encoding", "identity")
	return req, nil
}

func validatorsOf(h nethttp.Header) validators {
	return validators{etag: h.Get("ETag"), lastModified: h.Get("Last-Modified")}
}

// setIfAbsent sets key to value unless value is empty or key is already set.
func setIfAbsent(h nethttp.Header, key, value string) {
	if value != "" && h.Get(key) == "" {
		h.Set(key, value)
	}
}

// rangeBody limits reads to the requested range and drains the rest of the
// response on Close so the connection can be reused.
type rangeBody struct {
	io.Reader
	body io.ReadCloser
}

func (r *rangeBody) Close() error {
	_, _ = io.Copy(io.Discard, r.body) //nolint:errcheck // best-effort drain for connection reuse
	return r.body.Close()
}

// drain discards and closes a response body so the connection can be reused.
func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body) //nolint:errcheck // best-effort drain for connection reuse
	_ = body.Close()
}

// parseContentRange returns the total size from "bytes start-end/size".
func parseContentRange(value string) (int64, error) {
	if value == "" {
		return 0, errors.New("range probe missing Content-Range")
	}
	rest, ok := strings.CutPrefix(strings.TrimSpace(value), "bytes ")
	if !ok {
		return 0, fmt.Errorf("invalid Content-Range %q", value)
	}
	_, total, ok := strings.Cut(rest, "/")
	if !ok || total == "*" {
		return 0, fmt.Errorf("invalid Content-Range %q", value)
	}
	size, err := strconv.ParseInt(total, 10, 64)
	if err != nil || size < 0 {
		return 0, fmt.Errorf("invalid Content-Range %q", value)
	}
	return size, nil
}
