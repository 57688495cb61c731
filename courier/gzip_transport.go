package courier

import (
	"compress/gzip"
	"io"
	"net/http"
)

// gzipTransport advertises gzip support and transparently decompresses
// gzip-encoded responses. The pooled transport's own decompression is
// disabled so this layer sees the encoding explicitly and the decision is
// per-client rather than per-process.
type gzipTransport struct {
	base http.RoundTripper
}

func newGzipTransport(base http.RoundTripper) *gzipTransport {
	return &gzipTransport{base: base}
}

// RoundTrip implements http.RoundTripper.
func (t *gzipTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", "gzip")
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	if resp.Header.Get("Content-Encoding") != "gzip" {
		return resp, nil
	}

	zr, err := gzip.NewReader(resp.Body)
	if err != nil {
		drainBody(resp)
		return nil, &TransportError{Kind: TransportErrorIO, Err: err}
	}

	resp.Body = &gzipBody{zr: zr, underlying: resp.Body}
	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true
	return resp, nil
}

type gzipBody struct {
	zr         *gzip.Reader
	underlying io.ReadCloser
}

func (b *gzipBody) Read(p []byte) (int, error) {
	return b.zr.Read(p)
}

func (b *gzipBody) Close() error {
	//nolint:errcheck // trailing gzip state is irrelevant on close
	b.zr.Close()
	return b.underlying.Close()
}
