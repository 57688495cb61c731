package courier

import (
	"bufio"
	"io"
	"net/http"

	json "github.com/goccy/go-json"
)

// Response wraps http.Response with convenience methods for body handling.
//
// The body can be consumed either incrementally, via ReadBytes or Reader,
// or all at once via Bytes, String, or JSON. The two styles do not mix:
// once incremental reading has started, the whole-body helpers see only the
// remainder.
type Response struct {
	// Response embeds the standard http.Response. All its fields and
	// methods are accessible directly, e.g. resp.StatusCode.
	*http.Response

	reader *bufio.Reader

	// body caches the fully read payload for Bytes and friends.
	body     []byte
	bodyRead bool
}

func newResponse(resp *http.Response) *Response {
	return &Response{Response: resp}
}

// Reader returns a buffered reader over the response body. The same reader
// is returned on every call.
func (r *Response) Reader() *bufio.Reader {
	if r.reader == nil {
		r.reader = bufio.NewReader(r.Response.Body)
	}
	return r.reader
}

// ReadBytes returns the next chunk of the response body, or (nil, nil) once
// the body is exhausted. Chunk boundaries are arbitrary.
func (r *Response) ReadBytes() ([]byte, error) {
	rd := r.Reader()
	if _, err := rd.Peek(1); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, err
	}
	chunk := make([]byte, rd.Buffered())
	if _, err := io.ReadFull(rd, chunk); err != nil {
		return nil, err
	}
	return chunk, nil
}

// Bytes returns the whole response body. The body is read and cached on
// first access; subsequent calls return the cached value.
func (r *Response) Bytes() ([]byte, error) {
	if r.bodyRead {
		return r.body, nil
	}
	defer r.Response.Body.Close()

	var src io.Reader = r.Response.Body
	if r.reader != nil {
		src = r.reader
	}
	body, err := io.ReadAll(src)
	if err != nil {
		return nil, err
	}
	r.body = body
	r.bodyRead = true
	return r.body, nil
}

// String returns the whole response body as a string.
func (r *Response) String() (string, error) {
	body, err := r.Bytes()
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// JSON decodes the whole response body into v.
func (r *Response) JSON(v any) error {
	body, err := r.Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}

// IsSuccess returns true if the response status code is 2xx.
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Close releases the response body. Safe to call after Bytes.
func (r *Response) Close() error {
	if r.bodyRead {
		return nil
	}
	//nolint:errcheck // best-effort drain before close
	io.Copy(io.Discard, io.LimitReader(r.Response.Body, 4096))
	return r.Response.Body.Close()
}
