package courier

import (
	"context"
	"io"
	"net/http"
	"time"
)

// timeoutTransport bounds one physical attempt with a deadline. It sits
// inside the retry layer, so a firing timeout cancels the current attempt
// only; the logical request may still retry on a fresh node.
type timeoutTransport struct {
	base    http.RoundTripper
	timeout time.Duration
}

func newTimeoutTransport(base http.RoundTripper, timeout time.Duration) http.RoundTripper {
	if timeout <= 0 {
		return base
	}
	return &timeoutTransport{base: base, timeout: timeout}
}

// RoundTrip implements http.RoundTripper.
func (t *timeoutTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	parent := req.Context()
	ctx, cancel := context.WithTimeout(parent, t.timeout)

	resp, err := t.base.RoundTrip(req.WithContext(ctx))
	if err != nil {
		cancel()
		if ctx.Err() == context.DeadlineExceeded && parent.Err() == nil {
			return nil, &TransportError{Kind: TransportErrorTimeout, Err: ctx.Err()}
		}
		return nil, err
	}

	// The deadline keeps covering the response body; cancel fires once the
	// caller finishes reading it.
	resp.Body = &cancelOnCloseBody{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelOnCloseBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnCloseBody) Close() error {
	defer b.cancel()
	return b.ReadCloser.Close()
}
