package courier

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"golang.org/x/sync/errgroup"
)

// Request describes one logical request. It may be realized as multiple
// physical attempts against different hosts.
type Request struct {
	// Method is the HTTP method; defaults to GET when empty.
	Method string

	// Path is the request path relative to the selected host's base URI,
	// e.g. "/api/widgets".
	Path string

	// Query holds URL query parameters.
	Query url.Values

	// Header holds additional request headers.
	Header http.Header

	// Body is the optional request payload.
	Body Body
}

// requestState carries the per-logical-request bookkeeping shared by the
// retry and node-selection layers: the reset-tracked body, the set of hosts
// already attempted, and any pending redirect target.
type requestState struct {
	body     *resetTrackingBody
	tried    map[string]struct{}
	redirect *url.URL
	attempts int
}

func newRequestState(body Body) *requestState {
	st := &requestState{tried: make(map[string]struct{})}
	if body != nil {
		st.body = newResetTrackingBody(body)
	}
	return st
}

func (st *requestState) markTried(n *Node) {
	st.tried[n.Key()] = struct{}{}
}

type requestStateKey struct{}

func withRequestState(ctx context.Context, st *requestState) context.Context {
	return context.WithValue(ctx, requestStateKey{}, st)
}

func requestStateFromContext(ctx context.Context) *requestState {
	st, _ := ctx.Value(requestStateKey{}).(*requestState)
	return st
}

// attachBody populates req's body fields for one physical attempt. Fully
// buffered bodies take a zero-stream fast path and return nil; everything
// else is streamed through a BodyWriter with a producer goroutine per
// attempt, and the returned stream lets the caller join that producer.
func attachBody(req *http.Request, body Body) *bodyStream {
	if ct := body.ContentType(); ct != "" {
		req.Header.Set("Content-Type", ct)
	}

	if full := body.FullBody(); full != nil {
		req.ContentLength = int64(len(full))
		req.Header.Set("Content-Length", strconv.Itoa(len(full)))
		req.Body = io.NopCloser(bytes.NewReader(full))
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(full)), nil
		}
		return nil
	}

	if length, ok := body.ContentLength(); ok {
		req.ContentLength = length
	} else {
		req.ContentLength = -1
	}
	stream := startBodyStream(req.Context(), body)
	req.Body = stream
	return stream
}

// startBodyStream spawns the producer goroutine for a streamed body and
// returns the transport-side reader. Closing the reader cancels the
// producer, which unblocks any pending BodyWriter send.
func startBodyStream(ctx context.Context, body Body) *bodyStream {
	ctx, cancel := context.WithCancel(ctx)
	parts := make(chan BodyPart, bodyChannelCapacity)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		// Closing the channel lets the reader observe producer failures
		// that happen before the Done marker is sent.
		defer close(parts)
		w := newBodyWriter(ctx, parts)
		if err := body.Write(w); err != nil {
			return err
		}
		return w.finish()
	})

	return &bodyStream{
		parts:  parts,
		cancel: cancel,
		group:  group,
	}
}

// bodyStream adapts the BodyPart channel to the io.ReadCloser the HTTP
// transport consumes. Chunks are surfaced in FIFO order; the Done marker
// translates to io.EOF after the producer's error, if any, is collected.
type bodyStream struct {
	parts   <-chan BodyPart
	cancel  context.CancelFunc
	group   *errgroup.Group
	current []byte
	done    bool
}

func (s *bodyStream) Read(p []byte) (int, error) {
	for len(s.current) == 0 {
		if s.done {
			return 0, io.EOF
		}
		part, ok := <-s.parts
		if !ok || part.Done {
			s.done = true
			if err := s.group.Wait(); err != nil {
				return 0, err
			}
			return 0, io.EOF
		}
		s.current = part.Chunk
	}
	n := copy(p, s.current)
	s.current = s.current[n:]
	return n, nil
}

// Close cancels the producer and waits for it to exit. It is safe to call
// from both the transport and the retry loop; Read must not be called
// afterwards.
func (s *bodyStream) Close() error {
	s.cancel()
	//nolint:errcheck // the producer's error is irrelevant once abandoned
	s.group.Wait()
	return nil
}
