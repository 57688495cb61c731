package courier

import (
	"bytes"
	"context"
	"errors"
	"io"
)

// BodyPart is one unit sent from a body producer to the transport: either a
// chunk of payload bytes or a terminal end-of-stream marker. Parts are
// delivered in FIFO order; exactly one Done part terminates the stream and
// no chunk follows it.
type BodyPart struct {
	Chunk []byte
	Done  bool
}

const (
	// bodyFlushThreshold is the accumulator size: Write fills it and
	// flushes a full chunk of exactly this many bytes each time it fills.
	bodyFlushThreshold = 4096

	// bodyChannelCapacity bounds the number of in-flight parts between the
	// producer and the transport. The channel send is the backpressure
	// point: a producer outrunning the transport suspends here, so memory
	// growth is bounded regardless of payload size.
	bodyChannelCapacity = 2
)

var errWriterFinished = errors.New("courier: write after body finished")

// BodyWriter is the sink passed to Body.Write. Writes accumulate in a
// fixed-size buffer that is flushed as a full chunk each time it fills, so
// a payload arrives as threshold-sized chunks plus a final remainder.
// Chunks appear on the channel in the order written.
//
// Sends are aborted when the attempt context is canceled (for example the
// attempt timed out or the caller gave up), which surfaces to the producer
// as an I/O-kind error so it can stop promptly.
type BodyWriter struct {
	ctx      context.Context
	parts    chan<- BodyPart
	buf      bytes.Buffer
	finished bool
}

var _ io.Writer = (*BodyWriter)(nil)

func newBodyWriter(ctx context.Context, parts chan<- BodyPart) *BodyWriter {
	return &BodyWriter{ctx: ctx, parts: parts}
}

// Write implements io.Writer, filling the accumulator and flushing a full
// chunk each time it reaches the threshold.
func (w *BodyWriter) Write(p []byte) (int, error) {
	if w.finished {
		return 0, errWriterFinished
	}
	total := len(p)
	for len(p) > 0 {
		room := bodyFlushThreshold - w.buf.Len()
		if room > len(p) {
			room = len(p)
		}
		w.buf.Write(p[:room])
		p = p[room:]
		if w.buf.Len() >= bodyFlushThreshold {
			if err := w.Flush(); err != nil {
				return total - len(p), err
			}
		}
	}
	return total, nil
}

// WriteBytes sends chunk directly, bypassing the accumulator. Any buffered
// bytes are flushed first so ordering is preserved. Prefer this over Write
// when the caller already holds the payload as discrete chunks.
func (w *BodyWriter) WriteBytes(chunk []byte) error {
	if w.finished {
		return errWriterFinished
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return w.send(BodyPart{Chunk: chunk})
}

// Flush sends any buffered bytes as a single chunk.
func (w *BodyWriter) Flush() error {
	if w.buf.Len() == 0 {
		return nil
	}
	chunk := make([]byte, w.buf.Len())
	copy(chunk, w.buf.Bytes())
	w.buf.Reset()
	return w.send(BodyPart{Chunk: chunk})
}

// finish flushes remaining bytes and sends the terminal Done marker. No
// further writes are permitted afterwards.
func (w *BodyWriter) finish() error {
	if w.finished {
		return nil
	}
	if err := w.Flush(); err != nil {
		return err
	}
	w.finished = true
	return w.send(BodyPart{Done: true})
}

func (w *BodyWriter) send(part BodyPart) error {
	select {
	case w.parts <- part:
		return nil
	case <-w.ctx.Done():
		// Receiver gone: the attempt was aborted or timed out.
		return &TransportError{Kind: TransportErrorIO, Err: w.ctx.Err()}
	}
}
