package courier

// Body is the capability a caller implements to supply a request payload.
// It supports both fully buffered and streamed bodies, and can be replayed
// across retry attempts if it knows how to rewind itself.
//
// In-memory payloads should use BytesBody rather than implementing Body.
//
// Example streaming implementation:
//
//	type fileBody struct{ f *os.File }
//
//	func (b *fileBody) ContentLength() (int64, bool) { return 0, false }
//	func (b *fileBody) ContentType() string          { return "application/octet-stream" }
//	func (b *fileBody) FullBody() []byte             { return nil }
//
//	func (b *fileBody) Write(w *courier.BodyWriter) error {
//	    _, err := io.Copy(w, b.f)
//	    return err
//	}
//
//	func (b *fileBody) Reset() bool {
//	    _, err := b.f.Seek(0, io.SeekStart)
//	    return err == nil
//	}
type Body interface {
	// ContentLength returns the length of the body if known.
	// ok == false means the body is streamed with chunked encoding.
	ContentLength() (length int64, ok bool)

	// ContentType returns the value for the Content-Type header.
	ContentType() string

	// FullBody returns the entire payload if it is fully buffered.
	// Write is only invoked when FullBody returns nil.
	FullBody() []byte

	// Write streams the body data out through the writer.
	Write(w *BodyWriter) error

	// Reset rewinds the body to its start so it can be resent.
	//
	// Returns true iff the body was successfully reset. Requests whose
	// bodies cannot be reset cannot be retried.
	Reset() bool
}

// BytesBody is a fully buffered Body with a content type. It reports its
// content length and is always resettable.
type BytesBody struct {
	body        []byte
	contentType string
}

// NewBytesBody creates a BytesBody. The byte slice is not copied; callers
// must not mutate it while the request is in flight.
func NewBytesBody(body []byte, contentType string) *BytesBody {
	return &BytesBody{body: body, contentType: contentType}
}

// ContentLength implements Body.
func (b *BytesBody) ContentLength() (int64, bool) { return int64(len(b.body)), true }

// ContentType implements Body.
func (b *BytesBody) ContentType() string { return b.contentType }

// FullBody implements Body.
func (b *BytesBody) FullBody() []byte { return b.body }

// Write implements Body. It is never invoked because FullBody is non-nil.
func (b *BytesBody) Write(*BodyWriter) error { return nil }

// Reset implements Body.
func (b *BytesBody) Reset() bool { return true }

// resetTrackingBody wraps a Body and remembers whether a streaming attempt
// may have consumed bytes since the last successful reset. The flag is
// maintained entirely by the retry loop's goroutine: set when a streaming
// attempt is prepared (before its producer starts) and cleared by a
// successful Reset, so a body is never replayed without having been shown
// to successfully rewind. The producer goroutine only ever calls Write.
type resetTrackingBody struct {
	body       Body
	needsReset bool
}

func newResetTrackingBody(body Body) *resetTrackingBody {
	return &resetTrackingBody{body: body}
}

func (b *resetTrackingBody) ContentLength() (int64, bool) { return b.body.ContentLength() }
func (b *resetTrackingBody) ContentType() string          { return b.body.ContentType() }
func (b *resetTrackingBody) FullBody() []byte             { return b.body.FullBody() }

func (b *resetTrackingBody) Write(w *BodyWriter) error {
	return b.body.Write(w)
}

func (b *resetTrackingBody) Reset() bool {
	ok := b.body.Reset()
	if ok {
		b.needsReset = false
	}
	return ok
}
