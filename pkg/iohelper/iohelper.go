// Package iohelper reads and drains HTTP response bodies under a caller
// supplied size limit, so the Fetcher never buffers more of a target's
// response than its configured max_body_bytes.
package iohelper

import "io"

// ReadBody reads from r up to maxSize bytes. If r is nil it returns an
// empty slice and no error, matching http.Response.Body's own
// behavior for a response with no entity.
func ReadBody(r io.Reader, maxSize int64) ([]byte, error) {
	if r == nil {
		return []byte{}, nil
	}
	return io.ReadAll(io.LimitReader(r, maxSize))
}

// DrainAndClose reads and discards any bytes left unread on r (capped at
// 64KB) and closes it if it implements io.ReadCloser, so the underlying
// connection can be reused for keep-alive. It always returns nil so it
// can be deferred directly.
func DrainAndClose(r io.Reader) error {
	if r == nil {
		return nil
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(r, 64*1024))
	if rc, ok := r.(io.ReadCloser); ok {
		rc.Close()
	}
	return nil
}
