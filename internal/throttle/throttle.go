// Package throttle limits the throughput of FTP data streams.
//
// A Limiter is a token bucket measured in bytes per second, built on
// golang.org/x/time/rate. Readers and writers can chain several limiters
// (for example one per transfer and one for the whole server); the most
// restrictive one wins. Waits observe a context so a closing session never
// stays blocked on a throttled stream.
package throttle

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// maxChunk caps a single wait so slow limits still make steady progress.
const maxChunk = 32 * 1024

// Limiter limits a byte rate. A nil *Limiter means unlimited.
type Limiter struct {
	lim *rate.Limiter
}

// New returns a limiter allowing bytesPerSecond with a burst of one second
// worth of data (capped at maxChunk). It returns nil for bytesPerSecond <= 0.
func New(bytesPerSecond int64) *Limiter {
	if bytesPerSecond <= 0 {
		return nil
	}
	burst := int(min(bytesPerSecond, maxChunk))
	return &Limiter{lim: rate.NewLimiter(rate.Limit(bytesPerSecond), burst)}
}

// WaitN blocks until n bytes may pass or ctx is done.
func (l *Limiter) WaitN(ctx context.Context, n int) error {
	if l == nil {
		return nil
	}
	burst := l.lim.Burst()
	for n > 0 {
		chunk := min(n, burst)
		if err := l.lim.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

func compact(limiters []*Limiter) []*Limiter {
	out := limiters[:0:0]
	for _, l := range limiters {
		if l != nil {
			out = append(out, l)
		}
	}
	return out
}

func waitAll(ctx context.Context, limiters []*Limiter, n int) error {
	for _, l := range limiters {
		if err := l.WaitN(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

type reader struct {
	ctx      context.Context
	r        io.Reader
	limiters []*Limiter
}

// NewReader returns r throttled by every non-nil limiter. If there are
// none, r is returned unchanged.
func NewReader(ctx context.Context, r io.Reader, limiters ...*Limiter) io.Reader {
	limiters = compact(limiters)
	if len(limiters) == 0 {
		return r
	}
	return &reader{ctx: ctx, r: r, limiters: limiters}
}

func (r *reader) Read(p []byte) (int, error) {
	if len(p) > maxChunk {
		p = p[:maxChunk]
	}
	n, err := r.r.Read(p)
	if n > 0 {
		if werr := waitAll(r.ctx, r.limiters, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}

type writer struct {
	ctx      context.Context
	w        io.Writer
	limiters []*Limiter
}

// NewWriter returns w throttled by every non-nil limiter. If there are
// none, w is returned unchanged.
func NewWriter(ctx context.Context, w io.Writer, limiters ...*Limiter) io.Writer {
	limiters = compact(limiters)
	if len(limiters) == 0 {
		return w
	}
	return &writer{ctx: ctx, w: w, limiters: limiters}
}

func (w *writer) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		chunk := p[written:min(len(p), written+maxChunk)]
		if err := waitAll(w.ctx, w.limiters, len(chunk)); err != nil {
			return written, err
		}
		n, err := w.w.Write(chunk)
		written += n
		if err != nil {
			return written, err
		}
	}
	return written, nil
}
