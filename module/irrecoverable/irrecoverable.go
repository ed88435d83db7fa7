package irrecoverable

import (
	"context"
	"runtime"
)

// Signaler sends irrecoverable errors to the component that owns the context.
type Signaler struct {
	errChan chan error
}

func NewSignaler() (*Signaler, <-chan error) {
	errChan := make(chan error, 1)
	return &Signaler{errChan: errChan}, errChan
}

// Throw is a narrow drop-in replacement for panic or log.Fatal for code that has access to a
// SignalerContext. Only the first error thrown is delivered; the calling goroutine always exits.
func (s *Signaler) Throw(err error) {
	select {
	case s.errChan <- err:
	default:
	}
	runtime.Goexit()
}

// SignalerContext is a context.Context that can also propagate irrecoverable errors to the
// owner of the context.
type SignalerContext interface {
	context.Context
	Throw(err error)
	sealed()
}

type signalerCtx struct {
	context.Context
	*Signaler
}

func (sc signalerCtx) sealed() {}

// WithSignaler returns a SignalerContext derived from ctx, together with the channel on which
// thrown errors are delivered.
func WithSignaler(parent context.Context) (SignalerContext, <-chan error) {
	sig, errChan := NewSignaler()
	return &signalerCtx{parent, sig}, errChan
}
