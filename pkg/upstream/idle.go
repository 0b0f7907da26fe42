package upstream

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"
)

// ErrIdleTimeout is reported when the upstream stops sending body bytes.
var ErrIdleTimeout = errors.New("upstream read idle timeout")

// idleBody closes the wrapped body when a single Read waits longer than
// timeout. Time spent between reads, while the caller writes downstream, is
// not counted.
type idleBody struct {
	body    io.ReadCloser
	timeout time.Duration
	timer   *time.Timer
	expired atomic.Bool
}

func newIdleBody(body io.ReadCloser, timeout time.Duration) io.ReadCloser {
	if timeout <= 0 {
		return body
	}
	b := &idleBody{body: body, timeout: timeout}
	b.timer = time.AfterFunc(timeout, func() {
		b.expired.Store(true)
		_ = body.Close()
	})
	b.timer.Stop()
	return b
}

func (b *idleBody) Read(p []byte) (int, error) {
	if b.expired.Load() {
		return 0, b.timeoutErr()
	}
	b.timer.Reset(b.timeout)
	n, err := b.body.Read(p)
	b.timer.Stop()
	if b.expired.Load() {
		return n, b.timeoutErr()
	}
	return n, err
}

func (b *idleBody) Close() error {
	b.timer.Stop()
	return b.body.Close()
}

func (b *idleBody) timeoutErr() error {
	return fmt.Errorf("%w after %s", ErrIdleTimeout, b.timeout)
}
