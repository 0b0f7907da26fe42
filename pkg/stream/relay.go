// Package stream relays an upstream event stream line by line, dropping
// blank lines and OpenRouter keep-alive comments.
package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	log "github.com/charmbracelet/log"
	"github.com/lkarlslund/openrouter-proxy/pkg/observability"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// KeepAliveMarker identifies upstream keep-alive comment lines.
const KeepAliveMarker = ": OPENROUTER PROCESSING"

const (
	DefaultChunkSize    = 1024
	DefaultMaxLineBytes = 1 << 20
)

// ChunkErrorEvent replaces a line that could not be relayed. The stream
// continues after it.
var ChunkErrorEvent = []byte("data: [ERROR] Encoding issue in chunk\n\n")

type Options struct {
	ChunkSize    int
	MaxLineBytes int
	Logger       *log.Logger
}

// Keep reports whether a decoded line is forwarded to the client.
func Keep(line string) bool {
	return strings.TrimSpace(line) != "" && !strings.Contains(line, KeepAliveMarker)
}

// FatalEvent is the terminal in-band record for a failed upstream read.
func FatalEvent(err error) []byte {
	msg := strings.ReplaceAll(err.Error(), "\n", " ")
	return []byte(fmt.Sprintf("data: [ERROR] %s\n\n", msg))
}

// Relay reads body until EOF, error or ctx cancellation and yields the records
// to send downstream. Each kept line is yielded with a single trailing newline.
// The channel is closed when the relay ends; the caller owns body.
func Relay(ctx context.Context, body io.Reader, opts Options) <-chan []byte {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.MaxLineBytes <= 0 {
		opts.MaxLineBytes = DefaultMaxLineBytes
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	out := make(chan []byte)
	go func() {
		defer close(out)
		r := &relay{ctx: ctx, out: out, opts: opts}
		r.run(body)
	}()
	return out
}

type relay struct {
	ctx     context.Context
	out     chan<- []byte
	opts    Options
	pending []byte
	// discarding is set while skipping the remainder of an oversize line.
	discarding bool
}

func (r *relay) run(body io.Reader) {
	// The decoder holds back incomplete multi-byte sequences until the next
	// read, so a rune split across chunks is reassembled.
	dec := transform.NewReader(body, unicode.UTF8.NewDecoder())
	buf := make([]byte, r.opts.ChunkSize)
	for {
		n, err := dec.Read(buf)
		if n > 0 {
			if !r.consume(buf[:n]) {
				return
			}
		}
		if errors.Is(err, io.EOF) {
			r.flushTail()
			return
		}
		if err != nil {
			if r.ctx.Err() != nil {
				return
			}
			r.opts.Logger.Error("upstream stream read failed", "err", err)
			r.send(FatalEvent(err))
			return
		}
	}
}

// consume splits chunk into lines and emits the complete ones. "\n", "\r"
// and "\r\n" all end a line; the empty line between "\r" and "\n" is
// dropped with the other blank lines.
func (r *relay) consume(chunk []byte) bool {
	for len(chunk) > 0 {
		idx := bytes.IndexAny(chunk, "\r\n")
		if idx < 0 {
			if r.discarding {
				return true
			}
			r.pending = append(r.pending, chunk...)
			if len(r.pending) > r.opts.MaxLineBytes {
				r.pending = r.pending[:0]
				r.discarding = true
				observability.StreamLinesDropped.WithLabelValues("oversize").Inc()
				r.opts.Logger.Warn("dropping oversize stream line", "limit", r.opts.MaxLineBytes)
				return r.send(ChunkErrorEvent)
			}
			return true
		}
		if r.discarding {
			r.discarding = false
		} else {
			r.pending = append(r.pending, chunk[:idx]...)
			if !r.emit(r.pending) {
				return false
			}
		}
		r.pending = r.pending[:0]
		chunk = chunk[idx+1:]
	}
	return true
}

func (r *relay) flushTail() {
	if r.discarding || len(r.pending) == 0 {
		return
	}
	r.emit(r.pending)
	r.pending = nil
}

func (r *relay) emit(line []byte) bool {
	s := string(line)
	if !Keep(s) {
		reason := "blank"
		if strings.Contains(s, KeepAliveMarker) {
			reason = "keepalive"
		}
		observability.StreamLinesDropped.WithLabelValues(reason).Inc()
		return true
	}
	rec := make([]byte, 0, len(line)+1)
	rec = append(rec, line...)
	rec = append(rec, '\n')
	return r.send(rec)
}

func (r *relay) send(rec []byte) bool {
	select {
	case r.out <- rec:
		return true
	case <-r.ctx.Done():
		return false
	}
}
