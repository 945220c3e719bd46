// Package channel implements a one-directional, framed message pipe.
//
// Messages are JSON documents terminated by a NUL byte, which JSON never
// contains unescaped. Send encodes immediately and hands the frame to a
// background sender started on first use, so callers never block on a full
// pipe. Receive reassembles frames from whatever the pipe delivers and waits
// for more only up to the caller's deadline. Two channels, one per
// direction, form the link between the interface and the worker.
package channel

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/sys/unix"

	"skein/internal/logging"
)

const (
	sentinel     = 0
	readChunk    = 64 * 1024
	drainTimeout = 2 * time.Second
)

var (
	// ErrTimeout reports that no complete message arrived in time.
	ErrTimeout = errors.New("channel: receive timed out")
	// ErrClosed reports that the peer is gone or the channel was closed.
	ErrClosed = errors.New("channel: closed")
	// ErrMalformed reports a frame that does not decode.
	ErrMalformed = errors.New("channel: malformed message")
	// ErrWrongDirection reports Send on a read-only end or Receive on a
	// write-only end.
	ErrWrongDirection = errors.New("channel: wrong direction")
)

// Option configures a Channel.
type Option func(*Channel)

// WithLogger sets the logger used for sender failures.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Channel) { c.logger = logger }
}

// WithName labels the channel in logs.
func WithName(name string) Option {
	return func(c *Channel) { c.name = name }
}

// WithDrainTimeout bounds how long Close waits for queued frames.
func WithDrainTimeout(d time.Duration) Option {
	return func(c *Channel) { c.drain = d }
}

// Channel is one direction of the link. Either end may be nil: the sending
// side holds only w, the receiving side only r. A channel built by Pipe
// holds both and loops back to itself.
type Channel struct {
	r *os.File
	w *os.File

	name   string
	drain  time.Duration
	logger *slog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	queue   [][]byte
	started bool
	closing bool
	sendErr error
	done    chan struct{}

	recvMu sync.Mutex
	buf    []byte
	chunk  []byte
	eof    bool

	closeOnce sync.Once
	closeErr  error
}

// New wraps the given pipe ends.
func New(r, w *os.File, opts ...Option) *Channel {
	c := &Channel{
		r:     r,
		w:     w,
		name:  "channel",
		drain: drainTimeout,
		done:  make(chan struct{}),
	}
	c.cond = sync.NewCond(&c.mu)
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logging.NewNop()
	}
	c.logger = c.logger.With(logging.String(logging.FieldComponent, c.name))
	return c
}

// Pipe creates a loopback channel over a fresh OS pipe.
func Pipe(opts ...Option) (*Channel, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("channel: create pipe: %w", err)
	}
	return New(r, w, opts...), nil
}

// Reader returns the read end, or nil.
func (c *Channel) Reader() *os.File { return c.r }

// Writer returns the write end, or nil.
func (c *Channel) Writer() *os.File { return c.w }

// Send encodes msg and queues it. It returns once the frame is queued; an
// error means msg did not encode or the peer is known to be gone.
func (c *Channel) Send(msg any) error {
	if c.w == nil {
		return ErrWrongDirection
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("channel: encode: %w", err)
	}
	if bytes.IndexByte(data, sentinel) >= 0 {
		return fmt.Errorf("%w: encoded message contains the frame sentinel", ErrMalformed)
	}
	frame := append(data, sentinel)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing {
		return ErrClosed
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	c.queue = append(c.queue, frame)
	if !c.started {
		c.started = true
		go c.sender()
	}
	c.cond.Signal()
	return nil
}

func (c *Channel) sender() {
	defer close(c.done)
	for {
		c.mu.Lock()
		for len(c.queue) == 0 && !c.closing {
			c.cond.Wait()
		}
		if len(c.queue) == 0 {
			c.mu.Unlock()
			return
		}
		frame := c.queue[0]
		c.queue[0] = nil
		c.queue = c.queue[1:]
		c.mu.Unlock()

		if _, err := c.w.Write(frame); err != nil {
			c.mu.Lock()
			c.sendErr = ErrClosed
			dropped := len(c.queue)
			c.queue = nil
			c.mu.Unlock()
			c.logger.Debug("sender stopped; peer unreachable",
				logging.String(logging.FieldEventType, "channel_send_failed"),
				logging.Int("dropped", dropped),
				logging.Error(err),
			)
			return
		}
	}
}

// Pending returns the number of frames not yet written.
func (c *Channel) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Receive decodes the next message into dst. When block is false Receive
// only consumes what is already available. When block is true it waits up
// to timeout, or indefinitely if timeout is not positive.
func (c *Channel) Receive(dst any, block bool, timeout time.Duration) error {
	if c.r == nil {
		return ErrWrongDirection
	}
	c.recvMu.Lock()
	defer c.recvMu.Unlock()

	var deadline time.Time
	if block && timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		if frame, ok := c.nextFrame(); ok {
			if err := json.Unmarshal(frame, dst); err != nil {
				return fmt.Errorf("%w: %v", ErrMalformed, err)
			}
			return nil
		}
		if c.eof {
			return ErrClosed
		}
		var err error
		if block {
			err = c.fill(deadline)
		} else {
			err = c.fillNow()
		}
		if err != nil {
			return err
		}
	}
}

func (c *Channel) nextFrame() ([]byte, bool) {
	idx := bytes.IndexByte(c.buf, sentinel)
	if idx < 0 {
		return nil, false
	}
	frame := c.buf[:idx]
	c.buf = c.buf[idx+1:]
	if len(c.buf) == 0 {
		c.buf = nil
	}
	return frame, true
}

func (c *Channel) readBuffer() []byte {
	if c.chunk == nil {
		c.chunk = make([]byte, readChunk)
	}
	return c.chunk
}

// fill waits for data until deadline; a zero deadline waits indefinitely.
func (c *Channel) fill(deadline time.Time) error {
	if err := c.r.SetReadDeadline(deadline); err != nil {
		// Inherited descriptors that were never made non-blocking cannot
		// time out, but they can still wait forever.
		if !errors.Is(err, os.ErrNoDeadline) || !deadline.IsZero() {
			return fmt.Errorf("channel: set deadline: %w", err)
		}
	}
	n, err := c.r.Read(c.readBuffer())
	if n > 0 {
		c.buf = append(c.buf, c.chunk[:n]...)
		return nil
	}
	return c.readError(err)
}

// fillNow takes whatever the pipe holds without waiting.
func (c *Channel) fillNow() error {
	raw, err := c.r.SyscallConn()
	if err != nil {
		return fmt.Errorf("channel: raw conn: %w", err)
	}
	var (
		n       int
		readErr error
	)
	chunk := c.readBuffer()
	ctlErr := raw.Read(func(fd uintptr) bool {
		for {
			n, readErr = unix.Read(int(fd), chunk)
			if readErr != unix.EINTR {
				return true
			}
		}
	})
	if ctlErr != nil {
		// The descriptor is closing underneath us.
		c.eof = true
		return nil
	}
	switch {
	case n > 0:
		c.buf = append(c.buf, chunk[:n]...)
		return nil
	case readErr == nil:
		return c.readError(io.EOF)
	case errors.Is(readErr, unix.EAGAIN):
		return ErrTimeout
	default:
		return c.readError(readErr)
	}
}

func (c *Channel) readError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, os.ErrDeadlineExceeded):
		return ErrTimeout
	case errors.Is(err, io.EOF), errors.Is(err, os.ErrClosed), errors.Is(err, unix.EBADF):
		c.eof = true
		return nil
	default:
		return fmt.Errorf("channel: read: %w", err)
	}
}

// Close drains queued frames, bounded by the drain timeout, then closes
// both ends.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closing = true
		started := c.started
		c.cond.Broadcast()
		c.mu.Unlock()

		if started {
			_ = c.w.SetWriteDeadline(time.Now().Add(c.drain))
			<-c.done
		}
		var errs []error
		if c.w != nil {
			errs = append(errs, c.w.Close())
		}
		if c.r != nil {
			errs = append(errs, c.r.Close())
		}
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}
