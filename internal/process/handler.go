package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"skein/internal/channel"
	"skein/internal/feed"
	"skein/internal/filter"
	"skein/internal/logging"
	"skein/internal/protocol"
	"skein/internal/story"
)

const (
	defaultReceiveTimeout = 100 * time.Millisecond
	defaultBarrierTimeout = 30 * time.Second
	defaultHelloTimeout   = 5 * time.Second
	stopGracePeriod       = 2 * time.Second
)

var (
	// ErrNotRunning reports a receive with no worker started.
	ErrNotRunning = errors.New("process: worker not running")
	// ErrRegistryMismatch reports a worker whose filter registry differs.
	ErrRegistryMismatch = errors.New("process: worker filter registry differs")
	// ErrBarrierTimeout reports a Flush or Kill echo that never arrived.
	ErrBarrierTimeout = errors.New("process: barrier echo not received")
)

// Options configures a Handler.
type Options struct {
	Launcher Launcher
	// Feeds are the interface's feeds. Queued flags and tags are kept on them.
	Feeds    []*feed.Feed
	Registry *filter.Registry
	// Persistent keeps the worker alive when no feed is queued.
	Persistent     bool
	ReceiveTimeout time.Duration
	BarrierTimeout time.Duration
	Logger         *slog.Logger
}

// Handler proxies commands to the worker. It is not safe for concurrent use;
// the interface loop owns it.
type Handler struct {
	launcher   Launcher
	feeds      []*feed.Feed
	byURL      map[string]*feed.Feed
	registry   *filter.Registry
	persistent bool
	timeout    time.Duration
	barrier    time.Duration
	logger     *slog.Logger

	ctx       context.Context
	session   *Session
	sessionID string
	launches  int
}

// New builds a handler. The worker starts on Start or the first Send.
func New(opts Options) (*Handler, error) {
	if opts.Launcher == nil {
		return nil, errors.New("process handler requires a launcher")
	}
	if opts.Registry == nil {
		return nil, errors.New("process handler requires a filter registry")
	}
	h := &Handler{
		launcher:   opts.Launcher,
		feeds:      opts.Feeds,
		byURL:      make(map[string]*feed.Feed, len(opts.Feeds)),
		registry:   opts.Registry,
		persistent: opts.Persistent,
		timeout:    opts.ReceiveTimeout,
		barrier:    opts.BarrierTimeout,
		logger:     opts.Logger,
		ctx:        context.Background(),
	}
	for _, f := range opts.Feeds {
		h.byURL[f.URL] = f
	}
	if h.timeout <= 0 {
		h.timeout = defaultReceiveTimeout
	}
	if h.barrier <= 0 {
		h.barrier = defaultBarrierTimeout
	}
	if h.logger == nil {
		h.logger = logging.NewNop()
	}
	h.logger = logging.NewComponentLogger(h.logger, "process")
	return h, nil
}

// SetPersistent switches persistent mode. A non-persistent handler kills the
// worker from Receive once no feed is queued.
func (h *Handler) SetPersistent(persistent bool) { h.persistent = persistent }

// Persistent reports the current mode.
func (h *Handler) Persistent() bool { return h.persistent }

// ReceiveTimeout is the default wait the interface loop uses.
func (h *Handler) ReceiveTimeout() time.Duration { return h.timeout }

// SessionID identifies the running worker, or "" if none.
func (h *Handler) SessionID() string { return h.sessionID }

// Restarts counts workers started after the first.
func (h *Handler) Restarts() int { return max(0, h.launches-1) }

// Alive reports whether a worker is running.
func (h *Handler) Alive() bool {
	return h.session != nil && !h.session.Exited()
}

// Start launches a worker if none is running and completes the Hello
// exchange. ctx bounds the worker's lifetime and later lazy restarts.
func (h *Handler) Start(ctx context.Context) error {
	if ctx != nil {
		h.ctx = ctx
	}
	if h.Alive() {
		return nil
	}
	if h.session != nil {
		h.discard()
	}

	id := uuid.NewString()
	ctx = logging.WithSession(h.ctx, id)
	session, err := h.launcher.Launch(ctx, id)
	if err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	h.session = session
	h.sessionID = id
	h.launches++
	logger := logging.WithContext(ctx, h.logger)

	if err := session.Commands.Send(protocol.Hello(h.registry.Digest(), h.feedTags())); err != nil {
		h.discard()
		return fmt.Errorf("greet worker: %w", err)
	}
	var reply protocol.Message
	if err := session.Results.Receive(&reply, true, defaultHelloTimeout); err != nil {
		h.discard()
		return fmt.Errorf("await worker hello: %w", err)
	}
	if reply.Kind != protocol.KindHello || reply.Error != "" {
		h.discard()
		return fmt.Errorf("%w: worker has %s, interface has %s", ErrRegistryMismatch, reply.Digest, h.registry.Digest())
	}
	logger.Debug("worker started",
		logging.String(logging.FieldEventType, "worker_started"),
		logging.Int("pid", session.PID),
		logging.Int("restarts", h.Restarts()),
	)
	return nil
}

func (h *Handler) feedTags() []protocol.FeedTags {
	out := make([]protocol.FeedTags, 0, len(h.feeds))
	for _, f := range h.feeds {
		out = append(out, protocol.FeedTags{URL: f.URL, Tags: append([]string(nil), f.Tags...), BaseSet: f.BaseResolved()})
	}
	return out
}

// discard drops the current session without a barrier.
func (h *Handler) discard() {
	if h.session == nil {
		return
	}
	h.session.Stop()
	_ = h.session.close()
	select {
	case <-h.session.Done():
	case <-time.After(stopGracePeriod):
		h.logger.Warn("worker did not exit after stop",
			logging.String(logging.FieldEventType, "worker_stop_timeout"),
			logging.Int("pid", h.session.PID),
		)
	}
	h.session = nil
	h.sessionID = ""
	h.clearQueued()
}

func (h *Handler) clearQueued() {
	for _, f := range h.feeds {
		f.Queued = false
	}
}

// Send starts or restarts the worker as needed and queues msg. Stories
// carried by msg are encoded before Send returns; those marked Updated are
// then marked Queued, since the worker now holds the change.
func (h *Handler) Send(msg protocol.Message) error {
	if !h.Alive() {
		if err := h.Start(h.ctx); err != nil {
			return err
		}
	}
	if err := h.session.Commands.Send(msg); err != nil {
		if errors.Is(err, channel.ErrClosed) {
			h.discard()
		}
		return fmt.Errorf("send %s: %w", msg.Kind, err)
	}
	for _, s := range msg.Items {
		if s != nil && s.Marker == story.Updated {
			s.Marker = story.Queued
		}
	}
	if msg.Kind == protocol.KindUpdate || msg.Kind == protocol.KindFilter {
		if f, ok := h.byURL[msg.URL]; ok {
			f.Queued = true
		}
	}
	return nil
}

// ReceiveRaw returns the next result without the non-persistent shutdown.
// A closed channel means the worker died; the next Send restarts it.
func (h *Handler) ReceiveRaw(block bool, timeout time.Duration) (protocol.Message, error) {
	var msg protocol.Message
	if h.session == nil {
		return msg, ErrNotRunning
	}
	if err := h.session.Results.Receive(&msg, block, timeout); err != nil {
		if errors.Is(err, channel.ErrClosed) {
			logging.WarnWithContext(h.logger, "worker exited unexpectedly; will restart on next command", "worker_lost",
				logging.String(logging.FieldSessionID, h.sessionID),
				logging.String(logging.FieldImpact, "queued feeds must be requested again"),
			)
			h.discard()
		}
		return msg, err
	}
	switch msg.Kind {
	case protocol.KindUpdate, protocol.KindFilter, protocol.KindDequeued:
		if f, ok := h.byURL[msg.URL]; ok {
			f.Queued = false
		}
	}
	return msg, nil
}

// Receive returns the next result. A non-persistent handler kills the worker
// once no feed remains queued.
func (h *Handler) Receive(block bool, timeout time.Duration) (protocol.Message, error) {
	msg, err := h.ReceiveRaw(block, timeout)
	if h.persistent || !h.Alive() {
		return msg, err
	}
	for _, f := range h.feeds {
		if f.Queued {
			return msg, err
		}
	}
	if killErr := h.Kill(); killErr != nil {
		h.logger.Debug("non-persistent kill failed", logging.Error(killErr))
	}
	return msg, err
}

// Flush discards every result produced by commands sent before it.
func (h *Handler) Flush() error {
	if !h.Alive() {
		return nil
	}
	return h.sendAndWait(protocol.KindFlush)
}

// Kill stops the worker after draining it. Once Kill returns the worker has
// exited.
func (h *Handler) Kill() error {
	if !h.Alive() {
		h.discard()
		return nil
	}
	err := h.sendAndWait(protocol.KindKill)
	if h.session != nil {
		select {
		case <-h.session.Done():
		case <-time.After(stopGracePeriod):
		}
	}
	h.discard()
	return err
}

// Close is Kill.
func (h *Handler) Close() error { return h.Kill() }

func (h *Handler) sendAndWait(kind protocol.Kind) error {
	token := uuid.NewString()
	msg := protocol.Message{Kind: kind, Token: token}
	if err := h.Send(msg); err != nil {
		return err
	}
	deadline := time.Now().Add(h.barrier)
	discarded := 0
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("%w: %s after %s", ErrBarrierTimeout, kind, h.barrier)
		}
		got, err := h.ReceiveRaw(true, remaining)
		if errors.Is(err, channel.ErrTimeout) {
			continue
		}
		if err != nil {
			return fmt.Errorf("await %s: %w", kind, err)
		}
		if got.Barrier(kind, token) {
			break
		}
		discarded++
	}
	h.clearQueued()
	h.logger.Debug("barrier complete",
		logging.String(logging.FieldEventType, "barrier_complete"),
		logging.String("kind", string(kind)),
		logging.Int("discarded", discarded),
	)
	return nil
}

// Sync asks the worker to persist every feed's stories and waits until each
// feed has answered.
func (h *Handler) Sync() error {
	if len(h.feeds) == 0 {
		return nil
	}
	pending := make(map[string]struct{}, len(h.feeds))
	for _, f := range h.feeds {
		if err := h.Send(protocol.Sync(f.URL, f.Items)); err != nil {
			return err
		}
		pending[f.URL] = struct{}{}
	}
	deadline := time.Now().Add(h.barrier)
	for len(pending) > 0 {
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %d feeds unsynced", ErrBarrierTimeout, len(pending))
		}
		msg, err := h.ReceiveRaw(true, time.Until(deadline))
		if errors.Is(err, channel.ErrTimeout) {
			continue
		}
		if err != nil {
			return fmt.Errorf("await sync: %w", err)
		}
		if msg.Kind == protocol.KindSync || msg.Kind == protocol.KindDequeued {
			delete(pending, msg.URL)
		}
	}
	return nil
}

// Tags asks the worker to resolve base tag collisions and applies the
// answer to the handler's feeds. Results for earlier commands that arrive
// first are discarded.
func (h *Handler) Tags() ([]protocol.FeedTags, error) {
	if err := h.Send(protocol.GetTags()); err != nil {
		return nil, err
	}
	deadline := time.Now().Add(h.barrier)
	for {
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrBarrierTimeout, protocol.KindGetTags)
		}
		msg, err := h.ReceiveRaw(true, time.Until(deadline))
		if errors.Is(err, channel.ErrTimeout) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("await tags: %w", err)
		}
		if msg.Kind != protocol.KindGetTags {
			continue
		}
		for _, ft := range msg.Feeds {
			if f, ok := h.byURL[ft.URL]; ok {
				f.SetTags(ft.Tags, ft.BaseSet)
			}
		}
		return msg.Feeds, nil
	}
}

// UpdateFeed queues a plain reload of f.
func (h *Handler) UpdateFeed(f *feed.Feed) error {
	return h.Send(protocol.Update(f.URL, f.Items))
}

// FilterFeed queues a reload of url diffed against prior.
func (h *Handler) FilterFeed(url string, prior []*story.Story, global int, info []protocol.TagInfo, refilter bool) error {
	return h.Send(protocol.Filter(url, prior, global, info, refilter))
}
