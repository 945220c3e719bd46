package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sys/unix"

	"skein/internal/channel"
	"skein/internal/diff"
	"skein/internal/feed"
	"skein/internal/filter"
	"skein/internal/logging"
	"skein/internal/protocol"
)

const (
	defaultPollInterval = 100 * time.Millisecond
	defaultSyncAttempts = 5
)

// ErrRegistryMismatch reports a Hello whose digest differs from the worker's.
var ErrRegistryMismatch = errors.New("worker: filter registry mismatch")

// Option configures a Worker.
type Option func(*Worker)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) { w.logger = logger }
}

// WithPollInterval sets how long each receive waits before the loop checks
// whether its parent is still there.
func WithPollInterval(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.poll = d
		}
	}
}

// WithSyncAttempts bounds the commits a Sync command retries.
func WithSyncAttempts(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.syncAttempts = n
		}
	}
}

// WithOrphanCheck replaces the parent liveness probe.
func WithOrphanCheck(check func() bool) Option {
	return func(w *Worker) { w.orphaned = check }
}

// Worker executes commands against its private feeds.
type Worker struct {
	cmds     *channel.Channel
	results  *channel.Channel
	feeds    []*feed.Feed
	byURL    map[string]*feed.Feed
	registry *filter.Registry

	logger       *slog.Logger
	poll         time.Duration
	syncAttempts int
	orphaned     func() bool
}

// New builds a worker reading cmds and answering on results.
func New(cmds, results *channel.Channel, feeds []*feed.Feed, reg *filter.Registry, opts ...Option) *Worker {
	w := &Worker{
		cmds:         cmds,
		results:      results,
		feeds:        feeds,
		byURL:        make(map[string]*feed.Feed, len(feeds)),
		registry:     reg,
		poll:         defaultPollInterval,
		syncAttempts: defaultSyncAttempts,
		orphaned:     parentChanged(unix.Getppid()),
	}
	for _, f := range feeds {
		w.byURL[f.URL] = f
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = logging.NewNop()
	}
	w.logger = logging.NewComponentLogger(w.logger, "worker")
	return w
}

// parentChanged reports true once the process has been reparented, which
// happens when the interface that started it exits.
func parentChanged(start int) func() bool {
	return func() bool { return unix.Getppid() != start }
}

// Run processes commands until Kill, cancellation of ctx, or the loss of
// the parent. It returns nil on any of those and an error when a channel
// fails while the parent is still alive.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Debug("worker started",
		logging.String(logging.FieldEventType, "worker_started"),
		logging.Int("feeds", len(w.feeds)),
	)
	for {
		var msg protocol.Message
		err := w.cmds.Receive(&msg, true, w.poll)
		switch {
		case err == nil:
		case errors.Is(err, channel.ErrTimeout):
			if w.abandoned(ctx) {
				w.shutdown("parent gone")
				return nil
			}
			continue
		case errors.Is(err, channel.ErrMalformed):
			logging.WarnWithContext(w.logger, "dropping undecodable command", "command_malformed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "interface and worker binaries may differ"),
			)
			continue
		default:
			if w.abandoned(ctx) {
				w.shutdown("parent gone")
				return nil
			}
			return fmt.Errorf("receive command: %w", err)
		}

		done, err := w.handle(msg)
		if err != nil {
			if w.abandoned(ctx) {
				w.shutdown("parent gone")
				return nil
			}
			return err
		}
		if done {
			return nil
		}
	}
}

func (w *Worker) abandoned(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	return w.orphaned != nil && w.orphaned()
}

// shutdown is the Kill sequence without the echo.
func (w *Worker) shutdown(reason string) {
	w.logger.Info("worker exiting",
		logging.String(logging.FieldEventType, "worker_orphaned"),
		logging.String("reason", reason),
	)
	w.closeChannels()
}

func (w *Worker) closeChannels() {
	if err := w.results.Close(); err != nil {
		w.logger.Debug("close results channel", logging.Error(err))
	}
	if err := w.cmds.Close(); err != nil {
		w.logger.Debug("close command channel", logging.Error(err))
	}
}

func (w *Worker) send(msg protocol.Message) error {
	if err := w.results.Send(msg); err != nil {
		return fmt.Errorf("send %s: %w", msg.Kind, err)
	}
	return nil
}

// handle executes one command. done is true once the worker must stop.
func (w *Worker) handle(msg protocol.Message) (done bool, err error) {
	logger := w.logger.With(logging.String(logging.FieldCommand, string(msg.Kind)))
	logger.Debug("command received", logging.String("message", msg.String()))

	switch msg.Kind {
	case protocol.KindHello:
		return w.hello(msg)
	case protocol.KindGetTags:
		feed.ResolveBaseTags(w.feeds)
		return false, w.send(protocol.Message{Kind: protocol.KindGetTags, Feeds: w.tags()})
	case protocol.KindFlush:
		return false, w.send(msg)
	case protocol.KindKill:
		if err := w.send(msg); err != nil {
			return true, err
		}
		w.closeChannels()
		logger.Debug("worker killed", logging.String(logging.FieldEventType, "worker_killed"))
		return true, nil
	case protocol.KindSync:
		return false, w.sync(msg)
	case protocol.KindUpdate, protocol.KindFilter:
		return false, w.refresh(msg, logger)
	default:
		logging.WarnWithContext(logger, "ignoring unknown command", "command_unknown",
			logging.String(logging.FieldErrorHint, "interface and worker binaries may differ"),
		)
		return false, nil
	}
}

func (w *Worker) hello(msg protocol.Message) (bool, error) {
	digest := w.registry.Digest()
	if msg.Digest != "" && msg.Digest != digest {
		logging.ErrorWithContext(w.logger, "refusing session; filter registry differs", "registry_mismatch",
			logging.String("want", msg.Digest),
			logging.String("have", digest),
			logging.String(logging.FieldErrorHint, "restart after editing filters or sorts"),
		)
		reply := protocol.Message{Kind: protocol.KindHello, Digest: digest, Error: ErrRegistryMismatch.Error()}
		if err := w.send(reply); err != nil {
			return true, err
		}
		w.closeChannels()
		return true, nil
	}
	for _, ft := range msg.Feeds {
		if f, ok := w.byURL[ft.URL]; ok {
			f.SetTags(ft.Tags, ft.BaseSet)
		}
	}
	return false, w.send(protocol.Message{Kind: protocol.KindHello, Digest: digest})
}

func (w *Worker) tags() []protocol.FeedTags {
	out := make([]protocol.FeedTags, 0, len(w.feeds))
	for _, f := range w.feeds {
		out = append(out, protocol.FeedTags{URL: f.URL, Tags: append([]string(nil), f.Tags...), BaseSet: f.BaseResolved()})
	}
	return out
}

func (w *Worker) sync(msg protocol.Message) error {
	f, ok := w.byURL[msg.URL]
	if !ok {
		return w.send(protocol.Dequeued(msg.URL))
	}
	f.Merge(msg.Items)
	for attempt := 1; len(f.Changed()) > 0; attempt++ {
		if attempt > w.syncAttempts {
			logging.WarnWithContext(w.logger, "sync gave up with unsaved changes", "sync_incomplete",
				logging.FeedURL(f.URL),
				logging.Int("unsaved", len(f.Changed())),
				logging.String(logging.FieldImpact, "read/marked state kept in memory only"),
			)
			break
		}
		if !f.Commit(nil) {
			time.Sleep(w.poll)
		}
	}
	return w.send(protocol.Message{Kind: protocol.KindSync, URL: f.URL})
}

func (w *Worker) refresh(msg protocol.Message, logger *slog.Logger) error {
	f, ok := w.byURL[msg.URL]
	if !ok {
		logger.Debug("unknown feed", logging.FeedURL(msg.URL))
		return w.send(protocol.Dequeued(msg.URL))
	}
	f.Merge(msg.Items)
	if !f.Update() {
		return w.send(protocol.Dequeued(f.URL))
	}
	if msg.Kind == protocol.KindUpdate {
		return w.send(protocol.Message{Kind: protocol.KindUpdate, URL: f.URL, Items: f.Items})
	}

	newDiff, oldDiff, err := diff.Compute(f.Items, msg.Items, w.registry, msg.GlobalFilter, msg.TagInfo, msg.Refilter)
	if err != nil {
		logging.WarnWithContext(logger, "diff failed; dequeuing feed", "diff_failed",
			logging.FeedURL(f.URL),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "filter or sort index outside the registry"),
		)
		return w.send(protocol.Dequeued(f.URL))
	}
	reply := protocol.Message{
		Kind:    protocol.KindFilter,
		URL:     f.URL,
		Items:   f.Items,
		NewDiff: newDiff,
		OldDiff: oldDiff,
	}
	// Send encodes before returning, so the list can go.
	err = w.send(reply)
	f.Clear()
	return err
}
