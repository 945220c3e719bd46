package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"

	"skein/internal/channel"
	"skein/internal/feed"
	"skein/internal/filter"
	"skein/internal/logging"
	"skein/internal/worker"
)

// Session is one running worker.
type Session struct {
	Commands *channel.Channel
	Results  *channel.Channel
	PID      int

	done     chan struct{}
	stop     func()
	exitErr  error
	exitOnce sync.Once
}

func newSession(cmds, results *channel.Channel, pid int, stop func()) *Session {
	return &Session{
		Commands: cmds,
		Results:  results,
		PID:      pid,
		done:     make(chan struct{}),
		stop:     stop,
	}
}

func (s *Session) exited(err error) {
	s.exitOnce.Do(func() {
		s.exitErr = err
		close(s.done)
	})
}

// Done is closed once the worker has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// Exited reports whether the worker has exited.
func (s *Session) Exited() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Err returns the worker's exit error once Done is closed.
func (s *Session) Err() error {
	<-s.done
	return s.exitErr
}

// Stop terminates the worker without a barrier.
func (s *Session) Stop() {
	if s.stop != nil {
		s.stop()
	}
}

func (s *Session) close() error {
	return errors.Join(s.Commands.Close(), s.Results.Close())
}

// Launcher starts workers.
type Launcher interface {
	Launch(ctx context.Context, sessionID string) (*Session, error)
}

// ExecLauncher re-executes a binary as the worker. The child reads commands
// from descriptor worker.CommandFD and writes results to worker.ResultFD.
type ExecLauncher struct {
	Executable string
	// Args precede the generated flags; the default is ["worker"].
	Args       []string
	ConfigPath string
	Env        []string
	Logger     *slog.Logger
}

// Launch starts the child and reaps it in the background.
func (l ExecLauncher) Launch(_ context.Context, sessionID string) (*Session, error) {
	if strings.TrimSpace(l.Executable) == "" {
		return nil, fmt.Errorf("resolve executable: executable path is empty")
	}
	logger := l.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	args := l.Args
	if len(args) == 0 {
		args = []string{"worker"}
	}
	args = append(append([]string(nil), args...), "--session", sessionID)
	if cfg := strings.TrimSpace(l.ConfigPath); cfg != "" {
		args = append(args, "--config", cfg)
	}

	cmdR, cmdW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create command pipe: %w", err)
	}
	resR, resW, err := os.Pipe()
	if err != nil {
		cmdR.Close()
		cmdW.Close()
		return nil, fmt.Errorf("create result pipe: %w", err)
	}

	proc := exec.Command(l.Executable, args...)
	proc.ExtraFiles = []*os.File{cmdR, resW}
	if len(l.Env) > 0 {
		proc.Env = append(os.Environ(), l.Env...)
	}
	startErr := proc.Start()
	// The child holds its own copies now.
	cmdR.Close()
	resW.Close()
	if startErr != nil {
		cmdW.Close()
		resR.Close()
		return nil, fmt.Errorf("launch worker: %w", startErr)
	}

	cmds := channel.New(nil, cmdW, channel.WithLogger(logger), channel.WithName("commands"))
	results := channel.New(resR, nil, channel.WithLogger(logger), channel.WithName("results"))
	session := newSession(cmds, results, proc.Process.Pid, func() { _ = proc.Process.Kill() })
	go func() {
		session.exited(proc.Wait())
	}()
	return session, nil
}

// InProcessLauncher runs the worker loop on a goroutine. Each launch works
// on fresh deep copies of Feeds.
type InProcessLauncher struct {
	Feeds    []*feed.Feed
	Registry *filter.Registry
	Options  []worker.Option
	Logger   *slog.Logger
}

// Launch starts the worker goroutine.
func (l InProcessLauncher) Launch(ctx context.Context, _ string) (*Session, error) {
	if l.Registry == nil {
		return nil, errors.New("in-process worker requires a filter registry")
	}
	logger := logging.WithContext(ctx, l.Logger)

	cmdLink, err := channel.Pipe()
	if err != nil {
		return nil, err
	}
	resLink, err := channel.Pipe()
	if err != nil {
		cmdLink.Close()
		return nil, err
	}

	feeds := make([]*feed.Feed, len(l.Feeds))
	for i, f := range l.Feeds {
		feeds[i] = f.Clone()
		feeds[i].Clear()
	}
	opts := append([]worker.Option{worker.WithLogger(logger)}, l.Options...)
	w := worker.New(
		channel.New(cmdLink.Reader(), nil, channel.WithLogger(logger), channel.WithName("worker-commands")),
		channel.New(nil, resLink.Writer(), channel.WithLogger(logger), channel.WithName("worker-results")),
		feeds, l.Registry, opts...,
	)

	runCtx, cancel := context.WithCancel(ctx)
	cmds := channel.New(nil, cmdLink.Writer(), channel.WithLogger(logger), channel.WithName("commands"))
	results := channel.New(resLink.Reader(), nil, channel.WithLogger(logger), channel.WithName("results"))
	session := newSession(cmds, results, os.Getpid(), cancel)
	go func() {
		defer cancel()
		session.exited(w.Run(runCtx))
	}()
	return session, nil
}
