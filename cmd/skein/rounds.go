package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"skein/internal/channel"
	"skein/internal/logging"
	"skein/internal/protocol"
	"skein/internal/view"
)

// roundTimeout bounds how long a command waits for every feed to answer.
const roundTimeout = 60 * time.Second

// feedResult is one feed's answer to a refresh round.
type feedResult struct {
	URL      string
	Stories  int
	Dequeued bool
	Applied  view.Applied
}

// await hands fn one answer per url. Results for other feeds are skipped.
func (r *reader) await(ctx context.Context, urls []string, fn func(msg protocol.Message) error) error {
	pending := make(map[string]struct{}, len(urls))
	for _, url := range urls {
		pending[url] = struct{}{}
	}
	deadline := time.Now().Add(roundTimeout)
	for len(pending) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%d feeds did not answer within %s", len(pending), roundTimeout)
		}
		msg, err := r.handler.Receive(true, r.handler.ReceiveTimeout())
		if errors.Is(err, channel.ErrTimeout) {
			continue
		}
		if err != nil {
			return fmt.Errorf("receive result: %w", err)
		}
		if _, ok := pending[msg.URL]; !ok {
			r.logger.Debug("ignoring unrequested result", logging.String("kind", string(msg.Kind)), logging.FeedURL(msg.URL))
			continue
		}
		switch msg.Kind {
		case protocol.KindUpdate, protocol.KindFilter, protocol.KindDequeued:
		default:
			continue
		}
		delete(pending, msg.URL)
		if err := fn(msg); err != nil {
			return err
		}
	}
	return nil
}

// updateAll reloads every feed and installs the full story lists on the
// interface side.
func (r *reader) updateAll(ctx context.Context) ([]feedResult, error) {
	urls := make([]string, 0, len(r.feeds))
	for _, f := range r.feeds {
		if err := r.handler.UpdateFeed(f); err != nil {
			return nil, err
		}
		urls = append(urls, f.URL)
	}
	results := make(map[string]feedResult, len(urls))
	err := r.await(ctx, urls, func(msg protocol.Message) error {
		res := feedResult{URL: msg.URL, Dequeued: msg.Kind == protocol.KindDequeued}
		if !res.Dequeued {
			if f, ok := r.byURL[msg.URL]; ok {
				f.Items = msg.Items
			}
			res.Stories = len(msg.Items)
		}
		results[msg.URL] = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ordered(urls, results), nil
}

// filterAll refreshes every feed against board and applies the diffs.
func (r *reader) filterAll(ctx context.Context, board *view.Board, refilter bool) ([]feedResult, error) {
	urls := make([]string, 0, len(r.feeds))
	for _, f := range r.feeds {
		urls = append(urls, f.URL)
	}
	return r.filter(ctx, board, urls, refilter)
}

func (r *reader) filter(ctx context.Context, board *view.Board, urls []string, refilter bool) ([]feedResult, error) {
	info := board.TagInfo()
	for _, url := range urls {
		if err := r.handler.FilterFeed(url, board.Prior(url), board.GlobalFilter(), info, refilter); err != nil {
			return nil, err
		}
	}
	results := make(map[string]feedResult, len(urls))
	err := r.await(ctx, urls, func(msg protocol.Message) error {
		res := feedResult{URL: msg.URL, Dequeued: msg.Kind == protocol.KindDequeued}
		if !res.Dequeued {
			applied, err := board.Apply(msg)
			if err != nil {
				return fmt.Errorf("apply %s: %w", msg.URL, err)
			}
			res.Applied = applied
			res.Stories = len(msg.Items)
		}
		results[msg.URL] = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ordered(urls, results), nil
}

func ordered(urls []string, results map[string]feedResult) []feedResult {
	out := make([]feedResult, 0, len(urls))
	for _, url := range urls {
		out = append(out, results[url])
	}
	return out
}
