package channel_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"pgregory.net/rapid"

	"skein/internal/channel"
)

type note struct {
	Seq  int    `json:"seq"`
	Body string `json:"body"`
}

func newPipe(t testing.TB) *channel.Channel {
	t.Helper()
	c, err := channel.Pipe()
	if err != nil {
		t.Fatalf("Pipe: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestSendReceivePreservesOrder(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		c, err := channel.Pipe()
		if err != nil {
			rt.Fatalf("Pipe: %v", err)
		}
		defer c.Close()
		bodies := rapid.SliceOfN(rapid.String(), 1, 40).Draw(rt, "bodies")
		for i, body := range bodies {
			if err := c.Send(note{Seq: i, Body: body}); err != nil {
				rt.Fatalf("Send %d: %v", i, err)
			}
		}
		for i, body := range bodies {
			var got note
			if err := c.Receive(&got, true, time.Second); err != nil {
				rt.Fatalf("Receive %d: %v", i, err)
			}
			if got.Seq != i || got.Body != body {
				rt.Fatalf("message %d = %+v, want seq %d body %q", i, got, i, body)
			}
		}
	})
}

func TestReceiveTimesOut(t *testing.T) {
	c := newPipe(t)
	var got note
	if err := c.Receive(&got, false, 0); !errors.Is(err, channel.ErrTimeout) {
		t.Fatalf("non-blocking receive on empty pipe: %v", err)
	}
	start := time.Now()
	if err := c.Receive(&got, true, 20*time.Millisecond); !errors.Is(err, channel.ErrTimeout) {
		t.Fatalf("blocking receive with deadline: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Fatalf("receive returned after %v, before its deadline", elapsed)
	}
}

func TestLargeMessagesSurviveAFullPipe(t *testing.T) {
	c := newPipe(t)
	body := strings.Repeat("x", 512*1024)
	for i := range 3 {
		if err := c.Send(note{Seq: i, Body: body}); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	for i := range 3 {
		var got note
		if err := c.Receive(&got, true, 5*time.Second); err != nil {
			t.Fatalf("Receive %d: %v", i, err)
		}
		if got.Seq != i || len(got.Body) != len(body) {
			t.Fatalf("message %d: seq=%d len=%d", i, got.Seq, len(got.Body))
		}
	}
}

func TestEmbeddedNulIsEscaped(t *testing.T) {
	c := newPipe(t)
	if err := c.Send(note{Body: "a\x00b"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	var got note
	if err := c.Receive(&got, true, time.Second); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if got.Body != "a\x00b" {
		t.Fatalf("body = %q", got.Body)
	}
}

func TestReceiveAfterWriterClosed(t *testing.T) {
	link, err := channel.Pipe()
	if err != nil {
		t.Fatalf("Pipe: %v", err)
	}
	sender := channel.New(nil, link.Writer())
	receiver := channel.New(link.Reader(), nil)
	t.Cleanup(func() { _ = receiver.Close() })

	if err := sender.Send(note{Seq: 7}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := sender.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var got note
	if err := receiver.Receive(&got, true, time.Second); err != nil || got.Seq != 7 {
		t.Fatalf("expected queued message to drain before close, got %+v %v", got, err)
	}
	if err := receiver.Receive(&got, true, time.Second); !errors.Is(err, channel.ErrClosed) {
		t.Fatalf("expected ErrClosed after writer exit, got %v", err)
	}
	if err := sender.Send(note{}); !errors.Is(err, channel.ErrClosed) {
		t.Fatalf("expected Send after Close to fail, got %v", err)
	}
}

func TestMalformedFrame(t *testing.T) {
	c := newPipe(t)
	if _, err := c.Writer().Write([]byte("{not json\x00")); err != nil {
		t.Fatalf("raw write: %v", err)
	}
	if err := c.Send(note{Seq: 1}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	var got note
	if err := c.Receive(&got, true, time.Second); !errors.Is(err, channel.ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
	if err := c.Receive(&got, true, time.Second); err != nil || got.Seq != 1 {
		t.Fatalf("expected next frame to decode, got %+v %v", got, err)
	}
}

func TestWrongDirection(t *testing.T) {
	link := newPipe(t)
	readOnly := channel.New(link.Reader(), nil)
	if err := readOnly.Send(note{}); !errors.Is(err, channel.ErrWrongDirection) {
		t.Fatalf("Send on read end: %v", err)
	}
	writeOnly := channel.New(nil, link.Writer())
	var got note
	if err := writeOnly.Receive(&got, false, 0); !errors.Is(err, channel.ErrWrongDirection) {
		t.Fatalf("Receive on write end: %v", err)
	}
}
