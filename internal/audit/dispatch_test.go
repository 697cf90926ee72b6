package audit

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"meridian.club/internal/obs"
)

type blockingAppender struct {
	release chan struct{}
	mu      sync.Mutex
	got     []Event
}

func (b *blockingAppender) Append(ctx context.Context, evt Event) (Event, error) {
	<-b.release
	b.mu.Lock()
	b.got = append(b.got, evt)
	b.mu.Unlock()
	return evt, nil
}

func TestDispatcherDrainsOnClose(t *testing.T) {
	trail, sink := newTestTrail(t)
	d := NewDispatcher(trail, DispatcherConfig{QueueSize: 16, Workers: 2})
	for i := 0; i < 10; i++ {
		d.Record(context.Background(), Event{Type: EventAccessGranted})
	}
	require.NoError(t, d.Close(context.Background()))
	require.Equal(t, 10, sink.Len())
}

func TestDispatcherDoesNotBlockWhenFull(t *testing.T) {
	var buf bytes.Buffer
	restore := obs.SetOutput(&buf)
	defer restore()

	app := &blockingAppender{release: make(chan struct{})}
	d := NewDispatcher(app, DispatcherConfig{QueueSize: 1, Workers: 1})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			d.Record(context.Background(), Event{Type: EventAccessDenied})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Record blocked on a full queue")
	}
	close(app.release)
	require.NoError(t, d.Close(context.Background()))
	require.Contains(t, buf.String(), `"cause":"queue_full"`)

	app.mu.Lock()
	stored := len(app.got)
	app.mu.Unlock()
	require.Equal(t, 5, stored+strings.Count(buf.String(), `"cause":"queue_full"`))
}

func TestDispatcherAfterClose(t *testing.T) {
	var buf bytes.Buffer
	restore := obs.SetOutput(&buf)
	defer restore()

	trail, sink := newTestTrail(t)
	d := NewDispatcher(trail, DispatcherConfig{})
	require.NoError(t, d.Close(context.Background()))
	require.NoError(t, d.Close(context.Background()))

	d.Record(context.Background(), Event{Type: EventAccessGranted})
	require.Zero(t, sink.Len())
	require.Contains(t, buf.String(), `"cause":"closed"`)
}

func TestDispatcherLogsFailedWrites(t *testing.T) {
	var buf bytes.Buffer
	restore := obs.SetOutput(&buf)
	defer restore()

	trail, err := NewTrail(failingSink{err: errors.New("connection refused")})
	require.NoError(t, err)
	d := NewDispatcher(trail, DispatcherConfig{Workers: 1})
	d.Record(context.Background(), Event{Type: EventAccessDenied})
	require.NoError(t, d.Close(context.Background()))
	require.Contains(t, buf.String(), `"cause":"append_failed"`)
}

type panicSink struct{}

func (panicSink) Append(context.Context, Event) error { panic("driver bug") }
func (panicSink) Query(context.Context, Query) ([]Event, error) { return nil, nil }

func TestDispatcherSurvivesPanickingSink(t *testing.T) {
	var buf bytes.Buffer
	restore := obs.SetOutput(&buf)
	defer restore()

	trail, err := NewTrail(panicSink{})
	require.NoError(t, err)
	d := NewDispatcher(trail, DispatcherConfig{Workers: 1})
	d.Record(context.Background(), Event{Type: EventAccessDenied})
	d.Record(context.Background(), Event{Type: EventAccessGranted})
	require.NoError(t, d.Close(context.Background()))

	out := buf.String()
	require.Equal(t, 2, strings.Count(out, `"cause":"append_panic"`))
	require.Contains(t, out, "driver bug")
}
