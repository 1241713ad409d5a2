package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/ride-dispatch/internal/models"
)

// fakeStore fails the first fail calls to UpdateLocation.
type fakeStore struct {
	fail  int
	calls int
	last  models.DriverLocation
}

func (f *fakeStore) UpdateLocation(_ context.Context, driverID string, loc models.Coord) error {
	f.calls++
	if f.calls <= f.fail {
		return errors.New("geo fail")
	}
	f.last = models.DriverLocation{DriverID: driverID, Loc: loc}
	return nil
}

type fakeReader struct {
	msgs []kafka.Message
	i    int
	stop context.CancelFunc
}

func (f *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if f.i >= len(f.msgs) {
		f.stop()
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	m := f.msgs[f.i]
	f.i++
	return m, nil
}

var loc = models.DriverLocation{DriverID: "d1", Loc: models.Coord{Lat: 1, Lon: 2}}

func TestUpdateWithRetry_SucceedsAfterRetries(t *testing.T) {
	f := &fakeStore{fail: 2}
	start := time.Now()
	if err := updateWithRetry(context.Background(), f, loc, 3, 10*time.Millisecond); err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if f.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", f.calls)
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Fatalf("expected doubling backoff between attempts")
	}
}

func TestUpdateWithRetry_FailsWhenExhausted(t *testing.T) {
	f := &fakeStore{fail: 5}
	if err := updateWithRetry(context.Background(), f, loc, 3, time.Millisecond); err == nil {
		t.Fatalf("expected error after retries")
	}
	if f.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", f.calls)
	}
}

func TestUpdateWithRetry_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := &fakeStore{fail: 5}
	err := updateWithRetry(ctx, f, loc, 3, time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if f.calls != 1 {
		t.Fatalf("expected a single attempt, got %d", f.calls)
	}
}

func TestConsumerSkipsInvalidMessages(t *testing.T) {
	valid, _ := json.Marshal(loc)
	noDriver, _ := json.Marshal(models.DriverLocation{Loc: models.Coord{Lat: 1, Lon: 2}})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := &fakeStore{}
	c := &consumer{
		reader: &fakeReader{stop: cancel, msgs: []kafka.Message{
			{Value: []byte("not json")},
			{Value: noDriver},
			{Key: []byte("d1"), Value: valid},
		}},
		store:    store,
		attempts: 3,
		delay:    time.Millisecond,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	done := make(chan struct{})
	go func() {
		c.run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
	if store.calls != 1 || store.last.DriverID != "d1" || store.last.Loc != loc.Loc {
		t.Fatalf("expected one update for d1, got calls=%d last=%+v", store.calls, store.last)
	}
}
