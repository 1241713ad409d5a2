package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/ride-dispatch/internal/models"
)

type fakeWriter struct {
	msgs  []kafka.Message
	calls int
	err   error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestPublishLocationKeysByDriver(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaProducer{writer: w, topic: "driver-locations", timeout: time.Second}
	loc := models.DriverLocation{DriverID: "d7", Loc: models.Coord{Lat: 28.7, Lon: 77.1}, At: time.Unix(1700000000, 0).UTC()}
	if err := p.PublishLocation(context.Background(), loc); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(w.msgs) != 1 || string(w.msgs[0].Key) != "d7" {
		t.Fatalf("unexpected messages %+v", w.msgs)
	}
	var got models.DriverLocation
	if err := json.Unmarshal(w.msgs[0].Value, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Loc != loc.Loc || !got.At.Equal(loc.At) {
		t.Fatalf("round trip mismatch %+v", got)
	}
}

func TestPublishRideEventWrapsErrors(t *testing.T) {
	boom := errors.New("leader not available")
	p := &KafkaProducer{writer: &fakeWriter{err: boom}, topic: "ride-events", timeout: time.Second}
	err := p.PublishRideEvents(context.Background(), RideEvent{RideID: "r1", To: models.StatusAccepted})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped writer error, got %v", err)
	}
}

func TestPublishRideEventsWritesOneBatchInOrder(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaProducer{writer: w, topic: "ride-events", timeout: time.Second}
	err := p.PublishRideEvents(context.Background(),
		RideEvent{RideID: "r1", To: models.StatusAccepted},
		RideEvent{RideID: "r1", To: models.StatusOngoing},
		RideEvent{RideID: "r2", To: models.StatusRequested},
	)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if w.calls != 1 || len(w.msgs) != 3 {
		t.Fatalf("expected one write of 3 messages, got %d writes, %d messages", w.calls, len(w.msgs))
	}
	var second RideEvent
	if err := json.Unmarshal(w.msgs[1].Value, &second); err != nil {
		t.Fatal(err)
	}
	if string(w.msgs[1].Key) != "r1" || second.To != models.StatusOngoing {
		t.Fatalf("unexpected second message %s %+v", w.msgs[1].Key, second)
	}
	if err := p.PublishRideEvents(context.Background()); err != nil || w.calls != 1 {
		t.Fatalf("an empty batch must not reach the writer, got err=%v calls=%d", err, w.calls)
	}
}

func TestWriterKeepsKeysOnOnePartition(t *testing.T) {
	p := NewKafkaProducer([]string{"localhost:9092"}, "ride-events", 10*time.Millisecond)
	defer p.Close()
	w, ok := p.writer.(*kafka.Writer)
	if !ok {
		t.Fatalf("unexpected writer %T", p.writer)
	}
	if w.BatchTimeout != 10*time.Millisecond {
		t.Fatalf("batch timeout not applied: %v", w.BatchTimeout)
	}
	partitions := []int{0, 1, 2, 3, 4, 5, 6, 7}
	seen := map[int]bool{}
	for i := 0; i < 50; i++ {
		key := []byte(fmt.Sprintf("ride-%d", i))
		first := w.Balancer.Balance(kafka.Message{Key: key}, partitions...)
		for j := 0; j < 5; j++ {
			if got := w.Balancer.Balance(kafka.Message{Key: key}, partitions...); got != first {
				t.Fatalf("key %s moved from partition %d to %d", key, first, got)
			}
		}
		seen[first] = true
	}
	if len(seen) < 2 {
		t.Fatalf("expected keys to spread over partitions, got %v", seen)
	}
}
