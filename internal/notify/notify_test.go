package notify

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/ride-dispatch/internal/directory"
	"github.com/example/ride-dispatch/internal/events"
	"github.com/example/ride-dispatch/internal/models"
)

type recordingConn struct {
	mu  sync.Mutex
	got []events.Event
	err error
}

func (r *recordingConn) Send(ev events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.got = append(r.got, ev)
	return nil
}

func (r *recordingConn) Close() error { return nil }

func TestPushWithoutConnectionIsSilent(t *testing.T) {
	n := NewNotifier(directory.New(), nil)
	if n.Push("ghost", events.RideStarted{}) {
		t.Fatalf("push to an absent actor must report false")
	}
}

func TestPushDelivers(t *testing.T) {
	dir := directory.New()
	conn := &recordingConn{}
	dir.Join("u1", models.RoleRider, conn)
	n := NewNotifier(dir, nil)
	if !n.Push("u1", events.RideStarted{Ride: models.Ride{ID: "r1"}.RiderView()}) {
		t.Fatalf("expected delivery")
	}
	if len(conn.got) != 1 || conn.got[0].Name() != events.NameRideStarted {
		t.Fatalf("unexpected deliveries %+v", conn.got)
	}
}

func TestPushFullBufferIsNotAnError(t *testing.T) {
	dir := directory.New()
	dir.Join("d1", models.RoleDriver, &recordingConn{err: ErrBufferFull})
	if NewNotifier(dir, nil).Push("d1", events.NewRide{}) {
		t.Fatalf("expected false on a full buffer")
	}
}

func TestSessionSendNeverBlocks(t *testing.T) {
	s := newSession(nil, "d1", 2, nil)
	for i := 0; i < 2; i++ {
		if err := s.Send(events.NewRide{}); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	if err := s.Send(events.NewRide{}); !errors.Is(err, ErrBufferFull) {
		t.Fatalf("expected ErrBufferFull, got %v", err)
	}
	_ = s.Close()
	_ = s.Close()
	if err := s.Send(events.NewRide{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestSessionOverWebsocket(t *testing.T) {
	upgrader := websocket.Upgrader{}
	inbound := make(chan Inbound, 1)
	var session *Session
	ready := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		session = NewSession(c, "u1", 4, nil)
		close(ready)
		session.ReadLoop(func(in Inbound) { inbound <- in })
	}))
	defer srv.Close()

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()
	<-ready

	r := models.Ride{ID: "r1", RiderID: "u1", DriverID: "d1", Status: models.StatusAccepted, StartCode: "482910"}
	if err := session.Send(events.RideConfirmed{Ride: r.RiderView()}); err != nil {
		t.Fatalf("send: %v", err)
	}
	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env struct {
		Event string `json:"event"`
		Data  struct {
			StartCode string `json:"start_code"`
		} `json:"data"`
	}
	if err := client.ReadJSON(&env); err != nil {
		t.Fatalf("read: %v", err)
	}
	if env.Event != "ride-confirmed" || env.Data.StartCode != "482910" {
		t.Fatalf("unexpected frame %+v", env)
	}

	msg, _ := json.Marshal(map[string]any{"event": "update-location", "data": map[string]float64{"lat": 28.7, "lon": 77.1}})
	if err := client.WriteMessage(websocket.TextMessage, msg); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case in := <-inbound:
		if in.Event != "update-location" {
			t.Fatalf("unexpected inbound %+v", in)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("inbound message not handled")
	}

	_ = client.Close()
	select {
	case <-session.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("session did not close after client disconnect")
	}
}
