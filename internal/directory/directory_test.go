package directory

import (
	"fmt"
	"sync"
	"testing"

	"github.com/example/ride-dispatch/internal/events"
	"github.com/example/ride-dispatch/internal/models"
)

type fakeConn struct{ name string }

func (f *fakeConn) Send(events.Event) error { return nil }
func (f *fakeConn) Close() error            { return nil }

func TestJoinReplacesPreviousHandle(t *testing.T) {
	d := New()
	a, b := &fakeConn{"a"}, &fakeConn{"b"}
	if prev, ok := d.Join("d1", models.RoleDriver, a); ok || prev != nil {
		t.Fatalf("first join must not report a previous handle")
	}
	prev, ok := d.Join("d1", models.RoleDriver, b)
	if !ok || prev != a {
		t.Fatalf("expected previous handle a, got %v %v", prev, ok)
	}
	e, ok := d.Lookup("d1")
	if !ok || e.Conn != b || e.Role != models.RoleDriver {
		t.Fatalf("lookup returned %+v %v", e, ok)
	}
}

func TestReleaseIgnoresStaleHandle(t *testing.T) {
	d := New()
	old, cur := &fakeConn{"old"}, &fakeConn{"new"}
	d.Join("u1", models.RoleRider, old)
	d.Join("u1", models.RoleRider, cur)
	if d.Release("u1", old) {
		t.Fatalf("stale handle must not evict the newer session")
	}
	if e, ok := d.Lookup("u1"); !ok || e.Conn != cur {
		t.Fatalf("newer session lost")
	}
	if !d.Release("u1", cur) {
		t.Fatalf("current handle should release")
	}
	if _, ok := d.Lookup("u1"); ok {
		t.Fatalf("expected no handle after release")
	}
}

func TestLeaveAndLen(t *testing.T) {
	d := New()
	d.Join("u1", models.RoleRider, &fakeConn{})
	d.Join("d1", models.RoleDriver, &fakeConn{})
	if d.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", d.Len())
	}
	d.Leave("u1")
	d.Leave("nobody")
	if _, ok := d.Lookup("u1"); ok || d.Len() != 1 {
		t.Fatalf("leave did not clear u1")
	}
}

func TestConcurrentJoinLookup(t *testing.T) {
	d := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		id := fmt.Sprintf("a%d", i%5)
		go func() {
			defer wg.Done()
			d.Join(id, models.RoleDriver, &fakeConn{})
		}()
		go func() {
			defer wg.Done()
			d.Lookup(id)
		}()
	}
	wg.Wait()
	if d.Len() != 5 {
		t.Fatalf("expected 5 actors, got %d", d.Len())
	}
}
