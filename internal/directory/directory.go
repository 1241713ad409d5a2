// Package directory maps connected actors to their live connection handle.
// Entries are ephemeral and never stored on actor records.
package directory

import (
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/events"
	"github.com/example/ride-dispatch/internal/models"
)

// Conn is a live, push-capable connection. Send must not block.
type Conn interface {
	Send(ev events.Event) error
	Close() error
}

type Entry struct {
	Role     models.Role
	Conn     Conn
	JoinedAt time.Time
}

type Directory struct {
	entries sync.Map // actor id -> Entry
	now     func() time.Time
}

func New() *Directory {
	return &Directory{now: time.Now}
}

// Join registers conn for actorID, replacing any earlier handle. The replaced
// handle is returned and left to its own disconnect path.
func (d *Directory) Join(actorID string, role models.Role, conn Conn) (Conn, bool) {
	prev, loaded := d.entries.Swap(actorID, Entry{Role: role, Conn: conn, JoinedAt: d.now()})
	if !loaded {
		return nil, false
	}
	return prev.(Entry).Conn, true
}

func (d *Directory) Leave(actorID string) {
	d.entries.Delete(actorID)
}

// Release removes actorID only while conn is still its registered handle, so a
// stale session closing cannot evict a newer one.
func (d *Directory) Release(actorID string, conn Conn) bool {
	v, ok := d.entries.Load(actorID)
	if !ok || v.(Entry).Conn != conn {
		return false
	}
	return d.entries.CompareAndDelete(actorID, v)
}

func (d *Directory) Lookup(actorID string) (Entry, bool) {
	v, ok := d.entries.Load(actorID)
	if !ok {
		return Entry{}, false
	}
	return v.(Entry), true
}

func (d *Directory) Len() int {
	n := 0
	d.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
