// Package notify pushes events to an actor's live connection, if it has one.
package notify

import (
	"errors"
	"log/slog"

	"github.com/example/ride-dispatch/internal/directory"
	"github.com/example/ride-dispatch/internal/events"
	"github.com/example/ride-dispatch/internal/observability"
)

type Notifier struct {
	dir    *directory.Directory
	logger *slog.Logger
}

func NewNotifier(dir *directory.Directory, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{dir: dir, logger: logger}
}

// Push delivers ev to actorID's connection. It reports false when the actor has no
// connection or the connection cannot take the event; neither is an error.
func (n *Notifier) Push(actorID string, ev events.Event) bool {
	entry, ok := n.dir.Lookup(actorID)
	if !ok {
		observability.PushDropped.WithLabelValues("no_connection").Inc()
		return false
	}
	if err := entry.Conn.Send(ev); err != nil {
		reason := "send_failed"
		if errors.Is(err, ErrBufferFull) {
			reason = "buffer_full"
		}
		observability.PushDropped.WithLabelValues(reason).Inc()
		n.logger.Debug("push dropped", "actor_id", actorID, "event", ev.Name(), "reason", reason)
		return false
	}
	observability.EventsPushed.WithLabelValues(string(ev.Name())).Inc()
	return true
}
