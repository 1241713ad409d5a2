package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/notify"
	"github.com/example/ride-dispatch/internal/observability"
)

const eventUpdateLocation = "update-location"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// browser clients connect from the app origins; the token is the credential
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleWS authenticates with ?token=, registers the connection in the
// directory and serves inbound messages until the client goes away.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id, err := s.Auth.Verify(r.URL.Query().Get("token"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader already replied
		s.logger.Warn("ws upgrade failed", "actor_id", id.ActorID, "error", err)
		return
	}
	sess := notify.NewSession(conn, id.ActorID, s.SendBuffer, s.logger)
	if prev, replaced := s.Directory.Join(id.ActorID, id.Role, sess); replaced {
		_ = prev.Close()
	}
	observability.ConnectionsActive.Set(float64(s.Directory.Len()))
	s.logger.Info("ws joined", "actor_id", id.ActorID, "role", id.Role)

	ctx := context.WithoutCancel(r.Context())
	sess.ReadLoop(func(in notify.Inbound) {
		switch in.Event {
		case eventUpdateLocation:
			if id.Role != models.RoleDriver {
				return
			}
			var c models.Coord
			if err := json.Unmarshal(in.Data, &c); err != nil {
				s.logger.Warn("bad update-location payload", "actor_id", id.ActorID, "error", err)
				return
			}
			if err := s.updateLocation(ctx, id.ActorID, c, "ws"); err != nil {
				s.logger.Warn("ws location update failed", "actor_id", id.ActorID, "error", err)
			}
		default:
			s.logger.Debug("ignoring ws event", "actor_id", id.ActorID, "event", in.Event)
		}
	})

	s.Directory.Release(id.ActorID, sess)
	observability.ConnectionsActive.Set(float64(s.Directory.Len()))
	s.logger.Info("ws left", "actor_id", id.ActorID)
}
