package realtime

import (
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/b3vet/swiftbase/internal/auth"
)

// Hub upgrades authenticated HTTP requests into realtime sessions and
// tracks them for shutdown.
type Hub struct {
	registry *Registry
	log      *zap.SugaredLogger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewHub(registry *Registry, log *zap.SugaredLogger) *Hub {
	return &Hub{
		registry: registry,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		sessions: make(map[string]*Session),
	}
}

// Serve upgrades the request and runs the session until the connection
// drops. The caller authenticates before upgrading.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, identity auth.Identity) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnw("websocket upgrade failed", "error", err)
		return
	}

	sess := newSession(uuid.NewString(), identity, conn, h.registry, h.log, h.forget)
	h.mu.Lock()
	h.sessions[sess.id] = sess
	h.mu.Unlock()

	h.log.Infow("realtime connection opened", "connection", sess.id, "subject", identity.SubjectID)
	sess.run()
	h.log.Infow("realtime connection closed", "connection", sess.id)
}

func (h *Hub) forget(sess *Session) {
	h.mu.Lock()
	delete(h.sessions, sess.id)
	h.mu.Unlock()
}

// Close drops every live session, used on graceful shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()
	for _, s := range sessions {
		s.close()
	}
}
