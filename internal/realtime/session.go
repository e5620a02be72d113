package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/b3vet/swiftbase/internal/auth"
	"github.com/b3vet/swiftbase/internal/metrics"
	"github.com/b3vet/swiftbase/internal/model"
	"github.com/b3vet/swiftbase/internal/query"
)

const (
	pingInterval  = 30 * time.Second
	pongDeadline  = 60 * time.Second
	writeDeadline = 10 * time.Second
	sendBuffer    = 64
	maxFrameSize  = 1 << 20
)

// Session is one live realtime connection. The read pump handles inbound
// frames; the write pump owns all writes to the socket, draining the
// outbound buffer the dispatcher enqueues into.
type Session struct {
	id       string
	identity auth.Identity
	conn     *websocket.Conn
	registry *Registry
	log      *zap.SugaredLogger

	out       chan any
	closeOnce sync.Once
	closed    chan struct{}

	// subs maps collection|documentId to the registry id, for wire-level
	// unsubscribes. Only the read pump touches it.
	subs map[string]uint64

	onClose func(*Session)
}

func newSession(id string, identity auth.Identity, conn *websocket.Conn, registry *Registry, log *zap.SugaredLogger, onClose func(*Session)) *Session {
	return &Session{
		id:       id,
		identity: identity,
		conn:     conn,
		registry: registry,
		log:      log.With("connection", id, "subject", identity.SubjectID),
		out:      make(chan any, sendBuffer),
		closed:   make(chan struct{}),
		subs:     make(map[string]uint64),
		onClose:  onClose,
	}
}

func (s *Session) ID() string { return s.id }

// TrySend enqueues msg for the write pump without blocking.
func (s *Session) TrySend(msg any) bool {
	select {
	case <-s.closed:
		return false
	default:
	}
	select {
	case s.out <- msg:
		return true
	default:
		return false
	}
}

// run services the connection until either pump exits. Teardown always
// unsubscribes the connection before the session is forgotten.
func (s *Session) run() {
	metrics.ActiveConnections.Inc()
	defer metrics.ActiveConnections.Dec()

	go s.writePump()
	s.readPump()

	s.close()
	s.registry.UnsubscribeAll(s.id)
	if s.onClose != nil {
		s.onClose(s)
	}
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		_ = s.conn.Close()
	})
}

func (s *Session) readPump() {
	s.conn.SetReadLimit(maxFrameSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongDeadline))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongDeadline))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debugw("connection read failed", "error", err)
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(pongDeadline))

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.TrySend(errorMessage(model.MalformedQuery("invalid message: %v", err)))
			continue
		}
		s.handle(&msg)
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer s.close()

	for {
		select {
		case <-s.closed:
			return
		case msg := <-s.out:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := s.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Session) handle(msg *ClientMessage) {
	switch msg.Action {
	case ActionSubscribe:
		s.subscribe(msg)
	case ActionUnsubscribe:
		s.unsubscribe(msg)
	case ActionPing:
		s.TrySend(&PongMessage{Action: ActionPong})
	case ActionPong:
		// Application-level pong; the read deadline was already reset.
	default:
		s.TrySend(errorMessage(model.MalformedQuery("unknown action %q", msg.Action)))
	}
}

func (s *Session) subscribe(msg *ClientMessage) {
	if msg.Collection == "" {
		s.TrySend(errorMessage(model.MalformedQuery("subscribe requires a collection")))
		return
	}
	var (
		filter  []query.Condition
		combine = "$and"
	)
	if msg.Query != nil && len(msg.Query.Where) > 0 {
		conds, err := query.ParseWhere(msg.Query.Where)
		if err != nil {
			s.TrySend(errorMessage(err))
			return
		}
		filter = conds
	}

	key := msg.Collection + "|" + msg.DocumentID
	if old, ok := s.subs[key]; ok {
		s.registry.Unsubscribe(old)
	}
	id := s.registry.Subscribe(s, msg.Collection, msg.DocumentID, filter, combine)
	s.subs[key] = id
	s.TrySend(&AckMessage{
		Action:         "subscribe_ack",
		Collection:     msg.Collection,
		DocumentID:     msg.DocumentID,
		SubscriptionID: id,
	})
}

func (s *Session) unsubscribe(msg *ClientMessage) {
	key := msg.Collection + "|" + msg.DocumentID
	id, ok := s.subs[key]
	if !ok {
		s.TrySend(errorMessage(model.MalformedQuery("no subscription for collection %q", msg.Collection)))
		return
	}
	delete(s.subs, key)
	s.registry.Unsubscribe(id)
	s.TrySend(&AckMessage{
		Action:     "unsubscribe_ack",
		Collection: msg.Collection,
		DocumentID: msg.DocumentID,
	})
}
