package ingest

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/restitch/restitch/internal/metrics"
	"github.com/restitch/restitch/pkg/proto"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // Bearer auth runs before the upgrade; origin adds nothing.
	},
}

// eventSubscriber is one websocket observer of the artifact feed.
type eventSubscriber struct {
	conn      *websocket.Conn
	remote    string
	writeChan chan []byte   // buffered channel for async writes
	closeChan chan struct{} // signals writer goroutine to stop
	closed    bool
	closeMu   sync.Mutex
}

// eventFeed fans reconstructed-artifact events out to websocket subscribers.
type eventFeed struct {
	subs map[*eventSubscriber]struct{}
	mu   sync.Mutex
}

func newEventFeed() *eventFeed {
	return &eventFeed{subs: make(map[*eventSubscriber]struct{})}
}

// add registers a connection and starts its writer goroutine.
func (f *eventFeed) add(conn *websocket.Conn, remote string) *eventSubscriber {
	sub := &eventSubscriber{
		conn:      conn,
		remote:    remote,
		writeChan: make(chan []byte, 64),
		closeChan: make(chan struct{}),
	}

	f.mu.Lock()
	f.subs[sub] = struct{}{}
	metrics.EventSubscribers.Set(float64(len(f.subs)))
	f.mu.Unlock()

	go sub.writeLoop()
	return sub
}

// remove drops a subscriber and closes its connection.
func (f *eventFeed) remove(sub *eventSubscriber) {
	f.mu.Lock()
	delete(f.subs, sub)
	metrics.EventSubscribers.Set(float64(len(f.subs)))
	f.mu.Unlock()

	sub.Close()
}

// Publish sends one event to every subscriber. Writes go through each
// subscriber's buffered channel; a full channel drops the event rather than
// back-pressuring reconstruction.
func (f *eventFeed) Publish(evt proto.ArtifactEvent) {
	data, err := json.Marshal(evt)
	if err != nil {
		log.Error().Err(err).Msg("marshal artifact event")
		return
	}

	f.mu.Lock()
	subs := make([]*eventSubscriber, 0, len(f.subs))
	for sub := range f.subs {
		subs = append(subs, sub)
	}
	f.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.writeChan <- data:
		default:
			log.Warn().Str("remote", sub.remote).Msg("event write channel full, dropping event")
		}
	}
}

// closeAll disconnects every subscriber, used on server shutdown.
func (f *eventFeed) closeAll() {
	f.mu.Lock()
	subs := make([]*eventSubscriber, 0, len(f.subs))
	for sub := range f.subs {
		subs = append(subs, sub)
	}
	f.subs = make(map[*eventSubscriber]struct{})
	metrics.EventSubscribers.Set(0)
	f.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}

// writeLoop drains queued events so publishers never block on a slow peer.
func (sub *eventSubscriber) writeLoop() {
	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()

	for {
		select {
		case <-sub.closeChan:
			return
		case <-pingTicker.C:
			if err := sub.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				log.Debug().Err(err).Str("remote", sub.remote).Msg("event feed ping failed")
				return
			}
		case data := <-sub.writeChan:
			if err := sub.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug().Err(err).Str("remote", sub.remote).Msg("event feed write failed")
				return
			}
		}
	}
}

// Close stops the writer goroutine and closes the connection.
func (sub *eventSubscriber) Close() {
	sub.closeMu.Lock()
	defer sub.closeMu.Unlock()
	if sub.closed {
		return
	}
	sub.closed = true
	close(sub.closeChan)
	_ = sub.conn.Close()
}

// handleEvents upgrades the connection and streams artifact events until the
// subscriber hangs up.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("event feed websocket upgrade failed")
		return
	}

	sub := s.feed.add(conn, r.RemoteAddr)
	defer func() {
		s.feed.remove(sub)
		log.Debug().Str("remote", sub.remote).Msg("event subscriber disconnected")
	}()
	log.Debug().Str("remote", sub.remote).Msg("event subscriber connected")

	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(90 * time.Second))
		return nil
	})

	// Read loop drains control frames; subscribers have nothing to say.
	for {
		_ = conn.SetReadDeadline(time.Now().Add(90 * time.Second))
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("remote", sub.remote).Msg("event subscriber read error")
			}
			return
		}
	}
}
