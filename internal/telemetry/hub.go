package telemetry

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

const subscriberQueue = 16

// Hub fans tick events out to websocket subscribers. Publish never blocks:
// a subscriber that cannot keep up loses events, not the loop.
type Hub struct {
	log     *zap.Logger
	journal *Journal

	mu   sync.Mutex
	subs map[chan []byte]struct{}
}

func NewHub(journal *Journal, log *zap.Logger) *Hub {
	return &Hub{
		log:     log,
		journal: journal,
		subs:    make(map[chan []byte]struct{}),
	}
}

// Publish is fire-and-forget; errors are logged and swallowed.
func (h *Hub) Publish(ev TickEvent) {
	if h.journal != nil {
		if err := h.journal.Append(ev); err != nil {
			h.log.Warn("tick journal append failed", zap.Error(err))
		}
	}
	data, err := json.Marshal(ev)
	if err != nil {
		h.log.Warn("tick encode failed", zap.Error(err))
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		select {
		case sub <- data:
		default:
		}
	}
}

func (h *Hub) subscribe() chan []byte {
	sub := make(chan []byte, subscriberQueue)
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

func (h *Hub) unsubscribe(sub chan []byte) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
}

// Handler accepts websocket subscribers, replays the journal window and then
// streams live ticks.
func (h *Hub) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			h.log.Debug("ws accept failed", zap.Error(err))
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")
		ctx := r.Context()
		if h.journal != nil {
			for _, ev := range h.journal.Recent() {
				data, err := json.Marshal(ev)
				if err != nil {
					continue
				}
				if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
					return
				}
			}
		}
		sub := h.subscribe()
		defer h.unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case data := <-sub:
				if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
					return
				}
			}
		}
	})
}

// Serve runs the dashboard endpoint until ctx is cancelled.
func (h *Hub) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/ws", h.Handler())
	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
