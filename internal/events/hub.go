// Package events fans state-change notifications out to observers (the
// websocket layer, tests). Delivery is best-effort: publishing never blocks
// protocol processing, and a slow subscriber loses its oldest events first.
package events

import (
	"sync"
	"time"
)

// Event types published by the core.
const (
	NodeAdded        = "node_added"
	NodeStatusChange = "node_status_change"
	SensorUpdate     = "sensor_update"
	GatewayMessage   = "gateway_message"

	OTAProgress = "ota_progress"
	OTAComplete = "ota_complete"
	OTAError    = "ota_error"

	AutoOTAStarted  = "auto_ota_started"
	AutoOTAProgress = "auto_ota_progress"
	AutoOTAComplete = "auto_ota_complete"
	AutoOTAError    = "auto_ota_error"
	AutoOTAFailed   = "auto_ota_failed"
)

// Event is one published notification.
type Event struct {
	Type string    `json:"type"`
	Data any       `json:"data,omitempty"`
	At   time.Time `json:"timestamp"`
}

// subscriberBuffer bounds each subscriber's queue. When full, the oldest
// queued event is dropped so observers converge on the freshest state.
const subscriberBuffer = 64

// Subscriber receives published events on C until Unsubscribe.
type Subscriber struct {
	C chan Event
}

// Hub is a bounded-queue publish/subscribe fan-out.
type Hub struct {
	mu   sync.Mutex
	subs map[*Subscriber]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[*Subscriber]struct{})}
}

// Subscribe registers a new observer.
func (h *Hub) Subscribe() *Subscriber {
	s := &Subscriber{C: make(chan Event, subscriberBuffer)}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	return s
}

// Unsubscribe detaches the observer and closes its channel.
func (h *Hub) Unsubscribe(s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; !ok {
		return
	}
	delete(h.subs, s)
	close(s.C)
}

// Publish delivers the event to every subscriber without blocking. With no
// subscribers attached the event is dropped.
func (h *Hub) Publish(eventType string, data any) {
	ev := Event{Type: eventType, Data: data, At: time.Now().UTC()}

	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		select {
		case s.C <- ev:
		default:
			// Queue full: drop the oldest, then retry once. The second
			// attempt can only fail if a reader raced us, in which case
			// there is room next time.
			select {
			case <-s.C:
			default:
			}
			select {
			case s.C <- ev:
			default:
			}
		}
	}
}
