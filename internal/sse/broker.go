// Package sse streams activity and session changes to browser clients as
// Server-Sent Events.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/starford/timetrail/internal/models"
)

// Event types.
const (
	TypeActivityRecorded   = "activity.recorded"
	TypeSuggestionsUpdated = "suggestions.updated"
	TypeSessionPrefix      = "session."
)

// Event represents an SSE event to broadcast.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// activityData is the payload of an activity.recorded event.
type activityData struct {
	Path      string    `json:"path"`
	EventType string    `json:"event_type"`
	Project   string    `json:"project,omitempty"`
	Task      string    `json:"task,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// sessionData is the payload of a session.* event.
type sessionData struct {
	ID      string `json:"id"`
	Project string `json:"project"`
	Task    string `json:"task,omitempty"`
	Status  string `json:"status"`
}

// Broker manages SSE client connections and broadcasts events.
//
// A single loop goroutine owns the client set and the suggestions throttle
// timestamp. Public methods talk to it over channels.
type Broker struct {
	suggestMin time.Duration

	subscribeCh   chan chan []byte
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	activityCh    chan activityData
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker that emits suggestions.updated at most once
// per throttle interval.
func NewBroker(throttle time.Duration) *Broker {
	if throttle <= 0 {
		throttle = 2 * time.Second
	}

	b := &Broker{
		suggestMin:    throttle,
		subscribeCh:   make(chan chan []byte),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		activityCh:    make(chan activityData, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]struct{})
	var lastSuggest time.Time

	broadcast := func(event Event) {
		payload, err := json.Marshal(event.Data)
		if err != nil {
			return
		}
		msg := fmt.Sprintf("event: %s\ndata: %s\n\n", event.Type, payload)
		raw := []byte(msg)

		for ch := range clients {
			select {
			case ch <- raw:
			default:
				// Client buffer full; skip to avoid blocking broker loop.
			}
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case ch := <-b.subscribeCh:
			clients[ch] = struct{}{}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case event := <-b.publishCh:
			broadcast(event)

		case a := <-b.activityCh:
			broadcast(Event{Type: TypeActivityRecorded, Data: a})

			now := time.Now()
			if now.Sub(lastSuggest) >= b.suggestMin {
				lastSuggest = now
				broadcast(Event{Type: TypeSuggestionsUpdated, Data: map[string]string{}})
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close gracefully stops broker loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a new client and returns its channel.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- ch:
	case <-b.stopped:
		close(ch)
	}

	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends an event to all connected clients.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// PublishActivity broadcasts a recorded file activity followed, at most
// once per throttle interval, by suggestions.updated.
func (b *Broker) PublishActivity(a models.FileActivity) {
	if b.closed.Load() {
		return
	}
	data := activityData{
		Path:      a.FilePath,
		EventType: string(a.EventType),
		Project:   a.ProjectSuggestion,
		Task:      a.TaskSuggestion,
		Timestamp: a.Timestamp,
	}
	select {
	case b.activityCh <- data:
	case <-b.stopped:
	}
}

// PublishSession broadcasts session.<kind> for a session transition.
func (b *Broker) PublishSession(kind string, e *models.TimeEntry) {
	if e == nil {
		return
	}
	b.Publish(Event{Type: TypeSessionPrefix + kind, Data: sessionData{
		ID:      e.ID,
		Project: e.Project,
		Task:    e.Task,
		Status:  string(e.Status),
	}})
}

// ServeHTTP is the SSE endpoint handler (GET /events).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
