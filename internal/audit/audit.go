// Package audit records sharing actions. Every share, unshare, and
// permission update emits one event; recording is fire-and-forget and must
// never fail the action it describes.
package audit

import (
	"context"
	"encoding/json"
	"log"
	"time"
)

type Event struct {
	Action   string    `json:"action"`
	Actor    string    `json:"actor"`
	ItemType string    `json:"itemType"`
	ItemID   string    `json:"itemId"`
	Receiver string    `json:"receiver,omitempty"`
	Success  bool      `json:"success"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}

type Sink interface {
	Record(ctx context.Context, event Event)
}

// LogSink writes events as JSON lines on the process log. Successes log at
// INFO, failures at WARNING.
type LogSink struct{}

func (LogSink) Record(_ context.Context, event Event) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	level := "INFO"
	if !event.Success {
		level = "WARNING"
	}
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf(`{"level":"ERROR","msg":"audit encode failed","action":%q}`, event.Action)
		return
	}
	log.Printf(`{"level":%q,"audit":%s}`, level, payload)
}

// Fanout records the same event on every sink.
type Fanout []Sink

func (f Fanout) Record(ctx context.Context, event Event) {
	for _, sink := range f {
		sink.Record(ctx, event)
	}
}
