// Package events publishes job-lifecycle events (claimed, done, error) to
// NATS JetStream for any downstream consumer watching worker
// activity. Entirely optional: a worker started without a NATS URL simply
// never constructs a Publisher. Grounded on the reference platform's
// internal/worker.EventPublisher, retargeted from sandbox lifecycle events
// to job lifecycle events.
package events

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

// Event is the JSON payload published to NATS for one job-lifecycle
// transition.
type Event struct {
	Type      string          `json:"type"` // "claimed", "done", "error"
	JobID     string          `json:"job_id"`
	TaskID    string          `json:"task_id"`
	WorkerID  string          `json:"worker_id"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Publisher publishes job-lifecycle events to a NATS JetStream stream.
type Publisher struct {
	nc       *nats.Conn
	js       nats.JetStreamContext
	workerID string
}

// New connects to natsURL and ensures the JOB_EVENTS stream exists.
func New(natsURL, workerID string) (*Publisher, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("events: connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("events: get JetStream context: %w", err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:     "JOB_EVENTS",
		Subjects: []string{"jobs.events.>"},
		MaxAge:   7 * 24 * time.Hour,
	})
	if err != nil {
		// Stream may already exist from a prior worker instance.
		log.Printf("events: stream setup: %v", err)
	}

	return &Publisher{nc: nc, js: js, workerID: workerID}, nil
}

// Publish sends one lifecycle event for jobID/taskID, stamped with the
// current time at the call site (not internally, so tests can control it).
func (p *Publisher) Publish(eventType, jobID, taskID string, payload interface{}, at time.Time) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err == nil {
			raw = data
		}
	}

	event := Event{
		Type:      eventType,
		JobID:     jobID,
		TaskID:    taskID,
		WorkerID:  p.workerID,
		Payload:   raw,
		Timestamp: at,
	}
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("events: marshal event: %v", err)
		return
	}

	subject := fmt.Sprintf("jobs.events.%s", eventType)
	if _, err := p.js.Publish(subject, data); err != nil {
		log.Printf("events: publish %s for job %s: %v", eventType, jobID, err)
	}
}

// Close closes the NATS connection.
func (p *Publisher) Close() {
	p.nc.Close()
}
