// internal/jobs/queue.go
package jobs

import (
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// NATS subjects for sync jobs. High-priority requests (interactive lookups)
// go to their own subject so a dedicated consumer drains them ahead of the
// scheduled backlog.
const (
	SubjectDefault      = "jobs.sync.default"
	SubjectHighPriority = "jobs.sync.high"

	queueGroup = "sync-workers"
)

// Queue is the opaque at-least-once task queue the job service publishes to.
type Queue interface {
	// Publish enqueues a job id and returns the queue's message id.
	Publish(jobID string, priority bool) (string, error)
	// Subscribe registers a handler for both subjects within a queue group.
	Subscribe(handler func(jobID string)) error
	Close()
}

// NATSQueue implements Queue over core NATS.
type NATSQueue struct {
	conn *nats.Conn
	subs []*nats.Subscription
}

// NewNATSQueue connects to the NATS server.
func NewNATSQueue(url string) (*NATSQueue, error) {
	conn, err := nats.Connect(url, nats.Name("forge-issues"))
	if err != nil {
		return nil, err
	}
	return &NATSQueue{conn: conn}, nil
}

// Publish enqueues the job id on the subject matching its priority.
func (q *NATSQueue) Publish(jobID string, priority bool) (string, error) {
	subject := SubjectDefault
	if priority {
		subject = SubjectHighPriority
	}
	if err := q.conn.Publish(subject, []byte(jobID)); err != nil {
		return "", err
	}
	// Core NATS has no server-assigned message id; mint one for the job row.
	return uuid.NewString(), nil
}

// Subscribe consumes both subjects as part of the shared worker group, so a
// job is delivered to exactly one worker at a time (at-least-once overall).
func (q *NATSQueue) Subscribe(handler func(jobID string)) error {
	for _, subject := range []string{SubjectHighPriority, SubjectDefault} {
		sub, err := q.conn.QueueSubscribe(subject, queueGroup, func(msg *nats.Msg) {
			handler(string(msg.Data))
		})
		if err != nil {
			return err
		}
		q.subs = append(q.subs, sub)
	}
	return nil
}

// Close drains in-flight deliveries and closes the connection.
func (q *NATSQueue) Close() {
	_ = q.conn.Drain()
}
