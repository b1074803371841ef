package messaging

import (
	"context"
)

// Broker defines the interface for message brokers
type Broker interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	Close() error
}

// Channel names used by the triage pipeline.
const (
	ChannelReprocess = "cases.reprocess"
)

// ReprocessMessage asks the worker to rescore a case whose AI results
// are missing or stale.
type ReprocessMessage struct {
	CaseID string `json:"case_id"`
}
