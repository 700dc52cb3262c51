package notify

import (
	"context"
	"time"

	"github.com/engineerpark/cdulog/pkg/telemetry/correlation"
)

// StatusChange is emitted after a unit's persisted status changes.
type StatusChange struct {
	UnitID   string               `json:"unit_id"`
	Factory  string               `json:"factory"`
	From     string               `json:"from"`
	To       string               `json:"to"`
	At       time.Time            `json:"at"`
	Metadata correlation.Metadata `json:"metadata"`
}

type Publisher interface {
	PublishStatusChange(ctx context.Context, event StatusChange) error
}

// Noop drops every event. It is used when no broker is configured.
type Noop struct{}

func (Noop) PublishStatusChange(context.Context, StatusChange) error { return nil }
