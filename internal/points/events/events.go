// Package events defines the messages published when a distribution changes
// state. Consumers read them from the distributions topic keyed by group.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const TypeDistributionFinalized = "distribution.finalized"

// Score is one member's line in a finalized ranking.
type Score struct {
	Email string `json:"email"`
	Total int    `json:"total"`
	Rank  int    `json:"rank"`
}

// DistributionFinalized is emitted once per week after the archive commits.
type DistributionFinalized struct {
	ID          uuid.UUID `json:"id"`
	Type        string    `json:"type"`
	GroupID     string    `json:"group_id"`
	Week        string    `json:"week"`
	FinalizedAt time.Time `json:"finalized_at"`
	Ranking     []Score   `json:"ranking"`
}

// Producer writes one keyed record.
type Producer interface {
	Publish(ctx context.Context, key, value []byte) error
}

// Publisher encodes events and hands them to a Producer.
type Publisher struct {
	producer Producer
}

func NewPublisher(p Producer) *Publisher {
	return &Publisher{producer: p}
}

// DistributionFinalized fills in the envelope fields and publishes ev keyed by
// group so a consumer sees one group's weeks in order.
func (p *Publisher) DistributionFinalized(ctx context.Context, ev DistributionFinalized) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	ev.Type = TypeDistributionFinalized
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s: %w", ev.Type, err)
	}
	if err := p.producer.Publish(ctx, []byte(ev.GroupID), payload); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	return nil
}
