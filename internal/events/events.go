// Package events defines the payloads the store publishes through the outbox
// and the routing of each event type to a Kafka topic.
package events

import (
	"fmt"
	"time"
)

// Event types recorded in the outbox.
const (
	TypeSummarySynced  = "summary.synced"
	TypeTeamEliminated = "team.eliminated"
)

// Default topic names.
const (
	DefaultSummaryTopic     = "sockathon.summary.synced.v1"
	DefaultEliminationTopic = "sockathon.team.eliminated.v1"
)

// SummarySynced is emitted whenever a participant's daily summary is upserted.
type SummarySynced struct {
	ParticipantID string    `json:"participant_id"`
	TeamID        *int64    `json:"team_id,omitempty"`
	Date          string    `json:"date"`
	CodedSeconds  int64     `json:"coded_seconds"`
	SyncedAt      time.Time `json:"synced_at"`
}

// TeamEliminated is emitted once, when a team's elimination marker is set.
type TeamEliminated struct {
	TeamID       int64     `json:"team_id"`
	TeamName     string    `json:"team_name"`
	EliminatedAt time.Time `json:"eliminated_at"`
}

// Route describes where an event type is published.
type Route struct {
	Topic         string
	SchemaSubject string
}

// Catalog maps event types to routes.
type Catalog map[string]Route

// NewCatalog builds the catalog for the given topics; empty names use the defaults.
func NewCatalog(summaryTopic, eliminationTopic string) Catalog {
	if summaryTopic == "" {
		summaryTopic = DefaultSummaryTopic
	}
	if eliminationTopic == "" {
		eliminationTopic = DefaultEliminationTopic
	}
	return Catalog{
		TypeSummarySynced:  {Topic: summaryTopic, SchemaSubject: summaryTopic + "-value"},
		TypeTeamEliminated: {Topic: eliminationTopic, SchemaSubject: eliminationTopic + "-value"},
	}
}

// Lookup returns the route for eventType.
func (c Catalog) Lookup(eventType string) (Route, error) {
	route, ok := c[eventType]
	if !ok || route.Topic == "" {
		return Route{}, fmt.Errorf("unknown event type: %s", eventType)
	}
	return route, nil
}

// Topics lists every routed topic.
func (c Catalog) Topics() []string {
	out := make([]string, 0, len(c))
	for _, route := range c {
		out = append(out, route.Topic)
	}
	return out
}
