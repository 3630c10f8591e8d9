package consumer

import (
	"context"
	"encoding/json"
	"fmt"

	"example.com/sockathon/internal/events"
)

// LeaderboardWriter applies events to the leaderboard projection.
type LeaderboardWriter interface {
	ApplySummarySynced(ctx context.Context, evt events.SummarySynced) error
	ApplyTeamEliminated(ctx context.Context, evt events.TeamEliminated) error
}

// LeaderboardHandler projects summary and elimination events into the
// leaderboard. Other event types are acknowledged and ignored.
type LeaderboardHandler struct {
	writer LeaderboardWriter
}

// NewLeaderboardHandler constructs a LeaderboardHandler.
func NewLeaderboardHandler(writer LeaderboardWriter) *LeaderboardHandler {
	return &LeaderboardHandler{writer: writer}
}

// Handle implements Handler.
func (h *LeaderboardHandler) Handle(ctx context.Context, msg Message) error {
	switch msg.EventType {
	case events.TypeSummarySynced:
		var evt events.SummarySynced
		if err := json.Unmarshal(msg.Payload, &evt); err != nil {
			return fmt.Errorf("decode %s: %w", msg.EventType, err)
		}
		if evt.ParticipantID == "" {
			return fmt.Errorf("decode %s: missing participant_id", msg.EventType)
		}
		return h.writer.ApplySummarySynced(ctx, evt)
	case events.TypeTeamEliminated:
		var evt events.TeamEliminated
		if err := json.Unmarshal(msg.Payload, &evt); err != nil {
			return fmt.Errorf("decode %s: %w", msg.EventType, err)
		}
		return h.writer.ApplyTeamEliminated(ctx, evt)
	default:
		recordIgnored(msg.EventType)
		return nil
	}
}
