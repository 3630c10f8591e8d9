package domain

import "context"

// TargetKind distinguishes direct messages from channel broadcasts.
type TargetKind string

const (
	TargetParticipant TargetKind = "participant"
	TargetChannel     TargetKind = "channel"
)

// Target addresses a notification.
type Target struct {
	Kind TargetKind
	ID   string
}

// ParticipantTarget addresses a direct message to a participant.
func ParticipantTarget(id string) Target {
	return Target{Kind: TargetParticipant, ID: id}
}

// ChannelTarget addresses a broadcast channel.
func ChannelTarget(id string) Target {
	return Target{Kind: TargetChannel, ID: id}
}

// Notifier delivers a text message. Callers treat delivery as fire-and-forget
// and only log returned errors.
type Notifier interface {
	Send(ctx context.Context, target Target, text string) error
}
