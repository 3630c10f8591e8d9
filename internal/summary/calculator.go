package summary

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"example.com/sockathon/internal/domain"
)

// productiveCategories are the category keys that count towards the daily minimum.
var productiveCategories = map[string]struct{}{
	"coding":    {},
	"building":  {},
	"debugging": {},
}

// IsProductive reports whether a category key counts as coding time.
func IsProductive(key string) bool {
	_, ok := productiveCategories[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// CodedSeconds returns the productive seconds recorded in the payload.
func (p Payload) CodedSeconds() int64 {
	var total int64
	for _, c := range p.Categories {
		if IsProductive(c.Key) {
			total += int64(c.Total)
		}
	}
	return total
}

// CodedSeconds parses raw and returns its productive seconds. Nil input yields zero.
func CodedSeconds(raw json.RawMessage) int64 {
	return Parse(raw).CodedSeconds()
}

// ForSummary returns the productive seconds of a stored summary, or zero when
// the participant has no summary yet.
func ForSummary(s *domain.DailySummary) int64 {
	if s == nil {
		return 0
	}
	return CodedSeconds(s.Payload)
}

// Calculator derives coded seconds from stored summaries.
type Calculator struct {
	summaries domain.SummaryRepository
}

// NewCalculator constructs a Calculator.
func NewCalculator(summaries domain.SummaryRepository) *Calculator {
	return &Calculator{summaries: summaries}
}

// CodedSecondsOn returns a participant's coded seconds for one local date.
func (c *Calculator) CodedSecondsOn(ctx context.Context, participantID string, date time.Time) (int64, error) {
	s, err := c.summaries.GetDailySummary(ctx, participantID, date)
	if err != nil {
		return 0, err
	}
	return ForSummary(s), nil
}

// CodedSecondsTotal sums coded seconds over the inclusive range of local dates.
func (c *Calculator) CodedSecondsTotal(ctx context.Context, participantID string, from, to time.Time) (int64, error) {
	days, err := c.summaries.ListDailySummaries(ctx, participantID, from, to)
	if err != nil {
		return 0, fmt.Errorf("list summaries: %w", err)
	}
	var total int64
	for i := range days {
		total += ForSummary(&days[i])
	}
	return total, nil
}
