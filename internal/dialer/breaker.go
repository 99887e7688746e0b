package dialer

import (
	"context"
	"fmt"

	"github.com/dialcast/dialcast/internal/database"
	"github.com/dialcast/dialcast/internal/database/models"
)

// Circuit breaker parameters. The breaker looks at the most recent
// terminal outcomes for a campaign and counts hard failures; no-answer
// and busy outcomes are normal broadcast behavior and never count.
const (
	breakerWindow    = 100
	breakerMinSample = 10

	breakerWarnRate  = 0.10
	breakerPauseRate = 0.25
)

// BreakerDecision is the breaker's verdict for a campaign.
type BreakerDecision int

const (
	BreakerClosed BreakerDecision = iota
	BreakerWarn
	BreakerTripped
)

// String returns the decision name for logs.
func (d BreakerDecision) String() string {
	switch d {
	case BreakerWarn:
		return "warn"
	case BreakerTripped:
		return "tripped"
	}
	return "closed"
}

// BreakerReading is one evaluation of a campaign's recent outcomes.
type BreakerReading struct {
	Decision    BreakerDecision
	FailureRate float64
	Sample      int
}

// Breaker pauses campaigns whose recent calls fail at an abnormal rate,
// which usually means a systemic problem (bad credentials, unverified
// caller ID, provider outage) rather than unlucky destinations.
type Breaker struct {
	items database.QueueItemRepository
}

// NewBreaker creates a breaker over the queue item store.
func NewBreaker(items database.QueueItemRepository) *Breaker {
	return &Breaker{items: items}
}

// Evaluate inspects the campaign's recent outcome window. Below the
// minimum sample size the breaker always stays closed.
func (b *Breaker) Evaluate(ctx context.Context, campaignID int64) (BreakerReading, error) {
	outcomes, err := b.items.RecentOutcomes(ctx, campaignID, breakerWindow)
	if err != nil {
		return BreakerReading{}, fmt.Errorf("loading recent outcomes: %w", err)
	}

	reading := BreakerReading{Sample: len(outcomes)}
	if reading.Sample < breakerMinSample {
		return reading, nil
	}

	failed := 0
	for _, status := range outcomes {
		if status == models.QueueStatusFailed {
			failed++
		}
	}
	reading.FailureRate = float64(failed) / float64(reading.Sample)

	switch {
	case reading.FailureRate >= breakerPauseRate:
		reading.Decision = BreakerTripped
	case reading.FailureRate >= breakerWarnRate:
		reading.Decision = BreakerWarn
	}
	return reading, nil
}
