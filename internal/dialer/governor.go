package dialer

import (
	"context"
	"fmt"

	"github.com/dialcast/dialcast/internal/database"
	"github.com/dialcast/dialcast/internal/database/models"
)

// maxConcurrentCalls caps in-flight calls per campaign.
const maxConcurrentCalls = 100

// Governor bounds how many calls a campaign may have in flight at once.
// The in-flight count is re-read from the store on every tick rather than
// held in memory, so a restart never leaks capacity.
type Governor struct {
	items database.QueueItemRepository
	cap   int64
}

// NewGovernor creates a governor with the default concurrency cap.
func NewGovernor(items database.QueueItemRepository) *Governor {
	return &Governor{items: items, cap: maxConcurrentCalls}
}

// Admit returns how many calls the campaign may dispatch this tick given
// its pace, along with the current in-flight count. A zero batch with a
// nil error means the campaign is at capacity.
func (g *Governor) Admit(ctx context.Context, campaignID int64, pace int) (int, int64, error) {
	inFlight, err := g.items.CountByStatus(ctx, campaignID, models.QueueStatusCalling)
	if err != nil {
		return 0, 0, fmt.Errorf("counting in-flight calls: %w", err)
	}
	if inFlight >= g.cap {
		return 0, inFlight, nil
	}

	headroom := g.cap - inFlight
	batch := int64(pace)
	if batch > headroom {
		batch = headroom
	}
	return int(batch), inFlight, nil
}
