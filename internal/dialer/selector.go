package dialer

import (
	"strings"

	"github.com/dialcast/dialcast/internal/database/models"
)

// Caller-ID scoring weights. Higher total wins; ties break by pool order.
const (
	scoreAreaCodeMatch  = 50
	scoreAgentAffinity  = 20
	scoreSpamPenalty    = -100
	scoreQuarantine     = -100
	scorePerBatchUse    = -2
	scoreDailyUsageCap  = 50
)

// SelectOptions carries the campaign flags that influence scoring.
type SelectOptions struct {
	LocalPresence bool
	Rotation      bool
}

// BatchUsage tracks how many calls each pool number has placed within the
// current batch. The dispatcher records a use immediately after every
// selection so later selections in the same batch see the updated load.
type BatchUsage map[int64]int

// Record notes one placed call for a number.
func (u BatchUsage) Record(numberID int64) {
	u[numberID]++
}

// SelectCallerID scores the eligible pool against a destination and
// returns the best outbound number, or nil when the pool is empty. The
// caller must treat nil as "no eligible number", not as an error.
//
// Pure function of its inputs; performs no I/O.
func SelectCallerID(destination string, pool []models.PhoneNumber, opts SelectOptions, usage BatchUsage) *models.PhoneNumber {
	if len(pool) == 0 {
		return nil
	}

	destArea := areaCode(destination)

	best := -1
	bestScore := 0
	for i := range pool {
		n := &pool[i]
		score := 0

		if opts.LocalPresence && destArea != "" && areaCode(n.Number) == destArea {
			score += scoreAreaCodeMatch
		}
		if n.Provider == "agent" {
			score += scoreAgentAffinity
		}
		if n.SpamFlagged {
			score += scoreSpamPenalty
		}
		if n.Quarantined {
			score += scoreQuarantine
		}
		if opts.Rotation {
			score += scorePerBatchUse * usage[n.ID]
		}
		score -= min(n.DailyCalls, scoreDailyUsageCap)

		// Strictly-greater keeps the tie-break stable on pool order.
		if best < 0 || score > bestScore {
			best = i
			bestScore = score
		}
	}

	return &pool[best]
}

// areaCode extracts the NANP area code from an E.164 number. Returns ""
// for numbers it cannot interpret.
func areaCode(number string) string {
	digits := strings.TrimPrefix(number, "+")
	switch {
	case len(digits) == 11 && strings.HasPrefix(digits, "1"):
		return digits[1:4]
	case len(digits) == 10:
		return digits[0:3]
	}
	return ""
}
