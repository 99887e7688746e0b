package dialer

import (
	"context"
	"log/slog"
	"time"
)

// CalendarScheduler places a hold on an operator calendar for a scheduled
// callback. Implementations talk to an external calendar service.
type CalendarScheduler interface {
	ScheduleHold(ctx context.Context, campaignID, queueItemID int64, at time.Time) error
}

// SMSSender schedules a reminder text ahead of a callback slot.
type SMSSender interface {
	ScheduleReminder(ctx context.Context, campaignID int64, to string, at time.Time) error
}

// LogCalendarScheduler is the default no-op calendar sink; it records the
// hold in the log so the callback is at least visible to operators.
type LogCalendarScheduler struct {
	logger *slog.Logger
}

// NewLogCalendarScheduler creates a log-only calendar sink.
func NewLogCalendarScheduler(logger *slog.Logger) *LogCalendarScheduler {
	return &LogCalendarScheduler{logger: logger.With("subsystem", "calendar")}
}

// ScheduleHold implements CalendarScheduler.
func (s *LogCalendarScheduler) ScheduleHold(_ context.Context, campaignID, queueItemID int64, at time.Time) error {
	s.logger.Info("callback hold",
		"campaign_id", campaignID,
		"queue_item_id", queueItemID,
		"at", at.Format(time.RFC3339),
	)
	return nil
}

// LogSMSSender is the default no-op reminder sink.
type LogSMSSender struct {
	logger *slog.Logger
}

// NewLogSMSSender creates a log-only reminder sink.
func NewLogSMSSender(logger *slog.Logger) *LogSMSSender {
	return &LogSMSSender{logger: logger.With("subsystem", "sms")}
}

// ScheduleReminder implements SMSSender.
func (s *LogSMSSender) ScheduleReminder(_ context.Context, campaignID int64, to string, at time.Time) error {
	s.logger.Info("callback reminder",
		"campaign_id", campaignID,
		"to", to,
		"at", at.Format(time.RFC3339),
	)
	return nil
}
