package metrics

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dialcast/dialcast/internal/database/models"
)

// CampaignLister returns campaigns grouped by status.
type CampaignLister interface {
	ListByStatus(ctx context.Context, status string) ([]models.Campaign, error)
}

// QueueCounter returns queue item counts by status for one campaign.
type QueueCounter interface {
	StatusCounts(ctx context.Context, campaignID int64) (map[string]int64, error)
}

// Collector is a prometheus.Collector that gathers Dialcast metrics at scrape time.
type Collector struct {
	campaigns CampaignLister
	queue     QueueCounter
	startTime time.Time

	// Metric descriptors.
	campaignsDesc   *prometheus.Desc
	queueItemsDesc  *prometheus.Desc
	inFlightDesc    *prometheus.Desc
	callsPlacedDesc *prometheus.Desc
	transfersDesc   *prometheus.Desc
	callbacksDesc   *prometheus.Desc
	dncDesc         *prometheus.Desc
	uptimeDesc      *prometheus.Desc
}

// NewCollector creates a new metrics collector. Either provider may be nil
// if unavailable.
func NewCollector(campaigns CampaignLister, queue QueueCounter, startTime time.Time) *Collector {
	return &Collector{
		campaigns: campaigns,
		queue:     queue,
		startTime: startTime,

		campaignsDesc: prometheus.NewDesc(
			"dialcast_campaigns",
			"Number of campaigns by status",
			[]string{"status"}, nil,
		),
		queueItemsDesc: prometheus.NewDesc(
			"dialcast_queue_items",
			"Queue items by campaign and status",
			[]string{"campaign_id", "status"}, nil,
		),
		inFlightDesc: prometheus.NewDesc(
			"dialcast_in_flight_calls",
			"Calls currently in flight per campaign",
			[]string{"campaign_id"}, nil,
		),
		callsPlacedDesc: prometheus.NewDesc(
			"dialcast_calls_placed_total",
			"Cumulative calls placed per campaign",
			[]string{"campaign_id"}, nil,
		),
		transfersDesc: prometheus.NewDesc(
			"dialcast_transfers_total",
			"Cumulative transfer keypresses per campaign",
			[]string{"campaign_id"}, nil,
		),
		callbacksDesc: prometheus.NewDesc(
			"dialcast_callbacks_total",
			"Cumulative callback requests per campaign",
			[]string{"campaign_id"}, nil,
		),
		dncDesc: prometheus.NewDesc(
			"dialcast_dnc_requests_total",
			"Cumulative do-not-call requests per campaign",
			[]string{"campaign_id"}, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"dialcast_uptime_seconds",
			"Seconds since the Dialcast process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.campaignsDesc
	ch <- c.queueItemsDesc
	ch <- c.inFlightDesc
	ch <- c.callsPlacedDesc
	ch <- c.transfersDesc
	ch <- c.callbacksDesc
	ch <- c.dncDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector. It queries the store at scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if c.campaigns != nil {
		statuses := []string{
			models.CampaignStatusDraft,
			models.CampaignStatusActive,
			models.CampaignStatusPaused,
			models.CampaignStatusCompleted,
			models.CampaignStatusFailed,
		}
		for _, status := range statuses {
			campaigns, err := c.campaigns.ListByStatus(ctx, status)
			if err != nil {
				slog.Error("metrics: failed to list campaigns", "status", status, "error", err)
				continue
			}
			ch <- prometheus.MustNewConstMetric(
				c.campaignsDesc, prometheus.GaugeValue,
				float64(len(campaigns)), status,
			)

			// Per-campaign counters and queue depth for the states that
			// change while a broadcast runs.
			if status != models.CampaignStatusActive && status != models.CampaignStatusPaused {
				continue
			}
			for i := range campaigns {
				c.collectCampaign(ctx, ch, &campaigns[i])
			}
		}
	}

	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.GaugeValue,
		time.Since(c.startTime).Seconds(),
	)
}

func (c *Collector) collectCampaign(ctx context.Context, ch chan<- prometheus.Metric, campaign *models.Campaign) {
	id := strconv.FormatInt(campaign.ID, 10)

	ch <- prometheus.MustNewConstMetric(c.callsPlacedDesc, prometheus.CounterValue, float64(campaign.CallsPlaced), id)
	ch <- prometheus.MustNewConstMetric(c.transfersDesc, prometheus.CounterValue, float64(campaign.Transfers), id)
	ch <- prometheus.MustNewConstMetric(c.callbacksDesc, prometheus.CounterValue, float64(campaign.Callbacks), id)
	ch <- prometheus.MustNewConstMetric(c.dncDesc, prometheus.CounterValue, float64(campaign.DNCRequests), id)

	if c.queue == nil {
		return
	}
	counts, err := c.queue.StatusCounts(ctx, campaign.ID)
	if err != nil {
		slog.Error("metrics: failed to count queue items", "campaign_id", campaign.ID, "error", err)
		return
	}
	for status, count := range counts {
		ch <- prometheus.MustNewConstMetric(c.queueItemsDesc, prometheus.GaugeValue, float64(count), id, status)
	}
	ch <- prometheus.MustNewConstMetric(c.inFlightDesc, prometheus.GaugeValue, float64(counts[models.QueueStatusCalling]), id)
}
