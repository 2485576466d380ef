package sdk

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// trafficSubmitter is the part of Client the reporter depends on.
type trafficSubmitter interface {
	ReportTraffic(ctx context.Context, report *TrafficReport) (*TrafficResult, error)
}

// Reporter accumulates per-user traffic and flushes it in batches.
//
// A batch keeps its report id until the server acknowledges it, so a flush
// that failed halfway is resent under the same id and the server discards
// whichever copy arrives second. Traffic added while a batch is pending goes
// into the next batch.
type Reporter struct {
	client trafficSubmitter
	logger *zap.Logger

	mu      sync.Mutex
	counts  map[int64]*TrafficEntry
	pending *TrafficReport

	// flushMu serializes flushes.
	flushMu sync.Mutex
}

// NewReporter creates a Reporter that submits through client. A nil logger
// disables logging.
func NewReporter(client *Client, logger *zap.Logger) *Reporter {
	return newReporter(client, logger)
}

func newReporter(client trafficSubmitter, logger *zap.Logger) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{
		client: client,
		logger: logger,
		counts: make(map[int64]*TrafficEntry),
	}
}

// Add records upload and download bytes for a user. Negative values are ignored.
func (r *Reporter) Add(userID, upload, download int64) {
	if upload < 0 {
		upload = 0
	}
	if download < 0 {
		download = 0
	}
	if upload == 0 && download == 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.counts[userID]
	if !ok {
		e = &TrafficEntry{UserID: userID}
		r.counts[userID] = e
	}
	e.Upload += upload
	e.Download += download
}

// Pending reports whether traffic is waiting to be sent.
func (r *Reporter) Pending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending != nil || len(r.counts) > 0
}

// Flush sends the pending batch, or a new batch built from the traffic
// accumulated so far. A batch the server rejects with a non-retryable 4xx is
// dropped; on any other error it is retained for the next call.
func (r *Reporter) Flush(ctx context.Context) (*TrafficResult, error) {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	report := r.takeBatch()
	if report == nil {
		return &TrafficResult{}, nil
	}

	result, err := r.client.ReportTraffic(ctx, report)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.retryable() {
			r.mu.Lock()
			r.pending = nil
			r.mu.Unlock()
			r.logger.Warn("traffic report rejected, batch dropped",
				zap.String("report_id", report.ReportID),
				zap.Int("entries", len(report.Entries)),
				zap.Int("status", apiErr.StatusCode),
				zap.Error(err),
			)
			return nil, err
		}
		r.logger.Warn("traffic report failed, batch kept for retry",
			zap.String("report_id", report.ReportID),
			zap.Int("entries", len(report.Entries)),
			zap.Error(err),
		)
		return nil, err
	}

	r.mu.Lock()
	r.pending = nil
	r.mu.Unlock()

	r.logger.Debug("traffic report delivered",
		zap.String("report_id", report.ReportID),
		zap.Int("applied", result.Applied),
		zap.Bool("duplicate", result.Duplicate),
	)
	return result, nil
}

// takeBatch returns the unacknowledged batch or freezes the counters into a
// new one.
func (r *Reporter) takeBatch() *TrafficReport {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pending != nil {
		return r.pending
	}
	if len(r.counts) == 0 {
		return nil
	}

	entries := make([]TrafficEntry, 0, len(r.counts))
	for _, e := range r.counts {
		entries = append(entries, *e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].UserID < entries[j].UserID })

	r.pending = &TrafficReport{ReportID: uuid.NewString(), Entries: entries}
	r.counts = make(map[int64]*TrafficEntry)
	return r.pending
}

// Run flushes every interval until ctx is cancelled. Flush errors are
// logged and retried on the next tick.
func (r *Reporter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = r.Flush(ctx)
		}
	}
}
