package service

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"subgate.io/subgate/internal/events"
	"subgate.io/subgate/internal/metrics"
	"subgate.io/subgate/models"
)

// IngestConfig bounds traffic report ingestion.
type IngestConfig struct {
	// MaxEntries is the largest batch accepted in one report
	MaxEntries int

	// DedupWindow is how long report ids are remembered
	DedupWindow time.Duration
}

// DefaultIngestConfig returns the default ingestion limits.
func DefaultIngestConfig() IngestConfig {
	return IngestConfig{MaxEntries: 10000, DedupWindow: 24 * time.Hour}
}

// IngestService applies node traffic reports to the ledger.
//
// A report is applied all-or-nothing: entries are validated up front and
// then charged inside one transaction, so one bad entry voids the batch.
type IngestService struct {
	db     *sql.DB
	logger *zap.Logger
	bus    *events.Bus
	config IngestConfig
	now    func() time.Time
}

// NewIngestService creates a new IngestService.
func NewIngestService(db *sql.DB, logger *zap.Logger, bus *events.Bus, config IngestConfig) *IngestService {
	if config.MaxEntries <= 0 {
		config.MaxEntries = DefaultIngestConfig().MaxEntries
	}
	if config.DedupWindow <= 0 {
		config.DedupWindow = DefaultIngestConfig().DedupWindow
	}
	return &IngestService{db: db, logger: logger, bus: bus, config: config, now: time.Now}
}

// SubmitReport charges a node's traffic report.
//
// Deltas are multiplied by the node's rate and rounded to whole bytes. When
// the report carries a report id already seen inside the dedup window the
// call succeeds with Duplicate set and nothing is charged. An entry naming a
// user without a subscription fails the whole batch with a ValidationError.
//
// Parameters:
//   - ctx: Request context
//   - node: The authenticated reporting node
//   - report: The batch of per-user deltas
func (s *IngestService) SubmitReport(ctx context.Context, node *models.Node, report *models.TrafficReport) (*models.TrafficResult, error) {
	if err := s.validate(node, report); err != nil {
		metrics.TrafficReports.WithLabelValues("rejected").Inc()
		return nil, err
	}

	start := time.Now()
	result, crossed, err := s.apply(ctx, node, report)
	metrics.ObserveQuery("apply_traffic_report", start, err)
	if err != nil {
		metrics.TrafficReports.WithLabelValues("rejected").Inc()
		return nil, err
	}

	if result.Duplicate {
		metrics.TrafficReports.WithLabelValues("duplicate").Inc()
		s.logger.Info("duplicate traffic report ignored",
			zap.Int64("node_id", node.ID),
			zap.String("report_id", report.ReportID),
		)
		return result, nil
	}

	var up, down int64
	for _, e := range report.Entries {
		up += scale(e.Upload, node.Rate)
		down += scale(e.Download, node.Rate)
	}
	metrics.TrafficReports.WithLabelValues("applied").Inc()
	metrics.TrafficBytes.WithLabelValues("upload").Add(float64(up))
	metrics.TrafficBytes.WithLabelValues("download").Add(float64(down))

	for _, c := range crossed {
		metrics.QuotaExhausted.Inc()
		s.bus.PublishQuotaExhausted(c.userID, c.used(), c.Total)
	}
	s.bus.PublishTrafficApplied(events.TrafficAppliedEvent{
		NodeID: node.ID, Entries: len(report.Entries), Upload: up, Download: down,
	})

	s.logger.Debug("traffic report applied",
		zap.Int64("node_id", node.ID),
		zap.Int("entries", len(report.Entries)),
		zap.Int64("upload", up),
		zap.Int64("download", down),
	)
	return result, nil
}

type exhausted struct {
	userID int64
	counters
}

func (s *IngestService) apply(ctx context.Context, node *models.Node, report *models.TrafficReport) (*models.TrafficResult, []exhausted, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, models.Storage("begin traffic report", err)
	}
	defer tx.Rollback()

	now := s.now()
	if report.ReportID != "" {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO traffic_reports (node_id, report_id, received_at) VALUES (?, ?, ?)
		`, node.ID, report.ReportID, now.Unix())
		if isUniqueConstraint(err) || isPrimaryKeyConstraint(err) {
			return &models.TrafficResult{Duplicate: true}, nil, nil
		}
		if err != nil {
			return nil, nil, models.Storage("record report id", err)
		}
	}

	var crossed []exhausted
	for _, e := range report.Entries {
		up, down := scale(e.Upload, node.Rate), scale(e.Download, node.Rate)
		after, err := applyDelta(ctx, tx, e.UserID, up, down, now)
		if errors.Is(err, models.ErrEntitlementNotFound) {
			return nil, nil, models.Invalid("entries", "user %d has no subscription", e.UserID)
		}
		if err != nil {
			return nil, nil, err
		}
		if crossedQuota(after, up+down) {
			crossed = append(crossed, exhausted{userID: e.UserID, counters: after})
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE nodes SET last_report_at = ? WHERE id = ?`, now.Unix(), node.ID); err != nil {
		return nil, nil, models.Storage("stamp node report", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, models.Storage("commit traffic report", err)
	}
	return &models.TrafficResult{Applied: len(report.Entries)}, crossed, nil
}

func (s *IngestService) validate(node *models.Node, report *models.TrafficReport) error {
	report.ReportID = strings.TrimSpace(report.ReportID)
	if len(report.ReportID) > 128 {
		return models.Invalid("report_id", "must be at most 128 characters")
	}
	if len(report.Entries) == 0 {
		return models.Invalid("entries", "at least one entry is required")
	}
	if len(report.Entries) > s.config.MaxEntries {
		return models.Invalid("entries", "at most %d entries per report", s.config.MaxEntries)
	}
	for i, e := range report.Entries {
		if e.UserID <= 0 {
			return models.Invalid("entries", "entry %d: user_id must be positive", i)
		}
		if e.Upload < 0 || e.Download < 0 {
			return models.Invalid("entries", "entry %d: u and d must not be negative", i)
		}
		if !withinEntryLimit(e.Upload, node.Rate) || !withinEntryLimit(e.Download, node.Rate) {
			return models.Invalid("entries", "entry %d: u and d must not exceed %d bytes after the node rate", i, models.MaxEntryBytes)
		}
	}
	return nil
}

// PruneReports forgets report ids older than the dedup window.
func (s *IngestService) PruneReports(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.config.DedupWindow).Unix()
	result, err := s.db.ExecContext(ctx, `DELETE FROM traffic_reports WHERE received_at < ?`, cutoff)
	if err != nil {
		return 0, models.Storage("prune traffic reports", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, models.Storage("prune traffic reports", err)
	}
	if n > 0 {
		s.logger.Info("pruned traffic report ids", zap.Int64("count", n))
	}
	return n, nil
}

// RunPruner calls PruneReports every interval until ctx is done.
func (s *IngestService) RunPruner(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.PruneReports(ctx); err != nil {
				s.logger.Error("failed to prune traffic reports", zap.Error(err))
			}
		}
	}
}

func withinEntryLimit(bytes int64, rate float64) bool {
	return bytes <= models.MaxEntryBytes && float64(bytes)*rate <= float64(models.MaxEntryBytes)
}

// scale applies a node rate to a byte count.
func scale(bytes int64, rate float64) int64 {
	if rate == 1 {
		return bytes
	}
	return int64(math.Round(float64(bytes) * rate))
}
