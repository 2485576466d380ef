package cmd

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var compactAnalyze bool

var compactDBCmd = &cobra.Command{
	Use:   "compact-db",
	Short: "Compact and optimize the database",
	Long:  `Run VACUUM to reclaim free pages and optionally ANALYZE to refresh query planner statistics.`,
	RunE:  runCompactDB,
}

func init() {
	utilCmd.AddCommand(compactDBCmd)
	compactDBCmd.Flags().BoolVar(&compactAnalyze, "analyze", true, "Run ANALYZE after VACUUM")
}

func runCompactDB(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	env, err := openUtilEnv(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	db, logger, out := env.DB, env.Logger, cmd.OutOrStdout()
	logger.Info("compacting database", zap.String("path", env.Config.DB.Path))

	sizeBefore, pages, pageSize, err := databaseSize(cmd, db)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Database size before: %s (%d pages x %d bytes)\n",
		humanize.IBytes(uint64(sizeBefore)), pages, pageSize)

	fmt.Fprintln(out, "\nRunning VACUUM (this may take a while)...")
	if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("VACUUM failed: %w", err)
	}

	sizeAfter, pages, pageSize, err := databaseSize(cmd, db)
	if err != nil {
		return err
	}
	saved := sizeBefore - sizeAfter
	var percent float64
	if sizeBefore > 0 {
		percent = float64(saved) / float64(sizeBefore) * 100
	}

	fmt.Fprintf(out, "\nDatabase size after:  %s (%d pages x %d bytes)\n",
		humanize.IBytes(uint64(sizeAfter)), pages, pageSize)
	if saved >= 0 {
		fmt.Fprintf(out, "Space reclaimed:      %s (%.1f%%)\n", humanize.IBytes(uint64(saved)), percent)
	}

	logger.Info("VACUUM completed",
		zap.Int64("size_before", sizeBefore),
		zap.Int64("size_after", sizeAfter),
		zap.Int64("saved", saved),
	)

	if compactAnalyze {
		fmt.Fprintln(out, "\nRunning ANALYZE to update query optimizer statistics...")
		if _, err := db.ExecContext(ctx, "ANALYZE"); err != nil {
			return fmt.Errorf("ANALYZE failed: %w", err)
		}
		fmt.Fprintln(out, "✓ ANALYZE completed")
	}

	fmt.Fprintln(out, "\nTable Statistics:")
	fmt.Fprintln(out, "=====================================")
	for _, table := range tables {
		var count int64
		// table names come from a fixed list
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			logger.Warn("failed to count table rows", zap.String("table", table), zap.Error(err))
			continue
		}
		fmt.Fprintf(out, "  %-20s %s rows\n", table+":", humanize.Comma(count))
	}

	fmt.Fprintln(out, "\n✓ Database compaction completed successfully")
	return nil
}
