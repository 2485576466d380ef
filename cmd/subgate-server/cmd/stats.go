package cmd

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show registry and traffic statistics",
	RunE:  runStats,
}

func init() {
	utilCmd.AddCommand(statsCmd)
}

// databaseSize returns the file size derived from the page count.
func databaseSize(cmd *cobra.Command, db *sql.DB) (size, pages, pageSize int64, err error) {
	ctx := cmd.Context()
	if err = db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pages); err != nil {
		return 0, 0, 0, fmt.Errorf("failed to get page count: %w", err)
	}
	if err = db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err != nil {
		return 0, 0, 0, fmt.Errorf("failed to get page size: %w", err)
	}
	return pages * pageSize, pages, pageSize, nil
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	env, err := openUtilEnv(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	db, out := env.DB, cmd.OutOrStdout()

	size, _, _, err := databaseSize(cmd, db)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Database: %s (%s)\n\n", env.Config.DB.Path, humanize.IBytes(uint64(size)))

	fmt.Fprintln(out, "Nodes by protocol:")
	rows, err := db.QueryContext(ctx, `SELECT protocol, COUNT(*) FROM nodes GROUP BY protocol ORDER BY protocol`)
	if err != nil {
		return fmt.Errorf("failed to count nodes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var proto string
		var n int64
		if err := rows.Scan(&proto, &n); err != nil {
			return fmt.Errorf("failed to scan node count: %w", err)
		}
		fmt.Fprintf(out, "  %-14s %s\n", proto+":", humanize.Comma(n))
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to count nodes: %w", err)
	}

	var users, banned, expired int64
	var upload, download sql.NullInt64
	now := time.Now().Unix()
	err = db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(banned), 0),
		       COALESCE(SUM(CASE WHEN expires_at IS NOT NULL AND expires_at <= ? THEN 1 ELSE 0 END), 0),
		       SUM(upload),
		       SUM(download)
		FROM entitlements`, now).Scan(&users, &banned, &expired, &upload, &download)
	if err != nil {
		return fmt.Errorf("failed to summarize entitlements: %w", err)
	}

	fmt.Fprintln(out, "\nSubscriptions:")
	fmt.Fprintf(out, "  %-14s %s\n", "users:", humanize.Comma(users))
	fmt.Fprintf(out, "  %-14s %s\n", "banned:", humanize.Comma(banned))
	fmt.Fprintf(out, "  %-14s %s\n", "expired:", humanize.Comma(expired))

	fmt.Fprintln(out, "\nTraffic:")
	fmt.Fprintf(out, "  %-14s %s\n", "upload:", humanize.IBytes(uint64(upload.Int64)))
	fmt.Fprintf(out, "  %-14s %s\n", "download:", humanize.IBytes(uint64(download.Int64)))

	var pending int64
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM traffic_reports`).Scan(&pending); err != nil {
		return fmt.Errorf("failed to count report ids: %w", err)
	}
	fmt.Fprintf(out, "  %-14s %s\n", "report ids:", humanize.Comma(pending))
	return nil
}
