package data

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/target/mmk-jobcoord/internal/data/pgxutil"
	"github.com/target/mmk-jobcoord/internal/domain/model"
)

const (
	defaultRunListLimit = 50
	maxRunListLimit     = 1000
)

// runSortColumns whitelists the columns List may order by.
var runSortColumns = map[string]string{
	"id":          "id",
	"queued_at":   "queued_at",
	"started_at":  "started_at",
	"finished_at": "finished_at",
	"status":      "status",
	"job_name":    "job_name",
	"duration_ms": "duration_ms",
}

type runFilterQueryBuilder struct {
	where  []string
	args   []any
	argIdx int
}

func (b *runFilterQueryBuilder) addFilter(condition string, value any) {
	b.where = append(b.where, fmt.Sprintf("%s = $%d", condition, b.argIdx))
	b.args = append(b.args, value)
	b.argIdx++
}

func (b *runFilterQueryBuilder) clause() string {
	if len(b.where) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(b.where, " AND ")
}

func clampLimit(limit, def, maxLimit int) int {
	if limit <= 0 {
		return def
	}
	return min(limit, maxLimit)
}

func orderClause(sortBy, sortOrder string) string {
	col, ok := runSortColumns[strings.ToLower(sortBy)]
	if !ok {
		col = "queued_at"
	}
	dir := "DESC"
	if strings.EqualFold(sortOrder, "asc") {
		dir = "ASC"
	}
	// id breaks ties so pages are stable.
	if col == "id" {
		return " ORDER BY id " + dir
	}
	return fmt.Sprintf(" ORDER BY %s %s NULLS LAST, id %s", col, dir, dir)
}

// List returns runs matching the optional filters, newest first by default.
func (r *JobRunRepo) List(ctx context.Context, opts model.RunListOptions) ([]*model.JobRun, error) {
	b := &runFilterQueryBuilder{argIdx: 1}
	if opts.JobName != nil && *opts.JobName != "" {
		b.addFilter("job_name", *opts.JobName)
	}
	if opts.Status != nil && *opts.Status != "" {
		b.addFilter("status", string(*opts.Status))
	}

	limit := clampLimit(opts.Limit, defaultRunListLimit, maxRunListLimit)
	offset := max(opts.Offset, 0)

	query := `SELECT ` + runColumns + ` FROM job_runs` + b.clause() +
		orderClause(opts.SortBy, opts.SortOrder) +
		fmt.Sprintf(" LIMIT $%d OFFSET $%d", b.argIdx, b.argIdx+1)
	args := append(b.args, limit, offset)

	return r.queryRuns(ctx, query, args...)
}

// ListActive returns queued and running runs, oldest first.
func (r *JobRunRepo) ListActive(ctx context.Context, limit int) ([]*model.JobRun, error) {
	limit = clampLimit(limit, defaultRunListLimit, maxRunListLimit)
	return r.queryRuns(ctx, `
		SELECT `+runColumns+`
		FROM job_runs
		WHERE status IN ('queued', 'running')
		ORDER BY queued_at, id
		LIMIT $1
	`, limit)
}

func (r *JobRunRepo) queryRuns(ctx context.Context, query string, args ...any) ([]*model.JobRun, error) {
	var result []*model.JobRun
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("query runs: %w", err)
		}
		defer rows.Close()

		vals, err := collectRuns(rows)
		if err != nil {
			return fmt.Errorf("collect runs: %w", err)
		}
		result = vals
		return nil
	}); err != nil {
		return nil, err
	}
	return result, nil
}

// Stats returns run counts per status plus the number of runs queued in the last 24 hours.
func (r *JobRunRepo) Stats(ctx context.Context) (*model.RunStats, error) {
	since := r.timeProvider.Now().Add(-24 * time.Hour)

	var stats model.RunStats
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		return conn.QueryRow(ctx, `
			SELECT
				count(*) FILTER (WHERE status = 'queued'),
				count(*) FILTER (WHERE status = 'running'),
				count(*) FILTER (WHERE status = 'cancelled'),
				count(*) FILTER (WHERE status = 'failed'),
				count(*) FILTER (WHERE status = 'succeeded'),
				count(*) FILTER (WHERE queued_at >= $1)
			FROM job_runs
		`, since).Scan(
			&stats.Queued,
			&stats.Running,
			&stats.Cancelled,
			&stats.Failed,
			&stats.Succeeded,
			&stats.Last24h,
		)
	})
	if err != nil {
		return nil, fmt.Errorf("run stats: %w", err)
	}
	return &stats, nil
}
