package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/civicaudit/report-server/internal/geo"
	"github.com/civicaudit/report-server/internal/models"
)

// DB is the subset of *pgxpool.Pool the store uses
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Ping(ctx context.Context) error
	Close()
}

var _ DB = (*pgxpool.Pool)(nil)

// PostgresStore implements Store on PostgreSQL. Report mutations use an
// optimistic version column: the UPDATE only applies if nobody else wrote
// the row since it was read, otherwise the mutation is replayed.
type PostgresStore struct {
	db     DB
	logger *zap.SugaredLogger
}

// NewPostgresStore wraps an existing pool
func NewPostgresStore(db DB, logger *zap.SugaredLogger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger}
}

func (s *PostgresStore) Ping(ctx context.Context) error { return s.db.Ping(ctx) }
func (s *PostgresStore) Close()                         { s.db.Close() }

const reportColumns = `id, user_id, title, description, category, image_url, lng, lat, status,
	priority, is_critical, sentiment_score, keywords, processed_at, upvotes, downvotes, score,
	rejected_at, resolution_verification, created_at, updated_at, version`

func scanReport(row pgx.Row) (*models.Report, error) {
	var (
		r        models.Report
		lng, lat float64
		priority string
		status   string
		rvJSON   []byte
	)

	err := row.Scan(&r.ID, &r.UserID, &r.Title, &r.Description, &r.Category, &r.ImageURL,
		&lng, &lat, &status, &priority, &r.AIAnalysis.IsCritical, &r.AIAnalysis.SentimentScore,
		&r.AIAnalysis.Keywords, &r.AIAnalysis.ProcessedAt, &r.Upvotes, &r.Downvotes, &r.Score,
		&r.RejectedAt, &rvJSON, &r.CreatedAt, &r.UpdatedAt, &r.Version)
	if err != nil {
		return nil, err
	}

	r.Location = models.NewPoint(lat, lng)
	r.Status = models.ReportStatus(status)
	r.AIAnalysis.Priority = models.ParsePriority(priority)
	if len(rvJSON) > 0 {
		var rv models.ResolutionVerification
		if err := json.Unmarshal(rvJSON, &rv); err != nil {
			return nil, fmt.Errorf("decode resolution verification: %w", err)
		}
		r.ResolutionVerification = &rv
	}
	return &r, nil
}

func collectReports(rows pgx.Rows) ([]*models.Report, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*models.Report, error) {
		return scanReport(row)
	})
}

func resolutionParam(rv *models.ResolutionVerification) (any, error) {
	if rv == nil {
		return nil, nil
	}
	b, err := json.Marshal(rv)
	if err != nil {
		return nil, fmt.Errorf("encode resolution verification: %w", err)
	}
	return string(b), nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// CreateReport inserts a new report with version 1
func (s *PostgresStore) CreateReport(ctx context.Context, r *models.Report) error {
	rv, err := resolutionParam(r.ResolutionVerification)
	if err != nil {
		return err
	}

	query := `INSERT INTO reports (` + reportColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, 1)`

	_, err = s.db.Exec(ctx, query,
		r.ID, r.UserID, r.Title, r.Description, r.Category, r.ImageURL,
		r.Location.Lng(), r.Location.Lat(), string(r.Status),
		string(r.AIAnalysis.Priority), r.AIAnalysis.IsCritical, r.AIAnalysis.SentimentScore,
		nonNil(r.AIAnalysis.Keywords), r.AIAnalysis.ProcessedAt,
		nonNil(r.Upvotes), nonNil(r.Downvotes), r.Score,
		r.RejectedAt, rv, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	r.Version = 1
	return nil
}

// GetReport loads a report; soft-deleted rows are reported as ErrNotFound
func (s *PostgresStore) GetReport(ctx context.Context, id uuid.UUID) (*models.Report, error) {
	query := `SELECT ` + reportColumns + ` FROM reports WHERE id = $1 AND status <> 'Deleted'`

	r, err := scanReport(s.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select report: %w", err)
	}
	return r, nil
}

// MutateReport runs fn against the latest version of the report and writes
// it back conditionally on that version.
func (s *PostgresStore) MutateReport(ctx context.Context, id uuid.UUID, fn MutateFunc) (*models.Report, error) {
	query := `UPDATE reports SET
			title = $3, description = $4, category = $5, image_url = $6, lng = $7, lat = $8,
			status = $9, priority = $10, is_critical = $11, sentiment_score = $12, keywords = $13,
			processed_at = $14, upvotes = $15, downvotes = $16, score = $17, rejected_at = $18,
			resolution_verification = $19, updated_at = $20, version = version + 1
		WHERE id = $1 AND version = $2 AND status <> 'Deleted'`

	for attempt := 0; attempt < maxMutateAttempts; attempt++ {
		current, err := s.GetReport(ctx, id)
		if err != nil {
			return nil, err
		}

		next := current.Clone()
		if err := fn(next); err != nil {
			return nil, err
		}
		rv, err := resolutionParam(next.ResolutionVerification)
		if err != nil {
			return nil, err
		}

		tag, err := s.db.Exec(ctx, query,
			id, current.Version,
			next.Title, next.Description, next.Category, next.ImageURL,
			next.Location.Lng(), next.Location.Lat(), string(next.Status),
			string(next.AIAnalysis.Priority), next.AIAnalysis.IsCritical, next.AIAnalysis.SentimentScore,
			nonNil(next.AIAnalysis.Keywords), next.AIAnalysis.ProcessedAt,
			nonNil(next.Upvotes), nonNil(next.Downvotes), next.Score,
			next.RejectedAt, rv, next.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("update report: %w", err)
		}
		if tag.RowsAffected() == 1 {
			next.Version = current.Version + 1
			return next, nil
		}

		s.logger.Debugw("Report version conflict, retrying",
			"report_id", id,
			"attempt", attempt+1,
		)
		if err := backoff(ctx, attempt); err != nil {
			return nil, err
		}
	}

	return nil, ErrConflict
}

// backoff sleeps a short jittered interval that grows with each attempt
func backoff(ctx context.Context, attempt int) error {
	base := time.Duration(1<<attempt) * 5 * time.Millisecond
	wait := base + time.Duration(rand.Int63n(int64(base)))

	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *PostgresStore) FindActiveByCategory(ctx context.Context, category string, box geo.Box) ([]*models.Report, error) {
	query := `SELECT ` + reportColumns + ` FROM reports
		WHERE status IN ('Pending', 'Verified')
			AND lower(category) = lower($1)
			AND lat BETWEEN $2 AND $3
			AND lng BETWEEN $4 AND $5`

	rows, err := s.db.Query(ctx, query, category, box.MinLat, box.MaxLat, box.MinLng, box.MaxLng)
	if err != nil {
		return nil, fmt.Errorf("select active reports: %w", err)
	}
	return collectReports(rows)
}

func (s *PostgresStore) FindWithin(ctx context.Context, box geo.Box) ([]*models.Report, error) {
	query := `SELECT ` + reportColumns + ` FROM reports
		WHERE status <> 'Deleted'
			AND lat BETWEEN $1 AND $2
			AND lng BETWEEN $3 AND $4
		ORDER BY created_at DESC`

	rows, err := s.db.Query(ctx, query, box.MinLat, box.MaxLat, box.MinLng, box.MaxLng)
	if err != nil {
		return nil, fmt.Errorf("select reports within box: %w", err)
	}
	return collectReports(rows)
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID string) ([]*models.Report, error) {
	query := `SELECT ` + reportColumns + ` FROM reports
		WHERE user_id = $1 AND status <> 'Deleted'
		ORDER BY created_at DESC`

	rows, err := s.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("select user reports: %w", err)
	}
	return collectReports(rows)
}

func (s *PostgresStore) ListReports(ctx context.Context, f models.ReportFilter) ([]*models.Report, int64, error) {
	statuses := make([]string, 0, len(f.Statuses))
	for _, st := range f.Statuses {
		statuses = append(statuses, string(st))
	}

	where := `status <> 'Deleted'
		AND (cardinality($1::text[]) = 0 OR status = ANY($1))
		AND ($2 = '' OR priority = $2)`

	var total int64
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM reports WHERE `+where, statuses, string(f.Priority)).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count reports: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + reportColumns + ` FROM reports WHERE ` + where + `
		ORDER BY CASE priority WHEN 'CRITICAL' THEN 1 WHEN 'HIGH' THEN 2 WHEN 'MEDIUM' THEN 3 WHEN 'LOW' THEN 4 ELSE 99 END,
			created_at DESC
		LIMIT $3 OFFSET $4`

	rows, err := s.db.Query(ctx, query, statuses, string(f.Priority), limit, f.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("select reports: %w", err)
	}
	reports, err := collectReports(rows)
	if err != nil {
		return nil, 0, err
	}
	return reports, total, nil
}

func (s *PostgresStore) Stats(ctx context.Context) (*models.DashboardStats, error) {
	rows, err := s.db.Query(ctx, `SELECT status, priority, COUNT(*) FROM reports GROUP BY status, priority`)
	if err != nil {
		return nil, fmt.Errorf("count reports by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.ReportStatus]map[models.Priority]int64)
	for rows.Next() {
		var (
			status, priority string
			n                int64
		)
		if err := rows.Scan(&status, &priority, &n); err != nil {
			return nil, err
		}
		st := models.ReportStatus(status)
		if counts[st] == nil {
			counts[st] = make(map[models.Priority]int64)
		}
		counts[st][models.ParsePriority(priority)] += n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return statsFromCounts(counts), nil
}

// Trends returns report submissions per hour since the given time
func (s *PostgresStore) Trends(ctx context.Context, since time.Time) ([]models.AnalyticsTrend, error) {
	query := `
		SELECT to_char(DATE_TRUNC('hour', created_at AT TIME ZONE 'UTC'), 'YYYY-MM-DD HH24:MI:SS') AS date, COUNT(*) AS count
		FROM reports
		WHERE created_at > $1
		GROUP BY 1
		ORDER BY date DESC
	`

	rows, err := s.db.Query(ctx, query, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	trends := []models.AnalyticsTrend{}
	for rows.Next() {
		var t models.AnalyticsTrend
		if err := rows.Scan(&t.Date, &t.Count); err != nil {
			return nil, err
		}
		trends = append(trends, t)
	}
	return trends, rows.Err()
}

// CategoryDistribution returns report counts per category for analytics charts
func (s *PostgresStore) CategoryDistribution(ctx context.Context) ([]models.CategoryDistribution, error) {
	query := `
		SELECT category, COUNT(*) AS count
		FROM reports
		WHERE status <> 'Deleted'
		GROUP BY category
		ORDER BY count DESC, category
	`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cats := []models.CategoryDistribution{}
	for rows.Next() {
		var c models.CategoryDistribution
		if err := rows.Scan(&c.Category, &c.Count); err != nil {
			return nil, err
		}
		cats = append(cats, c)
	}
	return cats, rows.Err()
}

// SweepRejected soft-deletes in a single conditional UPDATE so a concurrent
// vote that moved the report out of Rejected wins. The WHERE clause is
// lifecycle.Expired and the SET list is lifecycle.SoftDelete; keep them in
// step with the memory store, which calls those directly.
func (s *PostgresStore) SweepRejected(ctx context.Context, cutoff, now time.Time) ([]uuid.UUID, error) {
	query := `UPDATE reports
		SET status = 'Deleted', rejected_at = NULL, updated_at = $2, version = version + 1
		WHERE status = 'Rejected' AND rejected_at IS NOT NULL AND rejected_at <= $1
		RETURNING id`

	rows, err := s.db.Query(ctx, query, cutoff, now)
	if err != nil {
		return nil, fmt.Errorf("sweep rejected reports: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

func (s *PostgresStore) CreateNotifications(ctx context.Context, ns []models.Notification) error {
	if len(ns) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, n := range ns {
		batch.Queue(`INSERT INTO notifications (id, user_id, report_id, type, title, message, link, read, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			n.ID, n.UserID, n.ReportID, string(n.Type), n.Title, n.Message, n.Link, n.Read, n.CreatedAt)
	}

	if err := s.db.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert notifications: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListNotifications(ctx context.Context, userID string, limit int) ([]models.Notification, error) {
	query := `SELECT id, user_id, report_id, type, title, message, link, read, created_at
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := s.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("select notifications: %w", err)
	}
	defer rows.Close()

	out := []models.Notification{}
	for rows.Next() {
		var (
			n     models.Notification
			ntype string
		)
		if err := rows.Scan(&n.ID, &n.UserID, &n.ReportID, &ntype, &n.Title, &n.Message,
			&n.Link, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.Type = models.NotificationType(ntype)
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MarkNotificationRead(ctx context.Context, userID string, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `UPDATE notifications SET read = TRUE WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error) {
	tag, err := s.db.Exec(ctx, `UPDATE notifications SET read = TRUE WHERE user_id = $1 AND read = FALSE`, userID)
	if err != nil {
		return 0, fmt.Errorf("mark notifications read: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) UpsertCitizen(ctx context.Context, c models.Citizen) error {
	query := `INSERT INTO citizens (id, name, role, lat, lng, onboarding_completed)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, role = EXCLUDED.role, lat = EXCLUDED.lat, lng = EXCLUDED.lng,
			onboarding_completed = EXCLUDED.onboarding_completed`

	if _, err := s.db.Exec(ctx, query, c.ID, c.Name, c.Role, c.Lat, c.Lng, c.OnboardingCompleted); err != nil {
		return fmt.Errorf("upsert citizen: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetCitizen(ctx context.Context, id string) (models.Citizen, error) {
	var c models.Citizen
	err := s.db.QueryRow(ctx, `SELECT id, name, role, lat, lng, onboarding_completed FROM citizens WHERE id = $1`, id).
		Scan(&c.ID, &c.Name, &c.Role, &c.Lat, &c.Lng, &c.OnboardingCompleted)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Citizen{}, ErrNotFound
	}
	if err != nil {
		return models.Citizen{}, fmt.Errorf("get citizen: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) FindCitizensWithin(ctx context.Context, box geo.Box, excludeID string) ([]models.Citizen, error) {
	query := `SELECT id, name, role, lat, lng, onboarding_completed
		FROM citizens
		WHERE onboarding_completed
			AND id <> $1
			AND lat BETWEEN $2 AND $3
			AND lng BETWEEN $4 AND $5
		ORDER BY id`

	rows, err := s.db.Query(ctx, query, excludeID, box.MinLat, box.MaxLat, box.MinLng, box.MaxLng)
	if err != nil {
		return nil, fmt.Errorf("select citizens: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowToStructByPos[models.Citizen])
}

func (s *PostgresStore) AppendActivity(ctx context.Context, entries ...models.ActivityLog) error {
	if len(entries) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(`INSERT INTO activity_logs (id, report_id, activity_type, actor, description, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			e.ID, e.ReportID, string(e.ActivityType), e.Actor, e.Description, e.CreatedAt)
	}

	if err := s.db.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert activity logs: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListActivity(ctx context.Context, reportID uuid.UUID, limit int) ([]models.ActivityLog, error) {
	query := `SELECT id, report_id, activity_type, actor, description, created_at
		FROM activity_logs
		WHERE report_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := s.db.Query(ctx, query, reportID, limit)
	if err != nil {
		return nil, fmt.Errorf("select activity logs: %w", err)
	}
	defer rows.Close()

	out := []models.ActivityLog{}
	for rows.Next() {
		var (
			l     models.ActivityLog
			atype string
		)
		if err := rows.Scan(&l.ID, &l.ReportID, &atype, &l.Actor, &l.Description, &l.CreatedAt); err != nil {
			return nil, err
		}
		l.ActivityType = models.ActivityType(atype)
		out = append(out, l)
	}
	return out, rows.Err()
}
