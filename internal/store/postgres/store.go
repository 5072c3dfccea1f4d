// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/SixpoundertheOriginal/yodel-aso-insight/internal/keyword"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	// VolumeStaleness guards volume upserts; a fresher existing row wins.
	VolumeStaleness time.Duration
}

type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Store implements the persistence interfaces on a pgx pool.
type Store struct {
	pool      querier
	staleness time.Duration
}

// NewStore connects a pool using the provided config.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool, staleness: cfg.VolumeStaleness}, nil
}

// NewStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewStoreWithPool(pool querier, staleness time.Duration) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool, staleness: staleness}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// UpsertKeyword inserts the keyword or returns the existing row for its
// natural key (app, term, platform, region).
func (s *Store) UpsertKeyword(ctx context.Context, kw keyword.Keyword) (keyword.Keyword, error) {
	if kw.ID == "" {
		return keyword.Keyword{}, fmt.Errorf("keyword id is required")
	}
	const insert = `
INSERT INTO keywords (id, tenant_id, app_id, term, platform, region, tracked, method, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (app_id, term, platform, region) DO NOTHING`
	_, err := s.pool.Exec(ctx, insert,
		kw.ID, kw.TenantID, kw.AppID, kw.Term, kw.Platform, kw.Region, kw.Tracked, kw.Method, kw.CreatedAt)
	if err != nil {
		return keyword.Keyword{}, fmt.Errorf("insert keyword: %w", err)
	}

	const query = `
SELECT id, tenant_id, app_id, term, platform, region, tracked, method, created_at
FROM keywords
WHERE app_id = $1 AND term = $2 AND platform = $3 AND region = $4`
	var out keyword.Keyword
	err = s.pool.QueryRow(ctx, query, kw.AppID, kw.Term, kw.Platform, kw.Region).Scan(
		&out.ID, &out.TenantID, &out.AppID, &out.Term, &out.Platform, &out.Region,
		&out.Tracked, &out.Method, &out.CreatedAt)
	if err != nil {
		return keyword.Keyword{}, fmt.Errorf("select keyword: %w", err)
	}
	return out, nil
}

// GetKeyword returns the keyword by ID.
func (s *Store) GetKeyword(ctx context.Context, id string) (keyword.Keyword, error) {
	const query = `
SELECT id, tenant_id, app_id, term, platform, region, tracked, method, created_at
FROM keywords
WHERE id = $1`
	var out keyword.Keyword
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&out.ID, &out.TenantID, &out.AppID, &out.Term, &out.Platform, &out.Region,
		&out.Tracked, &out.Method, &out.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return keyword.Keyword{}, fmt.Errorf("keyword %s: %w", id, keyword.ErrNotFound)
	}
	if err != nil {
		return keyword.Keyword{}, fmt.Errorf("select keyword: %w", err)
	}
	return out, nil
}

// SetTracked flips the tracked flag on an existing keyword.
func (s *Store) SetTracked(ctx context.Context, id string, tracked bool) error {
	tag, err := s.pool.Exec(ctx, `UPDATE keywords SET tracked = $2 WHERE id = $1`, id, tracked)
	if err != nil {
		return fmt.Errorf("update keyword: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("keyword %s: %w", id, keyword.ErrNotFound)
	}
	return nil
}

// ListKeywordsByApp returns the app's keywords for a region, ordered by term.
func (s *Store) ListKeywordsByApp(ctx context.Context, appID, region string) ([]keyword.Keyword, error) {
	const query = `
SELECT id, tenant_id, app_id, term, platform, region, tracked, method, created_at
FROM keywords
WHERE app_id = $1 AND region = $2
ORDER BY term`
	rows, err := s.pool.Query(ctx, query, appID, region)
	if err != nil {
		return nil, fmt.Errorf("list keywords: %w", err)
	}
	defer rows.Close()

	var out []keyword.Keyword
	for rows.Next() {
		var kw keyword.Keyword
		if err := rows.Scan(&kw.ID, &kw.TenantID, &kw.AppID, &kw.Term, &kw.Platform,
			&kw.Region, &kw.Tracked, &kw.Method, &kw.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan keyword: %w", err)
		}
		out = append(out, kw)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list keywords: %w", err)
	}
	return out, nil
}

// RecordSnapshot writes a snapshot. The (keyword, date) primary key makes a
// duplicate write a no-op, never an overwrite.
func (s *Store) RecordSnapshot(ctx context.Context, snap keyword.RankingSnapshot) error {
	const insert = `
INSERT INTO ranking_snapshots
	(keyword_id, snapshot_date, position, position_delta, trend, estimated_volume, visibility_score, result_blob_uri)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (keyword_id, snapshot_date) DO NOTHING`
	_, err := s.pool.Exec(ctx, insert,
		snap.KeywordID, snap.SnapshotDate, snap.Position, snap.PositionDelta,
		snap.Trend, snap.EstimatedVolume, snap.VisibilityScore, snap.ResultBlobURI)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// LatestSnapshot returns the newest snapshot for a keyword, or nil when the
// keyword has never been observed.
func (s *Store) LatestSnapshot(ctx context.Context, keywordID string) (*keyword.RankingSnapshot, error) {
	const query = `
SELECT keyword_id, snapshot_date, position, position_delta, trend, estimated_volume, visibility_score, result_blob_uri
FROM ranking_snapshots
WHERE keyword_id = $1
ORDER BY snapshot_date DESC
LIMIT 1`
	var snap keyword.RankingSnapshot
	err := s.pool.QueryRow(ctx, query, keywordID).Scan(
		&snap.KeywordID, &snap.SnapshotDate, &snap.Position, &snap.PositionDelta,
		&snap.Trend, &snap.EstimatedVolume, &snap.VisibilityScore, &snap.ResultBlobURI)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select latest snapshot: %w", err)
	}
	return &snap, nil
}

// ListSnapshots returns snapshots since the given time, oldest first.
func (s *Store) ListSnapshots(ctx context.Context, keywordID string, since time.Time) ([]keyword.RankingSnapshot, error) {
	const query = `
SELECT keyword_id, snapshot_date, position, position_delta, trend, estimated_volume, visibility_score, result_blob_uri
FROM ranking_snapshots
WHERE keyword_id = $1 AND snapshot_date >= $2
ORDER BY snapshot_date`
	rows, err := s.pool.Query(ctx, query, keywordID, since)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []keyword.RankingSnapshot
	for rows.Next() {
		var snap keyword.RankingSnapshot
		if err := rows.Scan(&snap.KeywordID, &snap.SnapshotDate, &snap.Position, &snap.PositionDelta,
			&snap.Trend, &snap.EstimatedVolume, &snap.VisibilityScore, &snap.ResultBlobURI); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	return out, nil
}

// GetEstimate returns the shared volume row for a term, or nil when absent.
func (s *Store) GetEstimate(ctx context.Context, term, platform, region string) (*keyword.VolumeEstimate, error) {
	const query = `
SELECT term, platform, region, monthly_searches, popularity, tier, updated_at
FROM volume_estimates
WHERE term = $1 AND platform = $2 AND region = $3`
	var est keyword.VolumeEstimate
	err := s.pool.QueryRow(ctx, query, term, platform, region).Scan(
		&est.Term, &est.Platform, &est.Region, &est.MonthlySearches,
		&est.Popularity, &est.Tier, &est.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select estimate: %w", err)
	}
	return &est, nil
}

// UpsertEstimate writes the estimate unless a fresher row already exists.
// The guard runs in the database so concurrent jobs refreshing the same term
// cannot interleave.
func (s *Store) UpsertEstimate(ctx context.Context, est keyword.VolumeEstimate) error {
	const upsert = `
INSERT INTO volume_estimates (term, platform, region, monthly_searches, popularity, tier, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (term, platform, region) DO UPDATE SET
	monthly_searches = EXCLUDED.monthly_searches,
	popularity = EXCLUDED.popularity,
	tier = EXCLUDED.tier,
	updated_at = EXCLUDED.updated_at
WHERE EXCLUDED.updated_at - volume_estimates.updated_at >= $8`
	tag, err := s.pool.Exec(ctx, upsert,
		est.Term, est.Platform, est.Region, est.MonthlySearches,
		est.Popularity, est.Tier, est.UpdatedAt, s.staleness)
	if err != nil {
		return fmt.Errorf("upsert estimate: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return keyword.ErrStaleEstimate
	}
	return nil
}

// RecordEntries inserts competitor observations; replays of the same
// (keyword, competitor, date) are dropped.
func (s *Store) RecordEntries(ctx context.Context, entries []keyword.CompetitorKeywordEntry) error {
	const insert = `
INSERT INTO competitor_entries (keyword_id, competitor_app_id, position, snapshot_date)
VALUES ($1,$2,$3,$4)
ON CONFLICT (keyword_id, competitor_app_id, snapshot_date) DO NOTHING`
	for _, e := range entries {
		if _, err := s.pool.Exec(ctx, insert, e.KeywordID, e.CompetitorAppID, e.Position, e.SnapshotDate); err != nil {
			return fmt.Errorf("insert competitor entry: %w", err)
		}
	}
	return nil
}

// ListEntries returns all competitor observations for one keyword.
func (s *Store) ListEntries(ctx context.Context, keywordID string) ([]keyword.CompetitorKeywordEntry, error) {
	const query = `
SELECT keyword_id, competitor_app_id, position, snapshot_date
FROM competitor_entries
WHERE keyword_id = $1
ORDER BY snapshot_date, competitor_app_id`
	rows, err := s.pool.Query(ctx, query, keywordID)
	if err != nil {
		return nil, fmt.Errorf("list competitor entries: %w", err)
	}
	defer rows.Close()

	var out []keyword.CompetitorKeywordEntry
	for rows.Next() {
		var e keyword.CompetitorKeywordEntry
		if err := rows.Scan(&e.KeywordID, &e.CompetitorAppID, &e.Position, &e.SnapshotDate); err != nil {
			return nil, fmt.Errorf("scan competitor entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list competitor entries: %w", err)
	}
	return out, nil
}

// CreateJob inserts a new job row; duplicate IDs are rejected.
func (s *Store) CreateJob(ctx context.Context, job keyword.DiscoveryJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	const insert = `
INSERT INTO discovery_jobs (id, status, payload, submitted_at)
VALUES ($1,$2,$3,$4)`
	if _, err := s.pool.Exec(ctx, insert, job.ID, job.Status, payload, job.Submitted); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("job %s: %w", job.ID, keyword.ErrDuplicateJob)
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob returns the job by ID.
func (s *Store) GetJob(ctx context.Context, jobID string) (keyword.DiscoveryJob, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx, `SELECT payload FROM discovery_jobs WHERE id = $1`, jobID).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return keyword.DiscoveryJob{}, fmt.Errorf("job %s: %w", jobID, keyword.ErrNotFound)
	}
	if err != nil {
		return keyword.DiscoveryJob{}, fmt.Errorf("select job: %w", err)
	}
	var job keyword.DiscoveryJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return keyword.DiscoveryJob{}, fmt.Errorf("unmarshal job: %w", err)
	}
	return job, nil
}

// UpdateJob overwrites the job row.
func (s *Store) UpdateJob(ctx context.Context, job keyword.DiscoveryJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE discovery_jobs SET status = $2, payload = $3 WHERE id = $1`,
		job.ID, job.Status, payload)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s: %w", job.ID, keyword.ErrNotFound)
	}
	return nil
}

// GetAppMetadata returns the store listing metadata for an app.
func (s *Store) GetAppMetadata(ctx context.Context, appID, region string) (keyword.AppMetadata, error) {
	const query = `
SELECT app_id, name, subtitle, description, category, peer_terms
FROM app_metadata
WHERE app_id = $1 AND region = $2`
	var meta keyword.AppMetadata
	err := s.pool.QueryRow(ctx, query, appID, region).Scan(
		&meta.AppID, &meta.Name, &meta.Subtitle, &meta.Description, &meta.Category, &meta.PeerTerms)
	if errors.Is(err, pgx.ErrNoRows) {
		return keyword.AppMetadata{}, fmt.Errorf("app %s: %w", appID, keyword.ErrNotFound)
	}
	if err != nil {
		return keyword.AppMetadata{}, fmt.Errorf("select app metadata: %w", err)
	}
	return meta, nil
}
