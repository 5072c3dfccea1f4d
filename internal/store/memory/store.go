// Package memory provides map-backed stores for local development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/SixpoundertheOriginal/yodel-aso-insight/internal/keyword"
)

type keywordKey struct {
	appID    string
	term     string
	platform string
	region   string
}

type snapshotKey struct {
	keywordID string
	date      string
}

type estimateKey struct {
	term     string
	platform string
	region   string
}

// Store holds all engine state behind a single mutex. It implements
// KeywordStore, SnapshotStore, VolumeStore, CompetitorStore, JobStore
// and AppStore.
type Store struct {
	mu          sync.RWMutex
	keywords    map[string]keyword.Keyword
	byNatural   map[keywordKey]string
	snapshots   map[snapshotKey]keyword.RankingSnapshot
	estimates   map[estimateKey]keyword.VolumeEstimate
	competitors map[string][]keyword.CompetitorKeywordEntry
	jobs        map[string]keyword.DiscoveryJob
	apps        map[string]keyword.AppMetadata
	staleness   time.Duration
}

// NewStore constructs an empty store. Volume rows older than staleness are
// eligible for overwrite on upsert.
func NewStore(staleness time.Duration) *Store {
	return &Store{
		keywords:    make(map[string]keyword.Keyword),
		byNatural:   make(map[keywordKey]string),
		snapshots:   make(map[snapshotKey]keyword.RankingSnapshot),
		estimates:   make(map[estimateKey]keyword.VolumeEstimate),
		competitors: make(map[string][]keyword.CompetitorKeywordEntry),
		jobs:        make(map[string]keyword.DiscoveryJob),
		apps:        make(map[string]keyword.AppMetadata),
		staleness:   staleness,
	}
}

func naturalKey(kw keyword.Keyword) keywordKey {
	return keywordKey{
		appID:    kw.AppID,
		term:     strings.ToLower(kw.Term),
		platform: kw.Platform,
		region:   kw.Region,
	}
}

// UpsertKeyword inserts the keyword or returns the existing row for its
// natural key.
func (s *Store) UpsertKeyword(_ context.Context, kw keyword.Keyword) (keyword.Keyword, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := naturalKey(kw)
	if id, ok := s.byNatural[key]; ok {
		return s.keywords[id], nil
	}
	if kw.ID == "" {
		return keyword.Keyword{}, fmt.Errorf("upsert keyword %q: missing id", kw.Term)
	}
	s.keywords[kw.ID] = kw
	s.byNatural[key] = kw.ID
	return kw, nil
}

// GetKeyword returns the keyword by ID.
func (s *Store) GetKeyword(_ context.Context, id string) (keyword.Keyword, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	kw, ok := s.keywords[id]
	if !ok {
		return keyword.Keyword{}, fmt.Errorf("keyword %s: %w", id, keyword.ErrNotFound)
	}
	return kw, nil
}

// SetTracked flips the tracked flag on an existing keyword.
func (s *Store) SetTracked(_ context.Context, id string, tracked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kw, ok := s.keywords[id]
	if !ok {
		return fmt.Errorf("keyword %s: %w", id, keyword.ErrNotFound)
	}
	kw.Tracked = tracked
	s.keywords[id] = kw
	return nil
}

// ListKeywordsByApp returns the app's keywords for a region, ordered by term.
func (s *Store) ListKeywordsByApp(_ context.Context, appID, region string) ([]keyword.Keyword, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []keyword.Keyword
	for _, kw := range s.keywords {
		if kw.AppID == appID && kw.Region == region {
			out = append(out, kw)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Term < out[j].Term })
	return out, nil
}

func dateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// RecordSnapshot writes a snapshot. A second write for the same
// (keyword, date) is silently dropped; snapshots never change once written.
func (s *Store) RecordSnapshot(_ context.Context, snap keyword.RankingSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := snapshotKey{keywordID: snap.KeywordID, date: dateKey(snap.SnapshotDate)}
	if _, ok := s.snapshots[key]; ok {
		return nil
	}
	s.snapshots[key] = snap
	return nil
}

// LatestSnapshot returns the newest snapshot for a keyword, or nil when the
// keyword has never been observed.
func (s *Store) LatestSnapshot(_ context.Context, keywordID string) (*keyword.RankingSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *keyword.RankingSnapshot
	for key, snap := range s.snapshots {
		if key.keywordID != keywordID {
			continue
		}
		if latest == nil || snap.SnapshotDate.After(latest.SnapshotDate) {
			cp := snap
			latest = &cp
		}
	}
	return latest, nil
}

// ListSnapshots returns snapshots since the given time, oldest first.
func (s *Store) ListSnapshots(_ context.Context, keywordID string, since time.Time) ([]keyword.RankingSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []keyword.RankingSnapshot
	for key, snap := range s.snapshots {
		if key.keywordID != keywordID || snap.SnapshotDate.Before(since) {
			continue
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SnapshotDate.Before(out[j].SnapshotDate)
	})
	return out, nil
}

// GetEstimate returns the shared volume row for a term, or nil when absent.
func (s *Store) GetEstimate(_ context.Context, term, platform, region string) (*keyword.VolumeEstimate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	est, ok := s.estimates[estimateKey{term: strings.ToLower(term), platform: platform, region: region}]
	if !ok {
		return nil, nil
	}
	cp := est
	return &cp, nil
}

// UpsertEstimate writes the estimate unless a fresher row already exists.
// Concurrent jobs estimating the same term race benignly; the first fresh
// write wins and later ones return ErrStaleEstimate.
func (s *Store) UpsertEstimate(_ context.Context, est keyword.VolumeEstimate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := estimateKey{term: strings.ToLower(est.Term), platform: est.Platform, region: est.Region}
	if existing, ok := s.estimates[key]; ok {
		if est.UpdatedAt.Sub(existing.UpdatedAt) < s.staleness {
			return keyword.ErrStaleEstimate
		}
	}
	s.estimates[key] = est
	return nil
}

// RecordEntries appends competitor observations for their keywords.
func (s *Store) RecordEntries(_ context.Context, entries []keyword.CompetitorKeywordEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range entries {
		s.competitors[e.KeywordID] = append(s.competitors[e.KeywordID], e)
	}
	return nil
}

// ListEntries returns all competitor observations for one keyword.
func (s *Store) ListEntries(_ context.Context, keywordID string) ([]keyword.CompetitorKeywordEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.competitors[keywordID]
	out := make([]keyword.CompetitorKeywordEntry, len(entries))
	copy(out, entries)
	return out, nil
}

// CreateJob inserts a new job row; duplicate IDs are rejected.
func (s *Store) CreateJob(_ context.Context, job keyword.DiscoveryJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("job %s: %w", job.ID, keyword.ErrDuplicateJob)
	}
	s.jobs[job.ID] = job
	return nil
}

// GetJob returns the job by ID.
func (s *Store) GetJob(_ context.Context, jobID string) (keyword.DiscoveryJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return keyword.DiscoveryJob{}, fmt.Errorf("job %s: %w", jobID, keyword.ErrNotFound)
	}
	return job, nil
}

// UpdateJob overwrites the job row.
func (s *Store) UpdateJob(_ context.Context, job keyword.DiscoveryJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; !ok {
		return fmt.Errorf("job %s: %w", job.ID, keyword.ErrNotFound)
	}
	s.jobs[job.ID] = job
	return nil
}

// PutApp seeds app listing metadata, keyed by (app, region).
func (s *Store) PutApp(meta keyword.AppMetadata, region string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apps[meta.AppID+"|"+region] = meta
}

// GetAppMetadata returns the seeded listing metadata for an app.
func (s *Store) GetAppMetadata(_ context.Context, appID, region string) (keyword.AppMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	meta, ok := s.apps[appID+"|"+region]
	if !ok {
		return keyword.AppMetadata{}, fmt.Errorf("app %s: %w", appID, keyword.ErrNotFound)
	}
	return meta, nil
}
