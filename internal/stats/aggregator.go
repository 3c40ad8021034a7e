// Package stats computes registry statistics from the core store, caches the
// computed snapshot and renders CSV exports in the background.
package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"rua/pkg/domain"
)

const snapshotKey = "rua:stats:snapshot"

// Source is the read side of the registry store.
type Source interface {
	View(ctx context.Context, fn func(domain.TransactionView) error) error
}

// StatusTime summarises the time projects spent in one status.
type StatusTime struct {
	Status  domain.ProjectStatus `json:"status"`
	Samples int                  `json:"samples"`
	Total   time.Duration        `json:"total"`
	Mean    time.Duration        `json:"mean"`
}

// Snapshot is one computation of the registry statistics.
type Snapshot struct {
	GeneratedAt   time.Time                    `json:"generated_at"`
	Projects      map[domain.ProjectStatus]int `json:"projects"`
	BySource      map[domain.ProjectSource]int `json:"by_source"`
	Children      map[domain.ChildStatus]int   `json:"children"`
	Folders       map[domain.FolderStatus]int  `json:"folders"`
	TimeInStatus  []StatusTime                 `json:"time_in_status"`
	Milestones    map[string]int               `json:"milestones"`
	PendingMerges int                          `json:"pending_merges"`
}

// Aggregator computes snapshots, serving them from the cache while fresh.
type Aggregator struct {
	source Source
	cache  Cache
	ttl    time.Duration
	now    func() time.Time
	log    zerolog.Logger
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithCache stores computed snapshots in c for ttl.
func WithCache(c Cache, ttl time.Duration) Option {
	return func(a *Aggregator) {
		a.cache = c
		a.ttl = ttl
	}
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

// WithLogger sets the logger used for cache failures.
func WithLogger(l zerolog.Logger) Option {
	return func(a *Aggregator) { a.log = l.With().Str("component", "stats").Logger() }
}

// NewAggregator returns an aggregator reading from source.
func NewAggregator(source Source, opts ...Option) *Aggregator {
	a := &Aggregator{
		source: source,
		now:    func() time.Time { return time.Now().UTC() },
		log:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Compute returns the current statistics. Cache failures are logged and the
// snapshot is computed from the store instead.
func (a *Aggregator) Compute(ctx context.Context) (Snapshot, error) {
	if a.cache != nil && a.ttl > 0 {
		raw, ok, err := a.cache.Get(ctx, snapshotKey)
		switch {
		case err != nil:
			a.log.Warn().Err(err).Msg("stats cache read failed")
		case ok:
			var snap Snapshot
			if err := json.Unmarshal(raw, &snap); err == nil {
				return snap, nil
			}
			a.log.Warn().Msg("discarding undecodable cached stats")
		}
	}
	snap, err := a.compute(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	if a.cache != nil && a.ttl > 0 {
		raw, err := json.Marshal(snap)
		if err == nil {
			err = a.cache.Set(ctx, snapshotKey, raw, a.ttl)
		}
		if err != nil {
			a.log.Warn().Err(err).Msg("stats cache write failed")
		}
	}
	return snap, nil
}

func (a *Aggregator) compute(ctx context.Context) (Snapshot, error) {
	now := a.now()
	snap := Snapshot{
		GeneratedAt: now,
		Projects:    make(map[domain.ProjectStatus]int),
		Children:    make(map[domain.ChildStatus]int),
		Folders:     make(map[domain.FolderStatus]int),
		BySource:    make(map[domain.ProjectSource]int),
		Milestones:  make(map[string]int),
	}
	err := a.source.View(ctx, func(v domain.TransactionView) error {
		projects := v.ListProjects()
		for _, p := range projects {
			snap.Projects[p.Status]++
			snap.BySource[p.Source]++
		}
		for _, c := range v.ListChildren() {
			snap.Children[c.Status]++
		}
		for _, f := range v.ListFolders() {
			snap.Folders[f.Status]++
		}
		snap.PendingMerges = len(v.ListPendingMerges())
		history := v.AllProjectHistory()
		for _, h := range history {
			if h.Milestone != "" {
				snap.Milestones[h.Milestone]++
			}
		}
		snap.TimeInStatus = timeInStatus(projects, history, now)
		return nil
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("compute stats: %w", err)
	}
	return snap, nil
}

// timeInStatus measures each stay between consecutive status changes. Rows
// that leave the status unchanged are milestones and do not end a stay; the
// stay in a non-terminal current status is measured up to now.
func timeInStatus(projects []domain.Project, history []domain.ProjectHistoryEntry, now time.Time) []StatusTime {
	byProject := make(map[int64][]domain.ProjectHistoryEntry)
	for _, h := range history {
		if h.From != "" && h.From == h.To {
			continue
		}
		byProject[h.ProjectID] = append(byProject[h.ProjectID], h)
	}
	totals := make(map[domain.ProjectStatus]*StatusTime)
	add := func(status domain.ProjectStatus, d time.Duration) {
		if d < 0 {
			return
		}
		st, ok := totals[status]
		if !ok {
			st = &StatusTime{Status: status}
			totals[status] = st
		}
		st.Samples++
		st.Total += d
	}
	for _, p := range projects {
		rows := byProject[p.ID]
		sort.SliceStable(rows, func(i, j int) bool { return rows[i].At.Before(rows[j].At) })
		for i := 0; i+1 < len(rows); i++ {
			add(rows[i].To, rows[i+1].At.Sub(rows[i].At))
		}
		if n := len(rows); n > 0 && !rows[n-1].To.IsTerminal() && rows[n-1].To == p.Status {
			add(p.Status, now.Sub(rows[n-1].At))
		}
	}
	out := make([]StatusTime, 0, len(totals))
	for _, status := range domain.ProjectStatuses {
		st, ok := totals[status]
		if !ok {
			continue
		}
		st.Mean = st.Total / time.Duration(st.Samples)
		out = append(out, *st)
	}
	return out
}
