package stats

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"rua/internal/blob"
)

// ExportStatus describes the lifecycle stage of an export request.
type ExportStatus string

const (
	ExportQueued    ExportStatus = "queued"
	ExportRunning   ExportStatus = "running"
	ExportSucceeded ExportStatus = "succeeded"
	ExportFailed    ExportStatus = "failed"
)

// ExportRecord tracks one export request and its stored artifact.
type ExportRecord struct {
	ID          string       `json:"id"`
	Status      ExportStatus `json:"status"`
	Error       string       `json:"error,omitempty"`
	RequestedBy string       `json:"requested_by,omitempty"`
	Key         string       `json:"key,omitempty"`
	SizeBytes   int64        `json:"size_bytes,omitempty"`
	URL         string       `json:"url,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
}

// errWorkerStopped is recorded on exports the worker never got to.
const errWorkerStopped = "export worker stopped"

// DefaultExportRetention bounds how many export records the worker keeps.
const DefaultExportRetention = 256

// ExportWorker renders statistics snapshots to CSV files in the blob store.
type ExportWorker struct {
	agg    *Aggregator
	blobs  blob.Store
	log    zerolog.Logger
	retain int

	queue chan string
	mu    sync.RWMutex
	jobs  map[string]*ExportRecord

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// ExportOption configures an ExportWorker.
type ExportOption func(*ExportWorker)

// WithExportRetention caps the number of records kept. Once over the cap the
// oldest finished records are dropped; queued and running ones are kept.
func WithExportRetention(n int) ExportOption {
	return func(w *ExportWorker) {
		if n > 0 {
			w.retain = n
		}
	}
}

// NewExportWorker constructs a worker with a bounded queue.
func NewExportWorker(agg *Aggregator, blobs blob.Store, log zerolog.Logger, opts ...ExportOption) *ExportWorker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &ExportWorker{
		agg:    agg,
		blobs:  blobs,
		log:    log.With().Str("component", "stats_export").Logger(),
		retain: DefaultExportRetention,
		queue:  make(chan string, 16),
		jobs:   make(map[string]*ExportRecord),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins processing export requests.
func (w *ExportWorker) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop signals the worker to halt and waits for the current job. Exports
// still queued are marked failed; a running one is too once the loop exits.
func (w *ExportWorker) Stop(ctx context.Context) error {
	w.cancel()
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		w.abandon(ExportQueued, ExportRunning)
		return nil
	case <-ctx.Done():
		w.abandon(ExportQueued)
		return ctx.Err()
	}
}

func (w *ExportWorker) abandon(statuses ...ExportStatus) {
	now := time.Now().UTC()
	w.mu.Lock()
	defer w.mu.Unlock()
	for id, r := range w.jobs {
		if !slices.Contains(statuses, r.Status) {
			continue
		}
		r.Status = ExportFailed
		r.Error = errWorkerStopped
		r.UpdatedAt = now
		r.CompletedAt = &now
		w.log.Warn().Str("export_id", id).Msg("stats export abandoned on shutdown")
	}
}

func (w *ExportWorker) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case id := <-w.queue:
			w.process(id)
		}
	}
}

// Enqueue schedules an export and returns the queued record.
func (w *ExportWorker) Enqueue(_ context.Context, requestedBy string) (ExportRecord, error) {
	if w.ctx.Err() != nil {
		return ExportRecord{}, errors.New(errWorkerStopped)
	}
	now := time.Now().UTC()
	record := ExportRecord{
		ID:          uuid.NewString(),
		Status:      ExportQueued,
		RequestedBy: requestedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	id := record.ID
	w.mu.Lock()
	w.jobs[id] = &record
	queued := record
	w.evictLocked()
	w.mu.Unlock()

	select {
	case w.queue <- id:
	default:
		w.fail(id, "export queue full")
		return ExportRecord{}, fmt.Errorf("export queue full")
	}
	return queued, nil
}

// Get returns a snapshot of the export record.
func (w *ExportWorker) Get(id string) (ExportRecord, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	record, ok := w.jobs[id]
	if !ok {
		return ExportRecord{}, false
	}
	return copyRecord(record), true
}

// evictLocked drops the oldest finished records until the retention cap holds.
func (w *ExportWorker) evictLocked() {
	excess := len(w.jobs) - w.retain
	if excess <= 0 {
		return
	}
	finished := make([]*ExportRecord, 0, len(w.jobs))
	for _, r := range w.jobs {
		if r.CompletedAt != nil {
			finished = append(finished, r)
		}
	}
	sort.Slice(finished, func(i, j int) bool { return finished[i].CompletedAt.Before(*finished[j].CompletedAt) })
	for _, r := range finished[:min(excess, len(finished))] {
		delete(w.jobs, r.ID)
	}
}

func (w *ExportWorker) process(id string) {
	w.update(id, func(r *ExportRecord) { r.Status = ExportRunning })

	snap, err := w.agg.Compute(w.ctx)
	if err != nil {
		w.fail(id, fmt.Sprintf("compute stats: %v", err))
		return
	}
	payload, err := RenderCSV(snap)
	if err != nil {
		w.fail(id, fmt.Sprintf("render csv: %v", err))
		return
	}
	key := fmt.Sprintf("estadisticas/%s_%s.csv", snap.GeneratedAt.Format("20060102T150405"), id)
	info, err := w.blobs.Put(w.ctx, key, bytes.NewReader(payload), blob.PutOptions{
		ContentType: "text/csv",
		Metadata:    map[string]string{"export_id": id},
	})
	if err != nil {
		w.fail(id, fmt.Sprintf("store export: %v", err))
		return
	}
	url, err := w.blobs.PresignURL(w.ctx, key, blob.SignedURLOptions{Method: "GET", Expiry: time.Hour})
	if err != nil {
		url = info.URL
	}
	w.update(id, func(r *ExportRecord) {
		now := time.Now().UTC()
		r.Status = ExportSucceeded
		r.Error = ""
		r.Key = info.Key
		r.SizeBytes = info.Size
		r.URL = url
		r.CompletedAt = &now
	})
	w.log.Info().Str("export_id", id).Str("key", key).Int64("size", info.Size).Msg("stats export stored")
}

func (w *ExportWorker) update(id string, fn func(*ExportRecord)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if record, ok := w.jobs[id]; ok {
		fn(record)
		record.UpdatedAt = time.Now().UTC()
	}
}

func (w *ExportWorker) fail(id, reason string) {
	w.log.Error().Str("export_id", id).Str("reason", reason).Msg("stats export failed")
	w.update(id, func(r *ExportRecord) {
		now := time.Now().UTC()
		r.Status = ExportFailed
		r.Error = reason
		r.CompletedAt = &now
	})
}

func copyRecord(r *ExportRecord) ExportRecord {
	out := *r
	if r.CompletedAt != nil {
		completed := *r.CompletedAt
		out.CompletedAt = &completed
	}
	return out
}

// RenderCSV writes a snapshot as section,status,count,total_seconds,mean_seconds rows.
func RenderCSV(snap Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	rows := [][]string{{"section", "status", "count", "total_seconds", "mean_seconds"}}
	rows = appendCounts(rows, "proyectos", snap.Projects)
	rows = appendCounts(rows, "origen", snap.BySource)
	rows = appendCounts(rows, "nna", snap.Children)
	rows = appendCounts(rows, "carpetas", snap.Folders)
	rows = appendCounts(rows, "hitos", snap.Milestones)
	for _, st := range snap.TimeInStatus {
		rows = append(rows, []string{
			"permanencia",
			string(st.Status),
			strconv.Itoa(st.Samples),
			strconv.FormatFloat(st.Total.Seconds(), 'f', 0, 64),
			strconv.FormatFloat(st.Mean.Seconds(), 'f', 0, 64),
		})
	}
	rows = append(rows, []string{"unificaciones_pendientes", "", strconv.Itoa(snap.PendingMerges), "", ""})
	if err := cw.WriteAll(rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func appendCounts[K ~string](rows [][]string, section string, counts map[K]int) [][]string {
	keys := make([]K, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for _, k := range keys {
		rows = append(rows, []string{section, string(k), strconv.Itoa(counts[k]), "", ""})
	}
	return rows
}
