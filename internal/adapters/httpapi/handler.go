// Package httpapi exposes the registry core over HTTP.
package httpapi

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"rua/internal/core"
	"rua/internal/stats"
	"rua/pkg/domain"
)

// ActorHeader carries the login of the operator issuing the request.
const ActorHeader = "X-RUA-Actor"

const maxUploadBytes = 32 << 20

// Registry is the subset of *core.Service served over HTTP.
type Registry interface {
	CreateFolder(ctx context.Context, projectIDs, childIDs []int64) (domain.Folder, domain.Result, error)
	UpdateFolder(ctx context.Context, id int64, projectIDs, childIDs []int64, opts ...core.MutationOption) (domain.Folder, domain.Result, error)
	SendFolderToCourt(ctx context.Context, id int64, opts ...core.MutationOption) (domain.Folder, domain.Result, error)
	ReturnFolderToPreparation(ctx context.Context, id int64, opts ...core.MutationOption) (domain.Folder, domain.Result, error)
	ResolveFolder(ctx context.Context, id int64, selected *int64, opts ...core.MutationOption) (domain.Folder, domain.Result, error)
	DeleteEmptyFolder(ctx context.Context, id int64, opts ...core.MutationOption) (domain.Result, error)
	DeleteSelectedFolder(ctx context.Context, id int64, requesterDNI string, opts ...core.MutationOption) (domain.Result, error)
	GetFolder(ctx context.Context, id int64) (domain.Folder, error)
	ListFolders(ctx context.Context) ([]domain.Folder, error)
	GetProject(ctx context.Context, id int64) (domain.Project, error)
	TransitionProject(ctx context.Context, projectID int64, event domain.ProjectEvent, payload core.TransitionPayload, opts ...core.MutationOption) (domain.Project, domain.Result, error)
	UnifyOnEnterVinculacion(ctx context.Context, projectID int64, actingLogin string) error
	ProjectHistory(ctx context.Context, id int64) ([]domain.ProjectHistoryEntry, error)
	UploadDocument(ctx context.Context, projectID int64, field domain.DocumentField, filename string, r io.Reader, actor string) (domain.Project, domain.Result, error)
}

// StatsSource computes registry statistics.
type StatsSource interface {
	Compute(ctx context.Context) (stats.Snapshot, error)
}

// Exporter schedules background statistics exports.
type Exporter interface {
	Enqueue(ctx context.Context, requestedBy string) (stats.ExportRecord, error)
	Get(id string) (stats.ExportRecord, bool)
}

// Handler wires registry endpoints to the core service.
type Handler struct {
	registry Registry
	stats    StatsSource
	exports  Exporter
	log      zerolog.Logger
}

// New constructs a handler. stats and exports may be nil, in which case the
// statistics routes are not mounted.
func New(registry Registry, statsSource StatsSource, exports Exporter, log zerolog.Logger) *Handler {
	return &Handler{
		registry: registry,
		stats:    statsSource,
		exports:  exports,
		log:      log.With().Str("component", "http").Logger(),
	}
}

// Router returns a chi router with every route mounted under /api/v1.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.accessLog)
	r.Use(withActor)
	r.Route("/api/v1", h.Register)
	return r
}

// Register mounts the endpoints on r.
func (h *Handler) Register(r chi.Router) {
	r.Route("/carpetas", func(r chi.Router) {
		r.Get("/", h.listFolders)
		r.Post("/", h.createFolder)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.getFolder)
			r.Put("/", h.updateFolder)
			r.Delete("/", h.deleteFolder)
			r.Post("/enviar", h.sendFolder)
			r.Post("/revertir", h.returnFolder)
			r.Post("/dictamen", h.resolveFolder)
			r.Delete("/seleccionada", h.deleteSelectedFolder)
		})
	})
	r.Route("/proyectos/{id}", func(r chi.Router) {
		r.Get("/", h.getProject)
		r.Get("/historial", h.projectHistory)
		r.Post("/transiciones/{event}", h.transitionProject)
		r.Post("/unificar", h.unifyProject)
		r.Post("/documentos/{field}", h.uploadDocument)
	})
	if h.stats != nil {
		r.Get("/estadisticas", h.getStats)
	}
	if h.exports != nil {
		r.Post("/estadisticas/exportaciones", h.createExport)
		r.Get("/estadisticas/exportaciones/{id}", h.getExport)
	}
}

func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		ev := h.log.Debug()
		if ww.Status() >= http.StatusInternalServerError {
			ev = h.log.Error()
		}
		ev.Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request served")
	})
}

func withActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if actor := r.Header.Get(ActorHeader); actor != "" {
			r = r.WithContext(core.WithActor(r.Context(), actor))
		}
		next.ServeHTTP(w, r)
	})
}

func idParam(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.Validationf("invalid id %q", raw)
	}
	return id, nil
}

func versionOpts(version *int64) []core.MutationOption {
	if version == nil {
		return nil
	}
	return []core.MutationOption{core.IfVersion(*version)}
}
