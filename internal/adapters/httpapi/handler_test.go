package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"rua/internal/adapters/httpapi"
	"rua/internal/blob"
	"rua/internal/core"
	"rua/internal/infra/persistence/memory"
	"rua/internal/stats"
	"rua/pkg/domain"
)

type env struct {
	t      *testing.T
	svc    *core.Service
	server *httptest.Server
}

func newEnv(t *testing.T, statsSource httpapi.StatsSource, exports httpapi.Exporter) *env {
	t.Helper()
	store := memory.NewStore(core.NewDefaultRulesEngine())
	svc := core.NewService(store, core.WithBlobStore(blob.NewMemory()))
	server := httptest.NewServer(httpapi.New(svc, statsSource, exports, zerolog.Nop()).Router())
	t.Cleanup(server.Close)
	return &env{t: t, svc: svc, server: server}
}

func (e *env) do(method, path string, body any) (*http.Response, map[string]any) {
	e.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(e.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(e.t, err)
	req.Header.Set(httpapi.ActorHeader, "operador")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(e.t, err)
	defer resp.Body.Close()
	var out map[string]any
	if resp.StatusCode != http.StatusNoContent {
		_ = json.NewDecoder(resp.Body).Decode(&out)
	}
	return resp, out
}

func (e *env) viableProject(login string) domain.Project {
	e.t.Helper()
	p, _, err := e.svc.CreateProject(context.Background(), core.ProjectInput{
		Kind:   domain.KindMonoparental,
		Source: domain.SourceOficio,
		Login1: login,
	})
	require.NoError(e.t, err)
	return p
}

func (e *env) child(dni string) domain.Child {
	e.t.Helper()
	c, _, err := e.svc.CreateChild(context.Background(), core.ChildInput{DNI: dni, FirstName: "Nombre", LastName: "Apellido", Status: domain.ChildDisponible})
	require.NoError(e.t, err)
	return c
}

func (e *env) history(projectID int64, milestone string) []domain.ProjectHistoryEntry {
	e.t.Helper()
	url := e.server.URL + "/api/v1/proyectos/" + itoa(projectID) + "/historial"
	if milestone != "" {
		url += "?hito=" + milestone
	}
	resp, err := http.Get(url)
	require.NoError(e.t, err)
	defer resp.Body.Close()
	require.Equal(e.t, http.StatusOK, resp.StatusCode)
	var rows []domain.ProjectHistoryEntry
	require.NoError(e.t, json.NewDecoder(resp.Body).Decode(&rows))
	return rows
}

func errorOf(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	errBody, ok := body["error"].(map[string]any)
	require.True(t, ok, "expected error body, got %v", body)
	return errBody
}

func TestFolderLifecycleOverHTTP(t *testing.T) {
	e := newEnv(t, nil, nil)
	p := e.viableProject("20111")
	c := e.child("50001")

	resp, body := e.do(http.MethodPost, "/api/v1/carpetas", map[string]any{"proyectos": []int64{p.ID}, "nna": []int64{c.ID}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, string(domain.FolderPreparandoCarpeta), body["status"])
	folderPath := "/api/v1/carpetas/" + jsonID(body)

	resp, body = e.do(http.MethodPost, folderPath+"/enviar", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, string(domain.FolderEnviadaAJuzgado), body["status"])

	history := e.history(p.ID, "")
	last := history[len(history)-1]
	require.Equal(t, core.MilestoneSentToCourt, last.Milestone)
	require.Equal(t, domain.ProjectEnCarpeta, last.From)
	require.Equal(t, domain.ProjectEnCarpeta, last.To)
	require.Equal(t, "operador", last.Actor)
	sent := e.history(p.ID, core.MilestoneSentToCourt)
	require.Len(t, sent, 1)
	require.Equal(t, last.ID, sent[0].ID)
	require.Empty(t, e.history(p.ID, "entrevista"))

	resp, body = e.do(http.MethodPost, folderPath+"/dictamen", map[string]any{"proyecto_seleccionado": p.ID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, string(domain.FolderProyectoSeleccionado), body["status"])

	resp, body = e.do(http.MethodGet, "/api/v1/proyectos/"+itoa(p.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, string(domain.ProjectVinculacion), body["status"])

	resp, body = e.do(http.MethodDelete, folderPath+"/seleccionada?dni=30999", nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Equal(t, string(domain.KindAuthorization), errorOf(t, body)["kind"])

	resp, _ = e.do(http.MethodDelete, folderPath+"/seleccionada?dni=20111", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = e.do(http.MethodGet, folderPath, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, string(domain.KindNotFound), errorOf(t, body)["kind"])
}

func TestCreateFolderRejectionCarriesDetails(t *testing.T) {
	e := newEnv(t, nil, nil)
	p := e.viableProject("20111")
	_, _, err := e.svc.TransitionProject(context.Background(), p.ID, domain.EventWithdraw, core.TransitionPayload{BajaStatus: domain.ProjectBajaCaducidad})
	require.NoError(t, err)

	resp, body := e.do(http.MethodPost, "/api/v1/carpetas", map[string]any{"proyectos": []int64{p.ID}})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	errBody := errorOf(t, body)
	require.Equal(t, string(domain.KindValidation), errBody["kind"])
	require.NotEmpty(t, errBody["details"])
}

func TestUpdateFolderVersionConflict(t *testing.T) {
	e := newEnv(t, nil, nil)
	p := e.viableProject("20111")
	resp, body := e.do(http.MethodPost, "/api/v1/carpetas", map[string]any{"proyectos": []int64{p.ID}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body = e.do(http.MethodPut, "/api/v1/carpetas/"+jsonID(body), map[string]any{"proyectos": []int64{p.ID}, "version": 99})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Equal(t, string(domain.KindConflict), errorOf(t, body)["kind"])
}

func TestBadRequests(t *testing.T) {
	e := newEnv(t, nil, nil)

	resp, body := e.do(http.MethodGet, "/api/v1/carpetas/abc", nil)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	require.Contains(t, errorOf(t, body)["message"], "invalid id")

	resp, body = e.do(http.MethodPost, "/api/v1/carpetas", map[string]any{"desconocido": true})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	require.Contains(t, errorOf(t, body)["message"], "invalid request body")

	resp, _ = e.do(http.MethodGet, "/api/v1/estadisticas", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTransitionProjectOverHTTP(t *testing.T) {
	e := newEnv(t, nil, nil)
	p := e.viableProject("20111")
	path := "/api/v1/proyectos/" + itoa(p.ID)

	resp, body := e.do(http.MethodPost, path+"/transiciones/"+string(domain.EventWithdraw), map[string]any{"baja_status": domain.ProjectBajaCaducidad, "comment": "vencido"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, string(domain.ProjectBajaCaducidad), body["status"])

	resp, body = e.do(http.MethodPost, path+"/transiciones/"+string(domain.EventRetireByConvocatoria), nil)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	require.Equal(t, string(domain.KindValidation), errorOf(t, body)["kind"])

	req, err := http.NewRequest(http.MethodGet, e.server.URL+path+"/historial", nil)
	require.NoError(t, err)
	hresp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer hresp.Body.Close()
	var rows []domain.ProjectHistoryEntry
	require.NoError(t, json.NewDecoder(hresp.Body).Decode(&rows))
	require.Len(t, rows, 2)
	require.Equal(t, domain.ProjectBajaCaducidad, rows[1].To)
	require.Equal(t, "operador", rows[1].Actor)
}

func TestUploadDocumentOverHTTP(t *testing.T) {
	e := newEnv(t, nil, nil)
	p := e.viableProject("20111")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("archivo", "dictamen.pdf")
	require.NoError(t, err)
	_, err = part.Write([]byte("%PDF-1.4"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, e.server.URL+"/api/v1/proyectos/"+itoa(p.ID)+"/documentos/"+string(domain.DocDictamen), &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(httpapi.ActorHeader, "20111")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	got, err := e.svc.GetProject(context.Background(), p.ID)
	require.NoError(t, err)
	require.Len(t, got.Document(domain.DocDictamen).Entries, 1)
}

type stubStats struct {
	snap stats.Snapshot
	err  error
}

func (s stubStats) Compute(context.Context) (stats.Snapshot, error) { return s.snap, s.err }

type stubExports struct {
	records map[string]stats.ExportRecord
	err     error
}

func (s *stubExports) Enqueue(_ context.Context, requestedBy string) (stats.ExportRecord, error) {
	if s.err != nil {
		return stats.ExportRecord{}, s.err
	}
	rec := stats.ExportRecord{ID: "exp-1", Status: stats.ExportQueued, RequestedBy: requestedBy, CreatedAt: time.Now()}
	s.records[rec.ID] = rec
	return rec, nil
}

func (s *stubExports) Get(id string) (stats.ExportRecord, bool) {
	rec, ok := s.records[id]
	return rec, ok
}

func TestStatisticsRoutes(t *testing.T) {
	exports := &stubExports{records: map[string]stats.ExportRecord{}}
	e := newEnv(t, stubStats{snap: stats.Snapshot{PendingMerges: 3}}, exports)

	resp, body := e.do(http.MethodGet, "/api/v1/estadisticas", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.EqualValues(t, 3, body["pending_merges"])

	resp, body = e.do(http.MethodPost, "/api/v1/estadisticas/exportaciones", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Equal(t, "/api/v1/estadisticas/exportaciones/exp-1", resp.Header.Get("Location"))
	require.Equal(t, "operador", body["requested_by"])

	resp, body = e.do(http.MethodGet, "/api/v1/estadisticas/exportaciones/exp-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, string(stats.ExportQueued), body["status"])

	resp, _ = e.do(http.MethodGet, "/api/v1/estadisticas/exportaciones/missing", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	exports.err = errors.New("export queue full")
	resp, body = e.do(http.MethodPost, "/api/v1/estadisticas/exportaciones", nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Contains(t, errorOf(t, body)["message"], "export queue full")
}

func TestStatisticsFailureHidesCause(t *testing.T) {
	e := newEnv(t, stubStats{err: errors.New("dial tcp 10.0.0.1:5432")}, nil)
	resp, body := e.do(http.MethodGet, "/api/v1/estadisticas", nil)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	errBody := errorOf(t, body)
	require.Equal(t, "statistics unavailable", errBody["message"])
	require.NotContains(t, errBody, "details")
}
