package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/timetable-api/internal/dto"
	internalmiddleware "github.com/noah-isme/timetable-api/internal/middleware"
	"github.com/noah-isme/timetable-api/internal/models"
	"github.com/noah-isme/timetable-api/internal/service"
	appErrors "github.com/noah-isme/timetable-api/pkg/errors"
)

type timetableServiceMock struct {
	generated dto.GenerateTimetableRequest
	saveActor string
	saveName  string
	query     dto.TimetableVersionQuery
	err       error
}

func (m *timetableServiceMock) Generate(ctx context.Context, req dto.GenerateTimetableRequest) (*dto.GenerateTimetableResponse, error) {
	m.generated = req
	if m.err != nil {
		return nil, m.err
	}
	return &dto.GenerateTimetableResponse{RunID: "run-1", Status: "optimal", Outcome: "all_placed"}, nil
}

func (m *timetableServiceMock) GetRun(ctx context.Context, runID string) (*dto.GenerateTimetableResponse, error) {
	if runID != "run-1" {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "timetable run not found or expired")
	}
	return &dto.GenerateTimetableResponse{RunID: runID}, nil
}

func (m *timetableServiceMock) Save(ctx context.Context, runID string, req dto.SaveTimetableRequest, actorID string) (*models.TimetableVersion, error) {
	m.saveActor = actorID
	m.saveName = req.Name
	return &models.TimetableVersion{ID: "version-1", RunID: runID, Version: 1, Name: req.Name, Status: models.TimetableStatusDraft}, nil
}

func (m *timetableServiceMock) List(ctx context.Context, query dto.TimetableVersionQuery) ([]models.TimetableVersion, *models.Pagination, error) {
	m.query = query
	return []models.TimetableVersion{{ID: "version-1"}}, &models.Pagination{Page: 1, PageSize: 20, TotalCount: 1}, nil
}

func (m *timetableServiceMock) GetEntries(ctx context.Context, versionID string) (*dto.TimetableVersionDetail, error) {
	return &dto.TimetableVersionDetail{Version: models.TimetableVersion{ID: versionID}}, nil
}

func (m *timetableServiceMock) Delete(ctx context.Context, versionID string) error {
	if versionID == "published" {
		return appErrors.Clone(appErrors.ErrConflict, "only draft versions can be deleted")
	}
	return nil
}

func (m *timetableServiceMock) Publish(ctx context.Context, versionID string) (*models.TimetableVersion, error) {
	return &models.TimetableVersion{ID: versionID, Status: models.TimetableStatusPublished}, nil
}

type timetableJobsMock struct{}

func (timetableJobsMock) Submit(ctx context.Context, req dto.GenerateTimetableRequest) (*dto.TimetableJobResponse, error) {
	return &dto.TimetableJobResponse{JobID: "job-1", Status: dto.JobQueued}, nil
}

func (timetableJobsMock) Status(ctx context.Context, jobID string) (*dto.TimetableJobResponse, error) {
	return &dto.TimetableJobResponse{JobID: jobID, Status: dto.JobFinished, RunID: "run-1"}, nil
}

type timetableExporterMock struct {
	path string
}

func (m *timetableExporterMock) Export(ctx context.Context, runID string, req dto.ExportTimetableRequest) (*dto.ExportTimetableResponse, error) {
	return &dto.ExportTimetableResponse{Format: req.Format, Token: "tok", URL: "/api/v1/timetables/exports/tok"}, nil
}

func (m *timetableExporterMock) Resolve(token string) (*service.ExportDownload, error) {
	if token != "tok" {
		return nil, appErrors.Clone(appErrors.ErrGone, "download link expired")
	}
	file, err := os.Open(m.path)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		return nil, err
	}
	return &service.ExportDownload{File: file, Filename: "run-1.csv", ContentType: "text/csv", SizeBytes: info.Size()}, nil
}

func newTimetableRouter(t *testing.T, svc *timetableServiceMock, role models.UserRole) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	path := filepath.Join(t.TempDir(), "run-1.csv")
	require.NoError(t, os.WriteFile(path, []byte("Day,Start\nMon,09:00\n"), 0o600))

	h := &TimetableHandler{service: svc, jobs: timetableJobsMock{}, exports: &timetableExporterMock{path: path}, apiPrefix: "/api/v1"}
	router := gin.New()
	group := router.Group("/api/v1/timetables")
	group.Use(func(c *gin.Context) {
		c.Set(internalmiddleware.ContextUserKey, &models.JWTClaims{UserID: "user-1", Role: role})
		c.Next()
	})
	RegisterTimetableRoutes(group, group, h)
	return router
}

func perform(router *gin.Engine, method, target string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestTimetableHandlerGenerate(t *testing.T) {
	svc := &timetableServiceMock{}
	router := newTimetableRouter(t, svc, models.RoleScheduler)

	payload := []byte(`{"rooms":[{"id":"R1","capacity":40}],"options":{"policy":"compact","timeBudgetSeconds":5}}`)
	w := perform(router, http.MethodPost, "/api/v1/timetables/generate", payload)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "compact", svc.generated.Options.Policy)
	require.Len(t, svc.generated.Rooms, 1)
	assert.Equal(t, "R1", svc.generated.Rooms[0].ID)

	var body struct {
		Data dto.GenerateTimetableResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "run-1", body.Data.RunID)

	w = perform(router, http.MethodPost, "/api/v1/timetables/generate", []byte(`{"rooms":`))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	svc.err = appErrors.Clone(appErrors.ErrInfeasible, "fixed sessions clash")
	w = perform(router, http.MethodPost, "/api/v1/timetables/generate", payload)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), appErrors.ErrInfeasible.Code)
}

func TestTimetableHandlerJobs(t *testing.T) {
	router := newTimetableRouter(t, &timetableServiceMock{}, models.RoleScheduler)

	w := perform(router, http.MethodPost, "/api/v1/timetables/jobs", []byte(`{"rooms":[{"id":"R1","capacity":10}]}`))
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "/api/v1/timetables/jobs/job-1", w.Header().Get("Location"))

	w = perform(router, http.MethodGet, "/api/v1/timetables/jobs/job-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"runId":"run-1"`)
}

func TestTimetableHandlerRunsAndVersions(t *testing.T) {
	svc := &timetableServiceMock{}
	router := newTimetableRouter(t, svc, models.RoleAdmin)

	w := perform(router, http.MethodGet, "/api/v1/timetables/runs/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = perform(router, http.MethodPost, "/api/v1/timetables/runs/run-1/save", []byte(`{"name":"Autumn draft"}`))
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "user-1", svc.saveActor)
	assert.Equal(t, "Autumn draft", svc.saveName)

	w = perform(router, http.MethodPost, "/api/v1/timetables/runs/run-1/save", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Empty(t, svc.saveName)

	w = perform(router, http.MethodGet, "/api/v1/timetables/versions?status=DRAFT&page=2&pageSize=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, dto.TimetableVersionQuery{Status: "DRAFT", Page: 2, PageSize: 5}, svc.query)
	assert.Contains(t, w.Body.String(), `"total_count":1`)

	w = perform(router, http.MethodGet, "/api/v1/timetables/versions/version-1/entries", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = perform(router, http.MethodDelete, "/api/v1/timetables/versions/version-1", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = perform(router, http.MethodDelete, "/api/v1/timetables/versions/published", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = perform(router, http.MethodPost, "/api/v1/timetables/versions/version-1/publish", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), string(models.TimetableStatusPublished))
}

func TestTimetableHandlerExportAndDownload(t *testing.T) {
	router := newTimetableRouter(t, &timetableServiceMock{}, models.RoleScheduler)

	w := perform(router, http.MethodPost, "/api/v1/timetables/runs/run-1/export?format=pdf", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"format":"pdf"`)

	w = perform(router, http.MethodGet, "/api/v1/timetables/exports/tok", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="run-1.csv"`, w.Header().Get("Content-Disposition"))
	assert.Equal(t, "Day,Start\nMon,09:00\n", w.Body.String())

	w = perform(router, http.MethodGet, "/api/v1/timetables/exports/stale", nil)
	assert.Equal(t, http.StatusGone, w.Code)
}

func TestTimetableHandlerRequiresSchedulerRole(t *testing.T) {
	router := newTimetableRouter(t, &timetableServiceMock{}, models.RoleViewer)

	w := perform(router, http.MethodPost, "/api/v1/timetables/generate", []byte(`{"rooms":[{"id":"R1"}]}`))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = perform(router, http.MethodGet, "/api/v1/timetables/versions", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
