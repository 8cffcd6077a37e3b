package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/timetable-api/internal/dto"
	"github.com/noah-isme/timetable-api/internal/middleware"
	"github.com/noah-isme/timetable-api/internal/models"
	"github.com/noah-isme/timetable-api/internal/service"
	appErrors "github.com/noah-isme/timetable-api/pkg/errors"
	"github.com/noah-isme/timetable-api/pkg/response"
)

type timetableService interface {
	Generate(ctx context.Context, req dto.GenerateTimetableRequest) (*dto.GenerateTimetableResponse, error)
	GetRun(ctx context.Context, runID string) (*dto.GenerateTimetableResponse, error)
	Save(ctx context.Context, runID string, req dto.SaveTimetableRequest, actorID string) (*models.TimetableVersion, error)
	List(ctx context.Context, query dto.TimetableVersionQuery) ([]models.TimetableVersion, *models.Pagination, error)
	GetEntries(ctx context.Context, versionID string) (*dto.TimetableVersionDetail, error)
	Delete(ctx context.Context, versionID string) error
	Publish(ctx context.Context, versionID string) (*models.TimetableVersion, error)
}

type timetableJobs interface {
	Submit(ctx context.Context, req dto.GenerateTimetableRequest) (*dto.TimetableJobResponse, error)
	Status(ctx context.Context, jobID string) (*dto.TimetableJobResponse, error)
}

type timetableExporter interface {
	Export(ctx context.Context, runID string, req dto.ExportTimetableRequest) (*dto.ExportTimetableResponse, error)
	Resolve(token string) (*service.ExportDownload, error)
}

// TimetableHandler exposes timetable generation, persistence and export endpoints.
type TimetableHandler struct {
	service   timetableService
	jobs      timetableJobs
	exports   timetableExporter
	apiPrefix string
}

// NewTimetableHandler constructs the handler.
func NewTimetableHandler(svc *service.TimetableService, jobs *service.TimetableJobService, exports *service.ExportService, apiPrefix string) *TimetableHandler {
	return &TimetableHandler{service: svc, jobs: jobs, exports: exports, apiPrefix: strings.TrimRight(apiPrefix, "/")}
}

// Generate godoc
// @Summary Generate a weekly timetable
// @Description Solves the request synchronously within its time budget. Identical inputs are served from cache.
// @Tags Timetables
// @Accept json
// @Produce json
// @Param payload body dto.GenerateTimetableRequest true "Timetable input"
// @Success 200 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /timetables/generate [post]
func (h *TimetableHandler) Generate(c *gin.Context) {
	var req dto.GenerateTimetableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid timetable payload"))
		return
	}
	result, err := h.service.Generate(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetMeta(c, "cache_hit", result.Cached)
	response.JSON(c, http.StatusOK, result, nil, middleware.Meta(c))
}

// SubmitJob godoc
// @Summary Queue a timetable generation
// @Tags Timetables
// @Accept json
// @Produce json
// @Param payload body dto.GenerateTimetableRequest true "Timetable input"
// @Success 202 {object} response.Envelope
// @Router /timetables/jobs [post]
func (h *TimetableHandler) SubmitJob(c *gin.Context) {
	var req dto.GenerateTimetableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid timetable payload"))
		return
	}
	job, err := h.jobs.Submit(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, job, fmt.Sprintf("%s/timetables/jobs/%s", h.apiPrefix, job.JobID))
}

// JobStatus godoc
// @Summary Get the state of a queued generation
// @Tags Timetables
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} response.Envelope
// @Router /timetables/jobs/{id} [get]
func (h *TimetableHandler) JobStatus(c *gin.Context) {
	job, err := h.jobs.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, job, nil)
}

// GetRun godoc
// @Summary Get a generated run
// @Tags Timetables
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} response.Envelope
// @Router /timetables/runs/{id} [get]
func (h *TimetableHandler) GetRun(c *gin.Context) {
	run, err := h.service.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, run, nil)
}

// Save godoc
// @Summary Persist a run as a timetable version
// @Tags Timetables
// @Accept json
// @Produce json
// @Param id path string true "Run ID"
// @Param payload body dto.SaveTimetableRequest false "Version name"
// @Success 201 {object} response.Envelope
// @Router /timetables/runs/{id}/save [post]
func (h *TimetableHandler) Save(c *gin.Context) {
	var req dto.SaveTimetableRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid save payload"))
			return
		}
	}
	version, err := h.service.Save(c.Request.Context(), c.Param("id"), req, actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, version)
}

// ListVersions godoc
// @Summary List saved timetable versions
// @Tags Timetables
// @Produce json
// @Param status query string false "DRAFT, PUBLISHED or ARCHIVED"
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /timetables/versions [get]
func (h *TimetableHandler) ListVersions(c *gin.Context) {
	var query dto.TimetableVersionQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query parameters"))
		return
	}
	versions, pagination, err := h.service.List(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, versions, pagination)
}

// VersionEntries godoc
// @Summary Get a saved version with its entries
// @Tags Timetables
// @Produce json
// @Param id path string true "Version ID"
// @Success 200 {object} response.Envelope
// @Router /timetables/versions/{id}/entries [get]
func (h *TimetableHandler) VersionEntries(c *gin.Context) {
	detail, err := h.service.GetEntries(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// DeleteVersion godoc
// @Summary Delete a draft timetable version
// @Tags Timetables
// @Param id path string true "Version ID"
// @Success 204
// @Router /timetables/versions/{id} [delete]
func (h *TimetableHandler) DeleteVersion(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// PublishVersion godoc
// @Summary Publish a draft timetable version
// @Tags Timetables
// @Produce json
// @Param id path string true "Version ID"
// @Success 200 {object} response.Envelope
// @Router /timetables/versions/{id}/publish [post]
func (h *TimetableHandler) PublishVersion(c *gin.Context) {
	version, err := h.service.Publish(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, version, nil)
}

// Export godoc
// @Summary Render a run to CSV or PDF
// @Tags Timetables
// @Produce json
// @Param id path string true "Run ID"
// @Param format query string false "csv or pdf"
// @Success 201 {object} response.Envelope
// @Router /timetables/runs/{id}/export [post]
func (h *TimetableHandler) Export(c *gin.Context) {
	req := dto.ExportTimetableRequest{Format: c.Query("format")}
	result, err := h.exports.Export(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// Download godoc
// @Summary Download an exported timetable via signed token
// @Tags Timetables
// @Produce octet-stream
// @Param token path string true "Signed token"
// @Success 200 {file} binary
// @Router /timetables/exports/{token} [get]
func (h *TimetableHandler) Download(c *gin.Context) {
	token := strings.TrimSpace(c.Param("token"))
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	result, err := h.exports.Resolve(token)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer result.File.Close() //nolint:errcheck
	response.Attachment(c, result.Filename, result.ContentType, result.SizeBytes, result.File)
}

// RegisterTimetableRoutes mounts the timetable endpoints. protected must already carry JWT
// authentication; downloads go on public since the signed token is the credential.
func RegisterTimetableRoutes(protected, public *gin.RouterGroup, h *TimetableHandler) {
	writers := middleware.RequireRoles(models.RoleAdmin, models.RoleScheduler)
	readers := middleware.RequireRoles(models.RoleAdmin, models.RoleScheduler, models.RoleViewer)

	protected.POST("/generate", writers, h.Generate)
	protected.POST("/jobs", writers, h.SubmitJob)
	protected.GET("/jobs/:id", writers, h.JobStatus)
	protected.GET("/runs/:id", writers, h.GetRun)
	protected.POST("/runs/:id/save", writers, h.Save)
	protected.POST("/runs/:id/export", writers, h.Export)
	protected.GET("/versions", readers, h.ListVersions)
	protected.GET("/versions/:id/entries", readers, h.VersionEntries)
	protected.DELETE("/versions/:id", writers, h.DeleteVersion)
	protected.POST("/versions/:id/publish", middleware.RequireRoles(models.RoleAdmin), h.PublishVersion)

	public.GET("/exports/:token", h.Download)
}
