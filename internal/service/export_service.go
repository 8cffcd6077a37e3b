package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/timetable-api/internal/csvio"
	"github.com/noah-isme/timetable-api/internal/dto"
	appErrors "github.com/noah-isme/timetable-api/pkg/errors"
	"github.com/noah-isme/timetable-api/pkg/export"
	"github.com/noah-isme/timetable-api/pkg/storage"
)

type runReader interface {
	GetRun(ctx context.Context, runID string) (*dto.GenerateTimetableResponse, error)
}

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type csvRenderer interface {
	Render(rows interface{}) ([]byte, error)
}

type pdfRenderer interface {
	Render(doc export.Document) ([]byte, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix string
	FileTTL   time.Duration
}

// ExportDownload is an opened export ready to stream.
type ExportDownload struct {
	File        *os.File
	Filename    string
	ContentType string
	SizeBytes   int64
}

// ExportService renders runs to files and hands out signed download links.
type ExportService struct {
	runs    runReader
	storage fileStorage
	csv     csvRenderer
	pdf     pdfRenderer
	signer  *storage.SignedURLSigner
	logger  *zap.Logger
	cfg     ExportConfig
}

// NewExportService constructs an ExportService. Nil renderers fall back to the defaults.
func NewExportService(runs runReader, files fileStorage, signer *storage.SignedURLSigner, cfg ExportConfig, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FileTTL <= 0 {
		cfg.FileTTL = 24 * time.Hour
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{
		runs:    runs,
		storage: files,
		csv:     csv,
		pdf:     pdf,
		signer:  signer,
		logger:  logger,
		cfg:     cfg,
	}
}

// Export renders a run in the requested format, stores it and returns a signed link.
func (s *ExportService) Export(ctx context.Context, runID string, req dto.ExportTimetableRequest) (*dto.ExportTimetableResponse, error) {
	format := strings.ToLower(req.Format)
	if format == "" {
		format = dto.ExportFormatCSV
	}
	run, err := s.runs.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	var payload []byte
	switch format {
	case dto.ExportFormatCSV:
		payload, err = s.csv.Render(csvio.ScheduleRows(run.Entries))
	case dto.ExportFormatPDF:
		payload, err = s.pdf.Render(timetableDocument(run))
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", req.Format))
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render timetable export")
	}

	relPath, err := s.storage.Save(path.Join("timetables", fmt.Sprintf("%s.%s", run.RunID, format)), payload)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store timetable export")
	}
	token, expiresAt, err := s.signer.Generate(run.RunID, relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign export link")
	}

	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}
	s.logger.Info("timetable exported", zap.String("run_id", run.RunID), zap.String("format", format), zap.Int("bytes", len(payload)))
	return &dto.ExportTimetableResponse{
		Format:    format,
		Token:     token,
		URL:       fmt.Sprintf("%s/timetables/exports/%s", prefix, token),
		ExpiresAt: expiresAt,
	}, nil
}

// Resolve validates a download token and opens the file it grants.
func (s *ExportService) Resolve(token string) (*ExportDownload, error) {
	grant, err := s.signer.Parse(token, false)
	if err != nil {
		if errors.Is(err, storage.ErrTokenExpired) {
			return nil, appErrors.Clone(appErrors.ErrGone, "download link expired")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "download link invalid")
	}
	file, err := s.storage.Open(grant.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, appErrors.Clone(appErrors.ErrGone, "export file no longer available")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open export")
	}

	info, err := file.Stat()
	if err != nil {
		file.Close() //nolint:errcheck
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to stat export")
	}

	contentType := "text/csv"
	if strings.HasSuffix(grant.Path, "."+dto.ExportFormatPDF) {
		contentType = "application/pdf"
	}
	return &ExportDownload{File: file, Filename: path.Base(grant.Path), ContentType: contentType, SizeBytes: info.Size()}, nil
}

// Cleanup removes export files older than the configured TTL.
func (s *ExportService) Cleanup() (int, error) {
	removed, err := s.storage.CleanupOlderThan(s.cfg.FileTTL)
	if err != nil {
		return 0, err
	}
	if len(removed) > 0 {
		s.logger.Info("expired exports removed", zap.Int("count", len(removed)))
	}
	return len(removed), nil
}

func timetableDocument(run *dto.GenerateTimetableResponse) export.Document {
	schedule := export.Table{
		Title:   "Schedule",
		Headers: []string{"Day", "Start", "End", "Room", "Course", "Sec", "Type", "Part", "Teacher", "Notes"},
	}
	for _, row := range csvio.ScheduleRows(run.Entries) {
		schedule.Rows = append(schedule.Rows, []string{
			row.Day, row.Start, row.End, row.Room, row.Course, row.Section, row.Type, row.Part, row.Teacher, row.Notes,
		})
	}
	doc := export.Document{
		Title: "Weekly timetable",
		Subtitle: fmt.Sprintf("Run %s | %s policy | solver %s (%s) | objective %d | generated %s",
			run.RunID, run.Policy, run.Stats.Solver, run.Status, run.Objective, run.CreatedAt.Format(time.RFC3339)),
		Tables: []export.Table{schedule},
	}
	if len(run.Unplaced) > 0 {
		unplaced := export.Table{Title: "Unplaced sessions", Headers: []string{"Course", "Sec", "Type", "Part", "Reason"}}
		for _, row := range csvio.UnplacedRows(run.Unplaced) {
			unplaced.Rows = append(unplaced.Rows, []string{row.Course, row.Section, row.Type, row.Part, row.Reason})
		}
		doc.Tables = append(doc.Tables, unplaced)
	}
	return doc
}
