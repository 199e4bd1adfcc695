// Package history lists, downloads and deletes the signed-in user's past
// analyses. Guest restrictions are checked locally before any backend call.
package history

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fyrsmithlabs/verivox/internal/api"
	"github.com/fyrsmithlabs/verivox/internal/guard"
	"github.com/fyrsmithlabs/verivox/internal/logging"
	"github.com/fyrsmithlabs/verivox/internal/scan"
	"github.com/fyrsmithlabs/verivox/internal/session"
	"go.uber.org/zap"
)

// User-facing notices.
const (
	MsgEmpty          = "No audit records found."
	MsgLoadFailed     = "Failed to load history."
	MsgDownloaded     = "Report downloaded successfully!"
	MsgDownloadFailed = "Download failed."
	MsgDeleted        = "Record deleted permanently."
	MsgDeleteFailed   = "Could not delete record."
)

var (
	// ErrUnauthenticated is returned when no identity is signed in.
	ErrUnauthenticated = errors.New("not signed in")

	// ErrNoReport is returned for a download without a report id.
	ErrNoReport = errors.New("no durable report for this result")
)

// Backend is the subset of the API client used here.
type Backend interface {
	History(ctx context.Context) ([]api.Report, error)
	DownloadReport(ctx context.Context, id string) (*api.Download, error)
	DeleteReport(ctx context.Context, id string) (*api.DeleteResponse, error)
}

// Identities returns the current identity.
type Identities interface {
	Current() (session.Identity, bool)
}

// Record is one past analysis.
type Record struct {
	ID              string
	Filename        string
	Verdict         scan.Verdict
	Label           string
	ConfidenceScore float64
	Timestamp       time.Time // zero when the backend value did not parse
}

// DisplayScore orients the score toward the verdict.
func (r Record) DisplayScore() float64 {
	return scan.DisplayScore(r.Verdict, r.ConfidenceScore)
}

// Service implements the dashboard operations.
type Service struct {
	backend    Backend
	identities Identities
	dir        string
	logger     *logging.Logger
}

// NewService creates a Service that saves reports under dir.
func NewService(backend Backend, identities Identities, dir string, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{
		backend:    backend,
		identities: identities,
		dir:        dir,
		logger:     logger.Named("history"),
	}
}

func (s *Service) principal() (guard.Principal, error) {
	id, ok := s.identities.Current()
	if !ok {
		return nil, ErrUnauthenticated
	}
	return id, nil
}

// List fetches the user's records in backend order (newest first).
func (s *Service) List(ctx context.Context) ([]Record, error) {
	p, err := s.principal()
	if err != nil {
		return nil, err
	}
	if err := guard.CanViewHistory(p); err != nil {
		return nil, err
	}

	reports, err := s.backend.History(ctx)
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(reports))
	for _, r := range reports {
		rec := Record{
			ID:              r.ID,
			Filename:        r.Filename,
			Verdict:         scan.ParseVerdict(r.Verdict),
			Label:           r.Verdict,
			ConfidenceScore: r.ConfidenceScore,
		}
		if ts, ok := r.Time(); ok {
			rec.Timestamp = ts
		}
		records = append(records, rec)
	}
	s.logger.Debug(ctx, "history loaded", zap.Int("records", len(records)))
	return records, nil
}

// ReportFileName returns the name a report for filename is saved under.
func ReportFileName(filename string) string {
	name := filepath.Base(strings.ReplaceAll(filename, `\`, "/"))
	if name == "." || name == "/" || name == "" {
		name = "report"
	}
	return fmt.Sprintf("Forensic_Report_%s.pdf", name)
}

// Download fetches the PDF for report id and writes it into the download
// directory as Forensic_Report_<filename>.pdf. It returns the written path.
func (s *Service) Download(ctx context.Context, id, filename string) (string, error) {
	p, err := s.principal()
	if err != nil {
		return "", err
	}
	if err := guard.CanDownload(p); err != nil {
		return "", err
	}
	if strings.TrimSpace(id) == "" {
		return "", ErrNoReport
	}

	dl, err := s.backend.DownloadReport(ctx, id)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create download directory: %w", err)
	}
	path := filepath.Join(s.dir, ReportFileName(filename))
	if err := writeFileAtomic(path, dl.Data); err != nil {
		return "", err
	}

	s.logger.Info(ctx, "report saved",
		zap.String("report_id", id),
		zap.String("path", path),
		zap.Int("bytes", len(dl.Data)))
	return path, nil
}

// Delete removes report id and re-fetches the list.
func (s *Service) Delete(ctx context.Context, id string) ([]Record, error) {
	p, err := s.principal()
	if err != nil {
		return nil, err
	}
	if err := guard.CanDelete(p); err != nil {
		return nil, err
	}
	if strings.TrimSpace(id) == "" {
		return nil, ErrNoReport
	}

	if _, err := s.backend.DeleteReport(ctx, id); err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "report deleted", zap.String("report_id", id))
	return s.List(ctx)
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".report-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write report: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to chmod report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close report: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}
	return nil
}

// FailureMessage returns the dashboard notice for a failed operation.
// Guest restrictions keep their own explanation.
func FailureMessage(op string, err error) string {
	if errors.Is(err, guard.ErrGuestRestricted) {
		return guard.Message(err)
	}
	if api.IsAuth(err) {
		return api.MsgSessionExpired
	}
	switch op {
	case "download":
		return MsgDownloadFailed
	case "delete":
		return MsgDeleteFailed
	default:
		return MsgLoadFailed
	}
}
