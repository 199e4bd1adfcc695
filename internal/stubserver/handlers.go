package stubserver

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"golang.org/x/net/html"
)

// timestampLayout mirrors the backend's naive UTC ISO timestamps.
const timestampLayout = "2006-01-02T15:04:05.000000"

type authResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	UserType    string `json:"user_type"`
	Username    string `json:"username"`
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type fieldError struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

// missing lists the blank fields among name/value pairs.
func missing(pairs ...string) []fieldError {
	var errs []fieldError
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			errs = append(errs, fieldError{Loc: []string{"body", pairs[i]}, Msg: "field required", Type: "value_error.missing"})
		}
	}
	return errs
}

// unprocessable answers 422 in the validation-error shape.
func unprocessable(c echo.Context, errs []fieldError) error {
	return c.JSON(http.StatusUnprocessableEntity, map[string]interface{}{"detail": errs})
}

func (s *Server) handleRegister(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if errs := missing("username", req.Username, "email", req.Email, "password", req.Password); len(errs) > 0 {
		return unprocessable(c, errs)
	}

	u, err := s.users.create(req.Username, req.Email, req.Password)
	if errors.Is(err, errEmailTaken) {
		return echo.NewHTTPError(http.StatusBadRequest, "Email already registered")
	}
	if err != nil {
		return err
	}
	return s.issue(c, u.Email, roleUser, u.Username)
}

func (s *Server) handleLogin(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}

	u, ok := s.users.authenticate(req.Email, req.Password)
	if !ok {
		s.logger.Info(c.Request().Context(), "login rejected")
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid credentials")
	}
	return s.issue(c, u.Email, u.Role, u.Username)
}

func (s *Server) handleGuestLogin(c echo.Context) error {
	return s.issue(c, guestSubject, roleGuest, guestUsername)
}

func (s *Server) issue(c echo.Context, subject, role, username string) error {
	tok, err := s.tokens.issue(subject, role)
	if err != nil {
		return fmt.Errorf("failed to sign token: %w", err)
	}
	return c.JSON(http.StatusOK, authResponse{
		AccessToken: tok,
		TokenType:   "bearer",
		UserType:    role,
		Username:    username,
	})
}

// reportJSON is the report shape shared by detect and history.
type reportJSON struct {
	ID                  *string            `json:"_id"`
	Filename            string             `json:"filename"`
	Verdict             string             `json:"verdict"`
	ConfidenceScore     float64            `json:"confidence_score"`
	Reasons             []string           `json:"reasons"`
	Features            map[string]float64 `json:"features"`
	HumanAlignmentScore float64            `json:"human_alignment_score"`
	Timestamp           string             `json:"timestamp"`
	UserEmail           string             `json:"user_email"`
	CanDownloadPDF      bool               `json:"can_download_pdf"`
}

func toJSON(id *string, owner, filename string, a analysis, ts time.Time, canDownload bool) reportJSON {
	return reportJSON{
		ID:                  id,
		Filename:            filename,
		Verdict:             a.Verdict,
		ConfidenceScore:     a.Score,
		Reasons:             a.Reasons,
		Features:            a.Features,
		HumanAlignmentScore: a.HumanAlignment,
		Timestamp:           ts.UTC().Format(timestampLayout),
		UserEmail:           owner,
		CanDownloadPDF:      canDownload,
	}
}

func (s *Server) handleDetect(c echo.Context) error {
	p := caller(c)
	limit := s.config.MaxUploadBytes
	if limit > 0 && c.Request().ContentLength > limit {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "File too large")
	}

	fh, err := c.FormFile("file")
	if err != nil {
		return unprocessable(c, missing("file", ""))
	}
	if limit > 0 && fh.Size > limit {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "File too large")
	}

	f, err := fh.Open()
	if err != nil {
		return fmt.Errorf("failed to open upload: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("failed to read upload: %w", err)
	}

	a := analyze(data)
	now := s.config.Now()
	s.metrics.detections.WithLabelValues(a.Verdict, p.Role).Inc()

	ctx := c.Request().Context()
	if p.guest() {
		s.logger.Info(ctx, "guest detection", zap.String("verdict", a.Verdict))
		return c.JSON(http.StatusOK, toJSON(nil, p.Email, fh.Filename, a, now, false))
	}

	r := s.reports.add(p.Email, fh.Filename, a, now)
	s.logger.Info(ctx, "detection stored", zap.String("report_id", r.ID), zap.String("verdict", a.Verdict))
	id := r.ID
	return c.JSON(http.StatusOK, toJSON(&id, r.Owner, r.Filename, r.Analysis, r.Timestamp, true))
}

func (s *Server) handleHistory(c echo.Context) error {
	p := caller(c)
	out := make([]reportJSON, 0)
	if p.guest() {
		return c.JSON(http.StatusOK, out)
	}
	for _, r := range s.reports.list(p.Email) {
		id := r.ID
		out = append(out, toJSON(&id, r.Owner, r.Filename, r.Analysis, r.Timestamp, true))
	}
	return c.JSON(http.StatusOK, out)
}

// ownedReport resolves :id for the caller, answering 404 or 403.
func (s *Server) ownedReport(c echo.Context) (*report, error) {
	r, ok := s.reports.get(c.Param("id"))
	if !ok {
		return nil, echo.NewHTTPError(http.StatusNotFound, "Report not found")
	}
	if r.Owner != caller(c).Email {
		return nil, echo.NewHTTPError(http.StatusForbidden, "Not authorized")
	}
	return r, nil
}

func (s *Server) handleDownload(c echo.Context) error {
	if caller(c).guest() {
		return echo.NewHTTPError(http.StatusForbidden, "Guests cannot download reports")
	}
	r, err := s.ownedReport(c)
	if err != nil {
		return err
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, mime.FormatMediaType("attachment", map[string]string{
		"filename": fmt.Sprintf("Forensic_Report_%s.pdf", r.Filename),
	}))
	return c.Blob(http.StatusOK, "application/pdf", placeholderPDF(r))
}

type deleteResponse struct {
	Message string `json:"message"`
}

func (s *Server) handleDelete(c echo.Context) error {
	if caller(c).guest() {
		return echo.NewHTTPError(http.StatusForbidden, "Guests cannot delete records")
	}
	r, err := s.ownedReport(c)
	if err != nil {
		return err
	}
	if !s.reports.remove(r.ID) {
		return echo.NewHTTPError(http.StatusInternalServerError, "Delete failed")
	}
	s.logger.Info(c.Request().Context(), "report deleted", zap.String("report_id", r.ID))
	return c.JSON(http.StatusOK, deleteResponse{Message: "Report deleted successfully"})
}

type chatRequest struct {
	Message      string                 `json:"message"`
	ForensicData map[string]interface{} `json:"forensic_data"`
}

type chatResponse struct {
	Reply string `json:"reply"`
}

func (s *Server) handleExplain(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if errs := missing("message", req.Message); len(errs) > 0 {
		return unprocessable(c, errs)
	}
	if s.config.ExplainUnavailable {
		return echo.NewHTTPError(http.StatusInternalServerError, "AI Busy. Try again.")
	}
	return c.JSON(http.StatusOK, chatResponse{Reply: explainReply(req.ForensicData)})
}

// explainReply summarizes forensic data as short HTML.
func explainReply(fd map[string]interface{}) string {
	if len(fd) == 0 {
		return "I have no analysis loaded yet. <b>Upload a file</b> on the scan page and ask me again."
	}

	verdict, _ := fd["verdict"].(string)
	if verdict == "" {
		verdict = "Unknown"
	}
	score, _ := fd["confidence_score"].(float64)

	var b strings.Builder
	fmt.Fprintf(&b, "<b>Verdict:</b> %s<br><b>Fake probability:</b> %.1f%%", html.EscapeString(verdict), score)
	if reasons, ok := fd["reasons"].([]interface{}); ok && len(reasons) > 0 {
		b.WriteString("<ul>")
		for _, r := range reasons {
			if text, ok := r.(string); ok {
				fmt.Fprintf(&b, "<li>%s</li>", html.EscapeString(text))
			}
		}
		b.WriteString("</ul>")
	}
	return b.String()
}
