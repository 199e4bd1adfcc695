package api

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/fyrsmithlabs/verivox/internal/session"
)

// RegisterRequest is the body of POST /auth/register.
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse is returned by the auth endpoints.
type AuthResponse struct {
	Username    string `json:"username"`
	UserType    string `json:"user_type"`
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type,omitempty"`
}

// Guest identity defaults used when the backend omits them.
const (
	GuestDisplayName = "Guest User"
	GuestEmail       = "guest"
)

// Identity converts the response into a session identity.
func (r *AuthResponse) Identity(email string) (session.Identity, error) {
	role, err := session.RoleFromUserType(r.UserType)
	if err != nil {
		return session.Identity{}, err
	}
	id := session.Identity{
		DisplayName: r.Username,
		Email:       email,
		Role:        role,
		Credential:  r.AccessToken,
	}
	return id, id.Validate()
}

// DetectResponse is the analysis result of POST /api/detect. Raw holds the
// full payload, which the explain endpoint takes back as forensic_data.
type DetectResponse struct {
	Filename        string   `json:"filename"`
	Verdict         string   `json:"verdict"`
	ConfidenceScore float64  `json:"confidence_score"`
	Reasons         []string `json:"reasons"`
	ID              *string  `json:"_id"`
	CanDownloadPDF  bool     `json:"can_download_pdf"`

	Raw json.RawMessage `json:"-"`
}

// ReportID returns the durable report id, or "" for guest results.
func (d *DetectResponse) ReportID() string {
	if d.ID == nil {
		return ""
	}
	return *d.ID
}

// Report is one entry of GET /api/history.
type Report struct {
	ID              string   `json:"_id"`
	Filename        string   `json:"filename"`
	Verdict         string   `json:"verdict"`
	ConfidenceScore float64  `json:"confidence_score"`
	Reasons         []string `json:"reasons,omitempty"`
	Timestamp       string   `json:"timestamp"`
}

// timestampLayouts covers the ISO forms the backend emits; naive
// timestamps are UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// Time parses the report timestamp.
func (r Report) Time() (time.Time, bool) {
	ts := strings.TrimSpace(r.Timestamp)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, ts); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// DeleteResponse confirms DELETE /api/report/{id}.
type DeleteResponse struct {
	Message string `json:"message"`
}

// ChatRequest is the body of POST /api/explain/chat.
type ChatRequest struct {
	Message      string          `json:"message"`
	ForensicData json.RawMessage `json:"forensic_data,omitempty"`
}

// ChatResponse carries the assistant reply as HTML-safe rich text.
type ChatResponse struct {
	Reply string `json:"reply"`
}

// Download is a fetched PDF report.
type Download struct {
	Filename    string // from Content-Disposition, may be empty
	ContentType string
	Data        []byte
}
