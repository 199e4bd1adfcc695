package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
)

// Register creates an account and returns its credential.
func (c *Client) Register(ctx context.Context, in RegisterRequest) (*AuthResponse, error) {
	r := request{
		method:      http.MethodPost,
		path:        "/auth/register",
		endpoint:    "auth.register",
		contentType: "application/json",
		body:        jsonBody(in),
	}
	return c.auth(ctx, r)
}

// Login exchanges email and password for a credential.
func (c *Client) Login(ctx context.Context, in LoginRequest) (*AuthResponse, error) {
	r := request{
		method:      http.MethodPost,
		path:        "/auth/login",
		endpoint:    "auth.login",
		contentType: "application/json",
		body:        jsonBody(in),
	}
	return c.auth(ctx, r)
}

// GuestLogin obtains a guest credential. Missing fields default to the
// guest identity.
func (c *Client) GuestLogin(ctx context.Context) (*AuthResponse, error) {
	r := request{
		method:      http.MethodPost,
		path:        "/auth/guest-login",
		endpoint:    "auth.guest",
		contentType: "application/json",
		body:        jsonBody(struct{}{}),
	}
	out, err := c.auth(ctx, r)
	if err != nil {
		return nil, err
	}
	if out.UserType == "" {
		out.UserType = "guest"
	}
	if out.Username == "" {
		out.Username = GuestDisplayName
	}
	return out, nil
}

func (c *Client) auth(ctx context.Context, r request) (*AuthResponse, error) {
	resp, err := c.do(ctx, r)
	if err != nil {
		return nil, err
	}
	var out AuthResponse
	if err := decode(r, resp, &out); err != nil {
		return nil, err
	}
	if out.AccessToken == "" {
		return nil, &Error{Category: CategoryServer, Status: resp.status, Detail: "no access token in response", Method: r.method, Path: r.path}
	}
	return &out, nil
}

// Detect uploads an audio buffer for analysis. data is sent as-is; the
// caller owns an immutable copy. Uploads are never retried.
func (c *Client) Detect(ctx context.Context, filename, contentType string, data []byte) (*DetectResponse, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(filename)))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write form part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close form: %w", err)
	}
	form := buf.Bytes()

	r := request{
		method:      http.MethodPost,
		path:        "/api/detect",
		endpoint:    "detect",
		contentType: mw.FormDataContentType(),
		body:        func() (io.Reader, error) { return bytes.NewReader(form), nil },
	}
	resp, err := c.do(ctx, r)
	if err != nil {
		return nil, err
	}

	var out DetectResponse
	if err := decode(r, resp, &out); err != nil {
		return nil, err
	}
	out.Raw = json.RawMessage(resp.body)
	return &out, nil
}

// History lists the caller's reports, newest first.
func (c *Client) History(ctx context.Context) ([]Report, error) {
	r := request{method: http.MethodGet, path: "/api/history", endpoint: "history"}
	resp, err := c.do(ctx, r)
	if err != nil {
		return nil, err
	}
	var out []Report
	if err := decode(r, resp, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DownloadReport fetches the PDF for a report.
func (c *Client) DownloadReport(ctx context.Context, id string) (*Download, error) {
	r := request{
		method:   http.MethodGet,
		path:     "/api/report/" + url.PathEscape(id) + "/download",
		endpoint: "report.download",
	}
	resp, err := c.do(ctx, r)
	if err != nil {
		return nil, err
	}

	out := &Download{
		ContentType: resp.header.Get("Content-Type"),
		Data:        resp.body,
	}
	if _, params, err := mime.ParseMediaType(resp.header.Get("Content-Disposition")); err == nil {
		out.Filename = params["filename"]
	}
	return out, nil
}

// DeleteReport removes a report.
func (c *Client) DeleteReport(ctx context.Context, id string) (*DeleteResponse, error) {
	r := request{
		method:   http.MethodDelete,
		path:     "/api/report/" + url.PathEscape(id),
		endpoint: "report.delete",
	}
	resp, err := c.do(ctx, r)
	if err != nil {
		return nil, err
	}
	var out DeleteResponse
	if len(bytes.TrimSpace(resp.body)) > 0 {
		if err := decode(r, resp, &out); err != nil {
			return nil, err
		}
	}
	return &out, nil
}

// ExplainChat asks the forensic assistant about a result. forensicData is
// the analysis payload exactly as Detect returned it.
func (c *Client) ExplainChat(ctx context.Context, message string, forensicData json.RawMessage) (*ChatResponse, error) {
	r := request{
		method:      http.MethodPost,
		path:        "/api/explain/chat",
		endpoint:    "explain.chat",
		contentType: "application/json",
		body:        jsonBody(ChatRequest{Message: message, ForensicData: forensicData}),
	}
	resp, err := c.do(ctx, r)
	if err != nil {
		return nil, err
	}
	var out ChatResponse
	if err := decode(r, resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
