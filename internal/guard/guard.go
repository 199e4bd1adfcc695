// Package guard gates navigation between verivox views.
//
// Checks are local and optimistic: a view is allowed when a credential is
// present, whatever its age. The backend stays authoritative; a rejected
// credential is evicted by the API client's unauthorized hook.
package guard

import (
	"errors"
	"fmt"
)

// View names a navigable screen.
type View string

const (
	ViewLogin     View = "login"
	ViewScan      View = "scan"
	ViewDashboard View = "dashboard"
	ViewExplain   View = "explain"
)

// Views lists every view in navigation order.
var Views = []View{ViewLogin, ViewScan, ViewDashboard, ViewExplain}

// ParseView parses a view name.
func ParseView(s string) (View, error) {
	for _, v := range Views {
		if string(v) == s {
			return v, nil
		}
	}
	return "", fmt.Errorf("unknown view %q", s)
}

// Protected reports whether the view requires a credential.
func (v View) Protected() bool {
	return v != ViewLogin
}

// Session is the part of the session store the guard reads.
type Session interface {
	Authenticated() bool
}

// Decision is the result of a navigation check.
type Decision struct {
	View     View // view to render
	Redirect bool // true when View differs from the one requested
}

// Check decides which view to render for a request. Protected views
// redirect to login without a credential; login redirects to scan with one.
func Check(requested View, s Session) Decision {
	authed := s != nil && s.Authenticated()

	switch {
	case requested.Protected() && !authed:
		return Decision{View: ViewLogin, Redirect: true}
	case requested == ViewLogin && authed:
		return Decision{View: ViewScan, Redirect: true}
	default:
		return Decision{View: requested}
	}
}

// ErrGuestRestricted is returned when a guest attempts a standard-only action.
var ErrGuestRestricted = errors.New("guest restricted")

// Messages shown for guest restrictions.
const (
	MsgDownloadRestricted = "Download restricted. Please login as a User."
	MsgHistoryRestricted  = "Guest users do not have a persistent audit history."
	MsgDeleteRestricted   = "Guest users cannot delete records."
)

// RestrictedError carries the user-facing explanation for a guest restriction.
type RestrictedError struct {
	Action  string
	Message string
}

func (e *RestrictedError) Error() string {
	return fmt.Sprintf("%s: %s", e.Action, e.Message)
}

func (e *RestrictedError) Unwrap() error {
	return ErrGuestRestricted
}

// Principal is the part of an identity the permission checks read.
type Principal interface {
	IsGuest() bool
}

// CanDownload reports whether p may download PDF reports.
func CanDownload(p Principal) error {
	return restrict(p, "download", MsgDownloadRestricted)
}

// CanViewHistory reports whether p has a persistent audit history.
func CanViewHistory(p Principal) error {
	return restrict(p, "history", MsgHistoryRestricted)
}

// CanDelete reports whether p may delete history records.
func CanDelete(p Principal) error {
	return restrict(p, "delete", MsgDeleteRestricted)
}

func restrict(p Principal, action, msg string) error {
	if p == nil || p.IsGuest() {
		return &RestrictedError{Action: action, Message: msg}
	}
	return nil
}

// Message returns the user-facing message for a guest restriction, or "".
func Message(err error) string {
	var re *RestrictedError
	if errors.As(err, &re) {
		return re.Message
	}
	return ""
}
