package scan

import (
	"encoding/json"
	"strings"

	"github.com/fyrsmithlabs/verivox/internal/api"
)

// Verdict is the classification of an analyzed file.
type Verdict string

const (
	VerdictSynthetic Verdict = "synthetic"
	VerdictHuman     Verdict = "human"
	VerdictUnknown   Verdict = "unknown"
)

// Backend verdict strings.
const (
	labelSynthetic = "AI/Synthetic"
	labelHuman     = "Real Human"
)

// ParseVerdict maps a backend verdict string. Anything other than the two
// known labels (the backend reports "Error" for failed analyses) is unknown.
func ParseVerdict(label string) Verdict {
	switch strings.TrimSpace(label) {
	case labelSynthetic:
		return VerdictSynthetic
	case labelHuman:
		return VerdictHuman
	default:
		return VerdictUnknown
	}
}

// Result is the most recent analysis outcome.
type Result struct {
	SubjectFileName string
	Verdict         Verdict
	Label           string  // backend verdict string as received
	ConfidenceScore float64 // 0-100, oriented toward the synthetic class
	Findings        []string
	ReportID        string // empty for guests

	// Raw is the analysis payload as returned, sent back verbatim as
	// forensic_data when explaining the result.
	Raw json.RawMessage
}

// DisplayScore orients the confidence toward the verdict: the score itself
// for synthetic, its complement for human.
func (r Result) DisplayScore() float64 {
	return DisplayScore(r.Verdict, r.ConfidenceScore)
}

// DisplayScore returns score if v is synthetic, 100-score if human.
func DisplayScore(v Verdict, score float64) float64 {
	if v == VerdictHuman {
		return 100 - score
	}
	return score
}

// HasReport reports whether a durable PDF report exists.
func (r Result) HasReport() bool {
	return r.ReportID != ""
}

// FromResponse builds a Result from a detect response. fallbackName is
// used when the backend omits the filename.
func FromResponse(resp *api.DetectResponse, fallbackName string) Result {
	name := resp.Filename
	if name == "" {
		name = fallbackName
	}
	findings := make([]string, len(resp.Reasons))
	copy(findings, resp.Reasons)

	return Result{
		SubjectFileName: name,
		Verdict:         ParseVerdict(resp.Verdict),
		Label:           resp.Verdict,
		ConfidenceScore: resp.ConfidenceScore,
		Findings:        findings,
		ReportID:        resp.ReportID(),
		Raw:             resp.Raw,
	}
}
