package history

import (
	"strings"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/fyrsmithlabs/verivox/internal/scan"
)

// Summary aggregates a record list.
type Summary struct {
	Total        int
	Synthetic    int
	Human        int
	Unknown      int
	AverageScore float64 // mean display score, 0 when empty

	// Recent holds the synthetic-oriented confidence of up to RecentLimit
	// records, oldest first.
	Recent []float64
}

// RecentLimit bounds the sparkline series.
const RecentLimit = 30

// Summarize counts verdicts and averages display scores. records is in
// backend order, newest first.
func Summarize(records []Record) Summary {
	var s Summary
	var total float64
	for _, r := range records {
		s.Total++
		switch r.Verdict {
		case scan.VerdictSynthetic:
			s.Synthetic++
		case scan.VerdictHuman:
			s.Human++
		default:
			s.Unknown++
		}
		total += r.DisplayScore()
	}
	if s.Total > 0 {
		s.AverageScore = total / float64(s.Total)
	}

	n := len(records)
	if n > RecentLimit {
		n = RecentLimit
	}
	s.Recent = make([]float64, 0, n)
	for i := n - 1; i >= 0; i-- {
		s.Recent = append(s.Recent, records[i].ConfidenceScore)
	}
	return s
}

// Sparkline renders the recent synthetic scores as a single-row chart of
// the given width. Scores are plotted on a fixed 0-100 scale.
func (s Summary) Sparkline(width, height int) string {
	if width <= 0 || len(s.Recent) == 0 {
		return ""
	}
	if height <= 0 {
		height = 1
	}
	sl := sparkline.New(width, height, sparkline.WithMaxValue(100))
	for _, v := range s.Recent {
		sl.Push(v)
	}
	sl.Draw()
	return strings.TrimRight(sl.View(), "\n")
}
