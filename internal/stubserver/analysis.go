package stubserver

import (
	"crypto/sha256"
	"encoding/binary"
	"math"
)

// Backend verdict labels.
const (
	verdictSynthetic = "AI/Synthetic"
	verdictHuman     = "Real Human"
)

var syntheticReasons = [][]string{
	{"Pitch jitter is unnaturally low", "Cepstral peak below the human baseline"},
	{"Spectral entropy is flat across frames", "No breathing pauses detected"},
	{"MFCC variance is too consistent for live speech", "Silence ratio outside the human range"},
}

var humanReasons = [][]string{
	{"Natural pitch micro-variations present", "Breathing pauses detected"},
	{"Cepstral peak within the human baseline", "Dynamic MFCC movement over time"},
	{"Spectral entropy consistent with a live recording"},
}

// analysis is a canned result. Nothing is measured: every number is
// derived from the content hash so equal uploads get equal results.
type analysis struct {
	Verdict        string
	Score          float64 // synthetic probability, 2-98
	Reasons        []string
	Features       map[string]float64
	HumanAlignment float64
}

func analyze(data []byte) analysis {
	sum := sha256.Sum256(data)
	n := binary.BigEndian.Uint64(sum[:8])

	score := 2 + float64(n%9601)/100 // 2.00 .. 98.00
	score = math.Round(score*100) / 100

	verdict := verdictHuman
	reasons := humanReasons[int(sum[8])%len(humanReasons)]
	if score > 50 {
		verdict = verdictSynthetic
		reasons = syntheticReasons[int(sum[8])%len(syntheticReasons)]
	}

	return analysis{
		Verdict: verdict,
		Score:   score,
		Reasons: append([]string(nil), reasons...),
		Features: map[string]float64{
			"jitter":           float64(sum[9]) / 10000,
			"cepstral_peak":    float64(sum[10]) / 10,
			"spectral_entropy": float64(sum[11]) / 40,
			"silence_ratio":    float64(sum[12]) / 510,
		},
		HumanAlignment: math.Round((100-score)*100) / 100,
	}
}
