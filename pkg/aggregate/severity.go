package aggregate

import (
	"fmt"

	"github.com/ethpandaops/pageaudit/pkg/audit"
)

// Severity is the visual band of a score.
type Severity string

const (
	Bad      Severity = "bad"
	Moderate Severity = "moderate"
	Good     Severity = "good"
	Neutral  Severity = "neutral"
)

// Bands are the score thresholds used by Classify. Scores are in [0,1].
type Bands struct {
	Name string
	// BadBelow and ModerateBelow are exclusive upper bounds.
	BadBelow      float64
	ModerateBelow float64
	// GoodAbove is an exclusive lower bound, used only when HasGood is set.
	GoodAbove float64
	HasGood   bool
}

var (
	// SingleModeBands flag only bad and moderate scores.
	SingleModeBands = Bands{Name: "single", BadBelow: 0.3, ModerateBelow: 0.7}

	// DualModeBands add a good band above 0.9.
	DualModeBands = Bands{Name: "dual", BadBelow: 0.3, ModerateBelow: 0.7, GoodAbove: 0.9, HasGood: true}
)

// BandsByName resolves a configured band set.
func BandsByName(name string) (Bands, error) {
	switch name {
	case SingleModeBands.Name:
		return SingleModeBands, nil
	case DualModeBands.Name, "":
		return DualModeBands, nil
	default:
		return Bands{}, fmt.Errorf("unknown severity bands %q", name)
	}
}

// Classify maps a score to its band. Scores between the moderate and good
// bands, and every score above the moderate band when there is no good
// band, are neutral.
func (b Bands) Classify(v float64) Severity {
	switch {
	case v < b.BadBelow:
		return Bad
	case v < b.ModerateBelow:
		return Moderate
	case b.HasGood && v > b.GoodAbove:
		return Good
	default:
		return Neutral
	}
}

// ClassifyValue classifies a stored value. A missing score is neutral.
func (b Bands) ClassifyValue(v audit.Value) Severity {
	if !v.Score.Valid {
		return Neutral
	}

	return b.Classify(v.Score.Float64)
}

// ClassifyPercent classifies an Average result. Undefined averages are
// neutral.
func (b Bands) ClassifyPercent(p float64) Severity {
	if IsUndefined(p) {
		return Neutral
	}

	return b.Classify(p / 100)
}
