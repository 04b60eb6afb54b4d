package grading

import "github.com/stemsi/exstem-engine/internal/model"

// Band is the overall performance label of a result.
type Band string

const (
	BandExcellent        Band = "EXCELLENT"
	BandGood             Band = "GOOD"
	BandAverage          Band = "AVERAGE"
	BandNeedsImprovement Band = "NEEDS_IMPROVEMENT"
)

// Tier is the colour-style label used for per-category lines.
type Tier string

const (
	TierStrong Tier = "STRONG"
	TierFair   Tier = "FAIR"
	TierWeak   Tier = "WEAK"
)

// BandFor maps an overall percentage to its band.
func BandFor(percentage int) Band {
	switch {
	case percentage >= 90:
		return BandExcellent
	case percentage >= 80:
		return BandGood
	case percentage >= 60:
		return BandAverage
	default:
		return BandNeedsImprovement
	}
}

// TierFor maps a category percentage to its tier.
func TierFor(percentage int) Tier {
	switch {
	case percentage >= 80:
		return TierStrong
	case percentage >= 60:
		return TierFair
	default:
		return TierWeak
	}
}

// TimeUsedPercent is the share of the allotted time the taker used.
func TimeUsedPercent(r *model.Result) int {
	return Percent(r.TimeTakenSeconds, r.DurationSeconds)
}

// CategorySummary is a breakdown line with its tier.
type CategorySummary struct {
	model.CategoryScore
	Tier Tier `json:"tier"`
}

// Summary is the display view of a result handed to presentation layers.
type Summary struct {
	*model.Result
	Band            Band              `json:"band"`
	TimeUsedPercent int               `json:"time_used_percent"`
	TimeTaken       string            `json:"time_taken"`
	Categories      []CategorySummary `json:"categories"`
}

// Summarize derives the display view from a result.
func Summarize(r *model.Result) Summary {
	cats := make([]CategorySummary, len(r.CategoryBreakdown))
	for i, c := range r.CategoryBreakdown {
		cats[i] = CategorySummary{CategoryScore: c, Tier: TierFor(c.Percentage)}
	}
	return Summary{
		Result:          r,
		Band:            BandFor(r.Percentage),
		TimeUsedPercent: TimeUsedPercent(r),
		TimeTaken:       model.FormatClock(r.TimeTakenSeconds),
		Categories:      cats,
	}
}
