// Package scoring derives the reputation score from audit findings.
package scoring

import "auraaudit/shared/types"

// Severity weights: points subtracted from 100 per finding.
const (
	WeightCritical = 25
	WeightHigh     = 10
	WeightMedium   = 5
	WeightLow      = 2

	MaxScore = 100
	MinScore = 0
)

// Label is the qualitative band of a score.
type Label string

const (
	LabelExcellent      Label = "Excellent"
	LabelGood           Label = "Good"
	LabelNeedsAttention Label = "Needs Attention"
)

// Counts tallies findings per severity.
type Counts struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
}

// Score is a bounded reputation value and its label.
type Score struct {
	Value int   `json:"value"`
	Label Label `json:"label"`
}

// Add returns c with one more finding of severity s. Unknown severities are ignored.
func (c Counts) Add(s types.Severity) Counts {
	switch s {
	case types.SeverityCritical:
		c.Critical++
	case types.SeverityHigh:
		c.High++
	case types.SeverityMedium:
		c.Medium++
	case types.SeverityLow:
		c.Low++
	}
	return c
}

// Total is the number of findings counted.
func (c Counts) Total() int {
	return nonNegative(c.Critical) + nonNegative(c.High) + nonNegative(c.Medium) + nonNegative(c.Low)
}

// CountsFromMap builds Counts from a severity keyed map; missing keys count as zero.
func CountsFromMap(m map[types.Severity]int) Counts {
	return Counts{
		Critical: m[types.SeverityCritical],
		High:     m[types.SeverityHigh],
		Medium:   m[types.SeverityMedium],
		Low:      m[types.SeverityLow],
	}
}

// Tally counts findings by severity.
func Tally(findings []types.AuditFinding) Counts {
	var c Counts
	for _, f := range findings {
		c = c.Add(f.Severity)
	}
	return c
}

// Compute starts at 100, subtracts the severity weights and clamps to [0, 100].
// Negative counts are treated as zero.
func Compute(c Counts) Score {
	v := MaxScore -
		WeightCritical*bounded(c.Critical) -
		WeightHigh*bounded(c.High) -
		WeightMedium*bounded(c.Medium) -
		WeightLow*bounded(c.Low)
	if v < MinScore {
		v = MinScore
	}
	if v > MaxScore {
		v = MaxScore
	}
	return Score{Value: v, Label: LabelFor(v)}
}

// FromFindings is Compute(Tally(findings)).
func FromFindings(findings []types.AuditFinding) Score {
	return Compute(Tally(findings))
}

// LabelFor maps a score to its band: >=80 Excellent, >=60 Good, otherwise Needs Attention.
func LabelFor(v int) Label {
	switch {
	case v >= 80:
		return LabelExcellent
	case v >= 60:
		return LabelGood
	default:
		return LabelNeedsAttention
	}
}

// bounded caps a count at MaxScore so the weighted sum cannot overflow. Every
// weight is at least 2, so a capped term already drives the score to MinScore.
func bounded(n int) int {
	if n > MaxScore {
		return MaxScore
	}
	return nonNegative(n)
}

func nonNegative(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
