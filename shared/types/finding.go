package types

import (
	"encoding/json"
	"time"
)

// Severity is the closed set of finding severities.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Severities lists every valid severity, most severe first.
var Severities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow}

func (s Severity) Valid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return true
	}
	return false
}

// Status is the review state of a finding.
type Status string

const (
	StatusPending   Status = "pending"
	StatusReviewing Status = "reviewing"
	StatusResolved  Status = "resolved"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusReviewing, StatusResolved:
		return true
	}
	return false
}

// AuditFinding is a single reported audit issue.
// On the wire Timestamp is encoded as milliseconds since the Unix epoch.
type AuditFinding struct {
	ID          string    `json:"id"`
	Severity    Severity  `json:"severity"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	Status      Status    `json:"status"`
	Timestamp   time.Time `json:"-"`
}

type wireFinding struct {
	ID          string   `json:"id"`
	Severity    Severity `json:"severity"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Status      Status   `json:"status"`
	Timestamp   int64    `json:"timestamp"`
}

func (f AuditFinding) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireFinding{
		ID:          f.ID,
		Severity:    f.Severity,
		Title:       f.Title,
		Description: f.Description,
		Category:    f.Category,
		Status:      f.Status,
		Timestamp:   f.Timestamp.UnixMilli(),
	})
}

func (f *AuditFinding) UnmarshalJSON(data []byte) error {
	var w wireFinding
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*f = AuditFinding{
		ID:          w.ID,
		Severity:    w.Severity,
		Title:       w.Title,
		Description: w.Description,
		Category:    w.Category,
		Status:      w.Status,
		Timestamp:   time.UnixMilli(w.Timestamp).UTC(),
	}
	return nil
}

// Identity is the per-user reputation record kept by the store.
type Identity struct {
	UserID          string    `json:"user_id"`
	DisplayName     string    `json:"display_name,omitempty"`
	ReputationScore int       `json:"reputation_score"`
	UpdatedAt       time.Time `json:"updated_at"`
}
