// Package validation is the schema boundary for audit findings. Nothing that fails
// here reaches the store or a feed.
package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"auraaudit/shared/types"
)

const (
	MaxTitleLen       = 200
	MaxDescriptionLen = 1000
	MaxCategoryLen    = 100
	MaxIDLen          = 128

	// MaxMessageSize bounds a single inbound stream message or request body.
	MaxMessageSize = 16 << 10
)

// ErrInvalid matches every validation failure via errors.Is.
var ErrInvalid = errors.New("validation failed")

// FieldError describes a single rejected field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Errors is a non-empty list of field errors.
type Errors []FieldError

func (e Errors) Error() string {
	parts := make([]string, len(e))
	for i, fe := range e {
		parts[i] = fe.Error()
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e Errors) Is(target error) bool { return target == ErrInvalid }

// Submission is the client supplied part of a finding on the ingestion path.
type Submission struct {
	Severity    types.Severity `json:"severity"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Category    string         `json:"category"`
}

// ValidateSubmission checks the closed severity enum and the text bounds.
func ValidateSubmission(s Submission) error {
	var errs Errors
	errs = checkSeverity(errs, s.Severity)
	errs = checkText(errs, "title", s.Title, MaxTitleLen)
	errs = checkText(errs, "description", s.Description, MaxDescriptionLen)
	errs = checkText(errs, "category", s.Category, MaxCategoryLen)
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// ValidateStatus checks the closed status enum.
func ValidateStatus(s types.Status) error {
	if !s.Valid() {
		return Errors{{Field: "status", Message: fmt.Sprintf("invalid: %q", s)}}
	}
	return nil
}

// DecodeSubmission strictly decodes a request body into a Submission and validates it.
func DecodeSubmission(data []byte) (Submission, error) {
	if len(data) > MaxMessageSize {
		return Submission{}, Errors{{Field: "body", Message: fmt.Sprintf("exceeds %d bytes", MaxMessageSize)}}
	}
	var s Submission
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&s); err != nil {
		return Submission{}, Errors{{Field: "body", Message: "invalid json: " + err.Error()}}
	}
	if err := ValidateSubmission(s); err != nil {
		return Submission{}, err
	}
	return s, nil
}

// inboundFinding uses pointers so absent fields can be told apart from empty ones.
type inboundFinding struct {
	ID          *string `json:"id"`
	Severity    *string `json:"severity"`
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Category    *string `json:"category"`
	Status      *string `json:"status"`
	Timestamp   *int64  `json:"timestamp"`
}

// ParseFinding turns one serialized stream message into a typed finding or a rejection.
// The timestamp is milliseconds since the Unix epoch.
func ParseFinding(data []byte) (types.AuditFinding, error) {
	if len(data) > MaxMessageSize {
		return types.AuditFinding{}, Errors{{Field: "message", Message: fmt.Sprintf("exceeds %d bytes", MaxMessageSize)}}
	}
	var in inboundFinding
	if err := json.Unmarshal(data, &in); err != nil {
		return types.AuditFinding{}, Errors{{Field: "message", Message: "invalid json: " + err.Error()}}
	}

	var errs Errors
	required := []struct {
		field   string
		present bool
	}{
		{"id", in.ID != nil},
		{"severity", in.Severity != nil},
		{"title", in.Title != nil},
		{"description", in.Description != nil},
		{"category", in.Category != nil},
		{"status", in.Status != nil},
		{"timestamp", in.Timestamp != nil},
	}
	for _, r := range required {
		if !r.present {
			errs = append(errs, FieldError{Field: r.field, Message: "required"})
		}
	}
	if len(errs) > 0 {
		return types.AuditFinding{}, errs
	}

	f := types.AuditFinding{
		ID:          *in.ID,
		Severity:    types.Severity(*in.Severity),
		Title:       *in.Title,
		Description: *in.Description,
		Category:    *in.Category,
		Status:      types.Status(*in.Status),
		Timestamp:   time.UnixMilli(*in.Timestamp).UTC(),
	}
	if err := ValidateFinding(f); err != nil {
		return types.AuditFinding{}, err
	}
	return f, nil
}

// ValidateFinding checks a fully formed finding.
func ValidateFinding(f types.AuditFinding) error {
	var errs Errors
	errs = checkText(errs, "id", f.ID, MaxIDLen)
	errs = checkSeverity(errs, f.Severity)
	errs = checkText(errs, "title", f.Title, MaxTitleLen)
	errs = checkText(errs, "description", f.Description, MaxDescriptionLen)
	errs = checkText(errs, "category", f.Category, MaxCategoryLen)
	if !f.Status.Valid() {
		errs = append(errs, FieldError{Field: "status", Message: fmt.Sprintf("invalid: %q", f.Status)})
	}
	if f.Timestamp.IsZero() || f.Timestamp.UnixMilli() <= 0 {
		errs = append(errs, FieldError{Field: "timestamp", Message: "must be a positive epoch millisecond value"})
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

func checkSeverity(errs Errors, s types.Severity) Errors {
	if !s.Valid() {
		return append(errs, FieldError{Field: "severity", Message: fmt.Sprintf("invalid: %q", s)})
	}
	return errs
}

func checkText(errs Errors, field, s string, maxLen int) Errors {
	switch {
	case strings.TrimSpace(s) == "":
		return append(errs, FieldError{Field: field, Message: "required"})
	case !utf8.ValidString(s):
		return append(errs, FieldError{Field: field, Message: "contains invalid UTF-8"})
	case strings.Contains(s, "\x00"):
		return append(errs, FieldError{Field: field, Message: "contains null byte"})
	case utf8.RuneCountInString(s) > maxLen:
		return append(errs, FieldError{Field: field, Message: fmt.Sprintf("exceeds %d characters", maxLen)})
	}
	return errs
}
