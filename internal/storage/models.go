package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Intent tiers. Classification output is restricted to these three values.
const (
	TierHot  = "hot"
	TierWarm = "warm"
	TierCold = "cold"
)

// ValidTier reports whether s is one of the three intent tiers.
func ValidTier(s string) bool {
	return s == TierHot || s == TierWarm || s == TierCold
}

// Lead lifecycle states. A failed lead stays queryable with its last error.
const (
	LeadStatusNew     = "new"
	LeadStatusTriaged = "triaged"
	LeadStatusFailed  = "failed"
)

// Message review states. The core only ever writes "generated"; the review
// collaborator owns the rest of the transitions.
const (
	MessageStatusGenerated = "generated"
	MessageStatusApproved  = "approved"
	MessageStatusEdited    = "edited"
	MessageStatusRejected  = "rejected"
	MessageStatusSent      = "sent"
)

// Knowledge document types.
const (
	DocTypeFAQ       = "faq"
	DocTypeCaseStudy = "case_study"
	DocTypePolicy    = "policy"
	DocTypePricing   = "pricing"
	DocTypeOther     = "other"
)

// Lead is one inbound inquiry. Tier and TierConfidence are empty/zero until
// the pipeline attaches a classification.
type Lead struct {
	ID             string
	Name           string
	Email          string
	Company        string
	Message        string
	Source         string
	Tier           string
	TierConfidence float64
	Status         string
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ClassificationResult is immutable once written. Re-classification inserts a
// new row and marks the old one superseded.
type ClassificationResult struct {
	ID          string
	LeadID      string
	Tier        string
	Confidence  float64
	Explanation string
	EvidenceIDs string // JSON array stored as text
	Superseded  bool
	CreatedAt   time.Time
}

// GeneratedMessage is a candidate reply awaiting review. Status transitions
// beyond "generated" belong to the external review collaborator.
type GeneratedMessage struct {
	ID          string
	LeadID      string
	Subject     string
	Body        string
	Channel     string
	Confidence  float64
	Status      string
	EvidenceIDs string // JSON array stored as text
	TemplateID  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ModelCall is one append-only audit row per external-capability invocation.
type ModelCall struct {
	ID           string
	Operation    string
	LatencyMS    int64
	Tokens       int
	CostUSD      float64
	Confidence   float64
	Success      bool
	InputDigest  string
	OutputDigest string
	CreatedAt    time.Time
}

// KnowledgeDoc is an immutable corpus entry. Edits replace the row and its
// vector rather than mutating in place.
type KnowledgeDoc struct {
	ID        string
	Title     string
	Body      string
	DocType   string
	SourceURL string
	CreatedAt time.Time
}

// Job is one queued lead-processing task.
type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
