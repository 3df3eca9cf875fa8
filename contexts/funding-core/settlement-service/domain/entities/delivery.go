package entities

import "time"

type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "pending"
	DeliveryStatusConfirmed DeliveryStatus = "confirmed"
	DeliveryStatusRejected  DeliveryStatus = "rejected"
	DeliveryStatusCancelled DeliveryStatus = "cancelled"
)

type ConfirmationOutcome string

const (
	ConfirmationOutcomeApproved ConfirmationOutcome = "approved"
	ConfirmationOutcomeRejected ConfirmationOutcome = "rejected"
)

type Delivery struct {
	ID              string
	AllocationID    string
	SchoolID        string
	CatererID       string
	DeliveryDate    string
	Status          DeliveryStatus
	PortionsPlanned int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// DeliveryConfirmation records the outcome of one on-site verification.
// At most one confirmation exists per delivery.
type DeliveryConfirmation struct {
	ID               string
	DeliveryID       string
	AllocationID     string
	VerifierID       string
	Outcome          ConfirmationOutcome
	PortionsReceived int
	QualityRating    int
	Notes            string
	EvidenceURL      string
	ConfirmedAt      time.Time
}

type IssueSeverity string

const (
	IssueSeverityLow    IssueSeverity = "low"
	IssueSeverityMedium IssueSeverity = "medium"
	IssueSeverityHigh   IssueSeverity = "high"
)

// Issue is raised when a delivery is rejected. Issue resolution is an
// administrative flow and is independent of allocation state.
type Issue struct {
	ID           string
	DeliveryID   string
	AllocationID string
	SchoolID     string
	Severity     IssueSeverity
	Reason       string
	Status       string
	OpenedAt     time.Time
}

const (
	IssueStatusOpen     = "open"
	IssueStatusResolved = "resolved"
)
