package model

import (
	"time"
)

// Status is an obsolescence classification of a host
type Status string

const (
	StatusCritical  Status = "CRITICAL"
	StatusWarning   Status = "WARNING"
	StatusUnknown   Status = "UNKNOWN"
	StatusSupported Status = "SUPPORTED"
)

// Statuses lists all statuses in report order
var Statuses = []Status{StatusCritical, StatusWarning, StatusUnknown, StatusSupported}

// Rank returns the position of a status in report order, lower is more severe
func (s Status) Rank() int {
	switch s {
	case StatusCritical:
		return 0
	case StatusWarning:
		return 1
	case StatusUnknown:
		return 2
	case StatusSupported:
		return 3
	default:
		return 4
	}
}

// Demote lowers the severity by one level. SUPPORTED and UNKNOWN stay as they are.
func (s Status) Demote() Status {
	switch s {
	case StatusCritical:
		return StatusWarning
	case StatusWarning:
		return StatusSupported
	default:
		return s
	}
}

// Finding is the classification of one host in one audit run
type Finding struct {
	Host        HostRecord  `json:"host"`
	Fingerprint Fingerprint `json:"os"`
	Entry       *EOLEntry   `json:"eol,omitempty"`
	Status      Status      `json:"status"`
	// DayCount is the number of days until end of life, or since it when Overdue is set
	DayCount int  `json:"day_count"`
	Overdue  bool `json:"overdue"`
	// FamilyRisk is set when only the product family is known to the knowledge base
	FamilyRisk bool   `json:"family_risk,omitempty"`
	Message    string `json:"message"`
}

// Urgency is a sort key: overdue findings are negative, so the longest overdue comes first
func (f Finding) Urgency() int {
	if f.Overdue {
		return -f.DayCount
	}
	return f.DayCount
}

// Alternatives returns the recommended replacements of the matched entry
func (f Finding) Alternatives() []string {
	if f.Entry == nil {
		return nil
	}
	return f.Entry.Alternatives
}

// Summary holds the number of findings per status
type Summary struct {
	Critical  int `json:"critical"`
	Warning   int `json:"warning"`
	Unknown   int `json:"unknown"`
	Supported int `json:"supported"`
	Total     int `json:"total"`
}

func (s Summary) Count(status Status) int {
	switch status {
	case StatusCritical:
		return s.Critical
	case StatusWarning:
		return s.Warning
	case StatusUnknown:
		return s.Unknown
	case StatusSupported:
		return s.Supported
	default:
		return 0
	}
}

type Level string

const (
	LevelCritical Level = "CRITICAL"
	LevelWarning  Level = "ATTENTION"
	LevelInfo     Level = "INFO"
)

// Recommendation is an action item derived from one or more findings
type Recommendation struct {
	Level        Level    `json:"level"`
	Hosts        []string `json:"hosts"`
	Product      string   `json:"product,omitempty"`
	Message      string   `json:"message"`
	Alternatives []string `json:"alternatives,omitempty"`
}

// AuditReport is the outcome of one audit run
type AuditReport struct {
	ID              string           `json:"id"`
	ReferenceDate   time.Time        `json:"reference_date"`
	GeneratedAt     time.Time        `json:"generated_at"`
	Targets         string           `json:"targets,omitempty"`
	Requested       int              `json:"total_requested"`
	Probed          int              `json:"total_probed"`
	Analyzed        int              `json:"total_analyzed"`
	Incomplete      bool             `json:"incomplete"`
	Summary         Summary          `json:"summary"`
	Findings        []Finding        `json:"findings"`
	Recommendations []Recommendation `json:"recommendations"`
}
