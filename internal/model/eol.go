package model

import "time"

const DateLayout = time.DateOnly

// EOLEntry is a lifecycle record of one product version.
// Dates are civil dates stored as UTC midnight.
type EOLEntry struct {
	Vendor          string     `json:"vendor"`
	Product         string     `json:"product"`
	Version         string     `json:"version"`
	EOLDate         time.Time  `json:"eol_date"`
	ExtendedSupport *time.Time `json:"extended_support_date,omitempty"`
	Alternatives    []string   `json:"alternatives,omitempty"`
}

// Name returns a product name with version, eg "Windows Server 2012 R2"
func (e EOLEntry) Name() string {
	return e.Product + " " + e.Version
}

// Date truncates t to a civil date in UTC
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
