// Package licensor provides integration with the external license catalog API.
package licensor

import (
	"fmt"
	"strings"
	"time"
)

// Record represents a license entry as returned by the external catalog.
//
// AppID is the remote-assigned primary correlation key. CountID is a secondary
// key that is not guaranteed unique over time. EmailLicense is optional.
type Record struct {
	AppID         string  `json:"appid"`
	CountID       int     `json:"countid"`
	DBA           string  `json:"dba"`
	Zip           string  `json:"zip"`
	Status        int     `json:"status"`
	LicenseType   string  `json:"licenseType"`
	MonthlyFee    float64 `json:"monthlyFee"`
	ActivateDate  string  `json:"activateDate,omitempty"`
	ComingExpired string  `json:"comingExpired,omitempty"`
	EmailLicense  string  `json:"emailLicense,omitempty"`
}

// Normalize trims whitespace from string fields and lowercases the email.
func (r *Record) Normalize() {
	r.AppID = strings.TrimSpace(r.AppID)
	r.DBA = strings.TrimSpace(r.DBA)
	r.Zip = strings.TrimSpace(r.Zip)
	r.LicenseType = strings.TrimSpace(r.LicenseType)
	r.EmailLicense = strings.ToLower(strings.TrimSpace(r.EmailLicense))
	r.ActivateDate = strings.TrimSpace(r.ActivateDate)
	r.ComingExpired = strings.TrimSpace(r.ComingExpired)
}

// dateLayouts are the date formats observed in catalog payloads.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02",
	"2006-01-02 15:04:05",
	"01/02/2006",
}

// ParseDate parses a catalog date string. Empty strings yield nil.
func ParseDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "null" {
		return nil, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("unrecognized date format %q", s)
}

// PageResult is one page of catalog records.
type PageResult struct {
	Records []Record `json:"records"`
	HasMore bool     `json:"hasMore"`
	Total   int      `json:"total,omitempty"`
}

// ConnectivityResult reports the outcome of a connectivity probe.
type ConnectivityResult struct {
	Success bool          `json:"success"`
	Message string        `json:"message"`
	Latency time.Duration `json:"latency"`
}

// APIError is an error payload returned by the catalog API.
type APIError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("license api: %s (%s)", e.Message, e.Code)
	}
	return "license api: " + e.Message
}
