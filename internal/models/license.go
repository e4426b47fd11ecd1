// Package models contains the core domain entities for Veridesk.
package models

import (
	"time"

	"github.com/google/uuid"
)

// LicenseStatus represents the activation state of a license as reported
// by the external catalog.
type LicenseStatus int

const (
	// LicenseStatusInactive indicates the license is not currently active.
	LicenseStatusInactive LicenseStatus = 0
	// LicenseStatusActive indicates the license is active.
	LicenseStatusActive LicenseStatus = 1
)

// LicenseTypeProduct is the license type assigned to product licenses in the
// external catalog; other values are carried through verbatim.
const LicenseTypeProduct = "product"

// License is the local system-of-record representation of a license.
//
// SourceAppID is a copy of the remote appid captured when the record was
// first linked to a remote entity. Once set it is never reassigned to a
// different remote record.
type License struct {
	ID            uuid.UUID     `json:"id"`
	AppID         string        `json:"appid"`
	CountID       int           `json:"countid"`
	DBA           string        `json:"dba"`
	Zip           string        `json:"zip"`
	Status        LicenseStatus `json:"status"`
	LicenseType   string        `json:"license_type"`
	MonthlyFee    float64       `json:"monthly_fee"`
	ActivateDate  *time.Time    `json:"activate_date,omitempty"`
	ComingExpired *time.Time    `json:"coming_expired,omitempty"`
	EmailLicense  string        `json:"email_license,omitempty"`
	SourceAppID   string        `json:"source_app_id,omitempty"`
	LastSyncedAt  *time.Time    `json:"last_synced_at,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// NewLicense creates a new License with a generated ID and timestamps set.
// SourceAppID is initialized to the remote appid.
func NewLicense(appID string) *License {
	now := time.Now()
	return &License{
		ID:          uuid.New(),
		AppID:       appID,
		SourceAppID: appID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// IsActive reports whether the license status is active.
func (l *License) IsActive() bool {
	return l.Status == LicenseStatusActive
}

// LicenseChanges describes a partial update to a License. Nil fields are
// left untouched by the store.
type LicenseChanges struct {
	AppID         *string
	CountID       *int
	DBA           *string
	Zip           *string
	Status        *LicenseStatus
	LicenseType   *string
	MonthlyFee    *float64
	ActivateDate  *time.Time
	ComingExpired *time.Time
	EmailLicense  *string
	SourceAppID   *string
	LastSyncedAt  *time.Time
}

// IsEmpty reports whether no field change is present.
func (c *LicenseChanges) IsEmpty() bool {
	return c.AppID == nil && c.CountID == nil && c.DBA == nil && c.Zip == nil &&
		c.Status == nil && c.LicenseType == nil && c.MonthlyFee == nil &&
		c.ActivateDate == nil && c.ComingExpired == nil && c.EmailLicense == nil &&
		c.SourceAppID == nil && c.LastSyncedAt == nil
}

// LicenseFilter holds search, filter and pagination options for listing
// licenses from the store.
type LicenseFilter struct {
	Search      string // matches dba, appid or email
	Status      *LicenseStatus
	LicenseType string
	SortBy      string // dba, monthly_fee, activate_date, last_synced_at
	SortDesc    bool
	Limit       int
	Offset      int
}
