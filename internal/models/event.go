package models

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies what happened.
type EventType string

const (
	EventLicenseCreated EventType = "license.created"
	EventLicenseUpdated EventType = "license.updated"
	EventLicenseDeleted EventType = "license.deleted"
	EventSyncStarted    EventType = "sync.started"
	EventSyncCompleted  EventType = "sync.completed"
	EventSyncFailed     EventType = "sync.failed"
	EventUserCreated    EventType = "user.created"
	EventUserDeleted    EventType = "user.deleted"
)

// EventCategory groups event types for client-side filtering.
type EventCategory string

const (
	EventCategoryLicense EventCategory = "license"
	EventCategorySync    EventCategory = "sync"
	EventCategoryUser    EventCategory = "user"
)

// Event is one entry in the real-time activity stream.
type Event struct {
	ID        uuid.UUID      `json:"id"`
	Type      EventType      `json:"type"`
	Category  EventCategory  `json:"category"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	LicenseID *uuid.UUID     `json:"license_id,omitempty"`
	UserID    *uuid.UUID     `json:"user_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// NewEvent creates an event with its category derived from the type prefix.
func NewEvent(eventType EventType, title, message string) *Event {
	return &Event{
		ID:        uuid.New(),
		Type:      eventType,
		Category:  categoryOf(eventType),
		Title:     title,
		Message:   message,
		CreatedAt: time.Now(),
	}
}

func categoryOf(t EventType) EventCategory {
	switch t {
	case EventLicenseCreated, EventLicenseUpdated, EventLicenseDeleted:
		return EventCategoryLicense
	case EventSyncStarted, EventSyncCompleted, EventSyncFailed:
		return EventCategorySync
	case EventUserCreated, EventUserDeleted:
		return EventCategoryUser
	}
	return ""
}

// SetLicense attaches the affected license to the event.
func (e *Event) SetLicense(id uuid.UUID) *Event {
	e.LicenseID = &id
	return e
}

// SetUser attaches the acting user to the event.
func (e *Event) SetUser(id uuid.UUID) *Event {
	e.UserID = &id
	return e
}

// SetMetadata attaches structured detail to the event.
func (e *Event) SetMetadata(meta map[string]any) *Event {
	e.Metadata = meta
	return e
}
