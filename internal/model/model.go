// Package model holds the canonical event types shared by every stage of
// the aggregation pipeline, plus the normalization helper the dedup and
// reconciliation passes key on.
package model

import (
	"strings"
	"time"
)

// SourceKind is the machine provenance tag used by reconciliation logic.
type SourceKind string

const (
	SourceManual       SourceKind = "manual"
	SourceRemoteAPI    SourceKind = "remote-api"
	SourceSubscription SourceKind = "subscription-feed"
)

// TrustRank orders provenance for dedup tie-breaking. Higher is more
// trusted. Unknown kinds rank below everything known.
func (k SourceKind) TrustRank() int {
	switch k {
	case SourceManual:
		return 3
	case SourceRemoteAPI:
		return 2
	case SourceSubscription:
		return 1
	default:
		return 0
	}
}

// EventState is the approval workflow state of a canonical event.
type EventState string

const (
	StatePending  EventState = "pending"
	StateApproved EventState = "approved"
	StateSynced   EventState = "synced"
	StateRejected EventState = "rejected"
)

// RawEvent is a source-shaped record prior to normalization. It is
// discarded after canonicalization.
type RawEvent struct {
	SourceID    string
	ProviderID  string // provider-native identifier, may be empty
	Summary     string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	AllDay      bool
}

// CanonicalEvent is the durable unit of the system: one normalized,
// deduplicated event per UID.
type CanonicalEvent struct {
	UID string `gorm:"column:uid;primaryKey" json:"uid" yaml:"uid"`

	Summary     string    `gorm:"column:summary" json:"summary" yaml:"summary"`
	Description string    `gorm:"column:description" json:"description,omitempty" yaml:"description,omitempty"`
	Location    string    `gorm:"column:location" json:"location,omitempty" yaml:"location,omitempty"`
	Start       time.Time `gorm:"column:start;index" json:"start" yaml:"start"`
	// End is the zero time for point events.
	End    time.Time `gorm:"column:end" json:"end,omitempty" yaml:"end,omitempty"`
	AllDay bool      `gorm:"column:all_day" json:"all_day,omitempty" yaml:"all_day,omitempty"`

	// Source is the human-readable provenance label; OriginalSource is
	// the machine tag reconciliation keys on.
	Source         string     `gorm:"column:source" json:"source" yaml:"source"`
	OriginalSource SourceKind `gorm:"column:original_source" json:"original_source" yaml:"original_source"`

	Assignees []string `gorm:"column:assignees;serializer:json" json:"assignees,omitempty" yaml:"assignees,omitempty"`
	Category  string   `gorm:"column:category" json:"category,omitempty" yaml:"category,omitempty"`

	// InboxOnly is fixed at canonicalization; only a manual override
	// that also sets CreatedBy may flip it.
	InboxOnly bool   `gorm:"column:inbox_only" json:"inbox_only" yaml:"inbox_only"`
	IsLesson  bool   `gorm:"column:is_lesson" json:"is_lesson" yaml:"is_lesson"`
	CreatedBy string `gorm:"column:created_by" json:"created_by,omitempty" yaml:"created_by,omitempty"`

	State EventState `gorm:"column:state;index" json:"state" yaml:"state"`

	CreatedAt time.Time `gorm:"column:created_at" json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at" yaml:"updated_at"`
}

func (CanonicalEvent) TableName() string { return "events" }

// HasEnd reports whether the event has a real end instant.
func (e *CanonicalEvent) HasEnd() bool { return !e.End.IsZero() }

// NormalizedSummary returns the comparison form of the summary. The
// display form keeps its original casing.
func (e *CanonicalEvent) NormalizedSummary() string {
	return NormalizeSummary(e.Summary)
}

// SyncMapping records the correspondence between a local UID and the
// remote calendar service's identifiers. Its lifetime is independent of
// the event's: it may briefly outlive a deleted event during a delete
// race.
type SyncMapping struct {
	UID              string    `gorm:"column:uid;primaryKey" json:"uid"`
	RemoteEventID    string    `gorm:"column:remote_event_id;index" json:"remote_event_id"`
	RemoteCalendarID string    `gorm:"column:remote_calendar_id" json:"remote_calendar_id"`
	CreatedAt        time.Time `gorm:"column:created_at" json:"created_at"`
}

func (SyncMapping) TableName() string { return "sync_mappings" }

// NormalizeSummary lowercases, trims, and collapses internal whitespace.
// Dedup fingerprints, keyword classification, and remote duplicate
// detection all compare this form, never the display form.
func NormalizeSummary(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
