// Package domain holds the ingest request types: submissions, statuses,
// and the per-granule outcome manifest
package domain

import (
	"time"

	"gedigo/internal/core/granule"
	ingestdom "gedigo/internal/services/ingest/domain"
)

// Request statuses. A request with any failed granule finishes as
// complete_with_errors rather than failing outright
const (
	StatusPending           = "pending"
	StatusRunning           = "running"
	StatusComplete          = "complete"
	StatusCompleteWithError = "complete_with_errors"
	StatusCancelled         = "cancelled"
)

// Granule outcome statuses within a request
const (
	GranulePending   = "pending"
	GranuleSucceeded = "succeeded"
	GranuleFailed    = "failed"
	GranuleSkipped   = "skipped"
)

// SubmitInput is the wire shape for a new ingest request
type SubmitInput struct {
	Products              []string             `json:"products" validate:"required,min=1,dive,required"`
	Version               string               `json:"version,omitempty"`
	Filters               ingestdom.FilterSpec `json:"filters"`
	RequireCompleteOrbits bool                 `json:"require_complete_orbits,omitempty"`
}

// IDInput addresses an existing request
type IDInput struct {
	RequestID string `json:"request_id" validate:"required,uuid4"`
}

// Request is one submitted ingest request
type Request struct {
	ID                    string               `json:"request_id"`
	Status                string               `json:"status"`
	Products              []granule.Product    `json:"products"`
	Version               string               `json:"version,omitempty"`
	Filters               ingestdom.FilterSpec `json:"filters"`
	RequireCompleteOrbits bool                 `json:"require_complete_orbits,omitempty"`
	SubmittedAt           time.Time            `json:"submitted_at"`
	StartedAt             *time.Time           `json:"started_at,omitempty"`
	FinishedAt            *time.Time           `json:"finished_at,omitempty"`
	ErrText               string               `json:"error,omitempty"`
}

// Outcome is one granule's disposition within a request
type Outcome struct {
	GranuleID string `json:"granule_id"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
}

// Manifest is the partial-success summary returned on poll
type Manifest struct {
	Total     int       `json:"total"`
	Pending   int       `json:"pending"`
	Succeeded []string  `json:"succeeded"`
	Failed    []Outcome `json:"failed"`
	Skipped   []Outcome `json:"skipped"`
}

// StatusOutput is the poll response: the request plus its manifest
type StatusOutput struct {
	Request  Request  `json:"request"`
	Manifest Manifest `json:"manifest"`
}
