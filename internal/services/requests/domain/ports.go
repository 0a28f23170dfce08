package domain

import (
	"context"

	ingestdom "gedigo/internal/services/ingest/domain"
)

// OrchestratorPort is the module's public surface
type OrchestratorPort interface {
	// Submit resolves the catalog, seeds the request, and returns it in
	// pending state. Granules already covered by prior ingests are seeded
	// as skipped up front
	Submit(ctx context.Context, in SubmitInput) (Request, error)

	// Status returns the request with its current manifest
	Status(ctx context.Context, id string) (StatusOutput, error)

	// Cancel stops a pending or running request. Granules not yet started
	// are marked skipped; in-flight granules drain
	Cancel(ctx context.Context, id string) (Request, error)

	// Run processes claimed requests until ctx is done or, in drain mode,
	// until no pending requests remain
	Run(ctx context.Context, drain bool) error

	// RunOne processes a single request synchronously (worker -request flag)
	RunOne(ctx context.Context, id string) error
}

// StorageRepo is the request ledger
type StorageRepo interface {
	InsertRequest(ctx context.Context, req Request) error
	GetRequest(ctx context.Context, id string) (Request, bool, error)

	// ClaimNext atomically claims the oldest pending request for this
	// worker; ok is false when none are pending
	ClaimNext(ctx context.Context) (Request, bool, error)

	// ClaimByID claims a specific pending request
	ClaimByID(ctx context.Context, id string) (Request, bool, error)

	FinishRequest(ctx context.Context, id, status, errText string) error

	// CancelRequest flips a pending or running request to cancelled and
	// marks its unstarted granules skipped; ok is false when the request
	// was already terminal
	CancelRequest(ctx context.Context, id string) (bool, error)

	// SeedGranules records the granules a request will process
	SeedGranules(ctx context.Context, id string, refs []ingestdom.GranuleRef) error

	// PendingRefs lists the granules still to process, in catalog order
	PendingRefs(ctx context.Context, id string) ([]ingestdom.GranuleRef, error)

	SetOutcome(ctx context.Context, id, granuleID, status, reason string) error
	Outcomes(ctx context.Context, id string) ([]Outcome, error)
}
