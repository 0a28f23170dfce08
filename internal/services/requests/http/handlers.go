// Package http provides http transport for ingest requests
package http

import (
	stdhttp "net/http"

	"gedigo/internal/modkit/httpkit"
	"gedigo/internal/services/requests/domain"
)

// Register mounts the router
func Register(r httpkit.Router, s domain.OrchestratorPort) {
	h := &handlers{svc: s}
	httpkit.PostJSON[domain.SubmitInput](r, "/submit", h.submit)
	httpkit.PostJSON[domain.IDInput](r, "/status", h.status)
	httpkit.PostJSON[domain.IDInput](r, "/cancel", h.cancel)
}

type handlers struct{ svc domain.OrchestratorPort }

// swagger:route POST /requests/submit Requests submit
// @Summary Submit an ingest request
// @Tags requests
// @Accept json
// @Produce json
// @Param payload body domain.SubmitInput true "Submit"
// @Success 200 {object} domain.Request "ok"
// @Router /requests/submit [post]
func (h *handlers) submit(r *stdhttp.Request, in domain.SubmitInput) (any, error) {
	return h.svc.Submit(r.Context(), in)
}

// swagger:route POST /requests/status Requests status
// @Summary Poll an ingest request and its manifest
// @Tags requests
// @Accept json
// @Produce json
// @Param payload body domain.IDInput true "Status"
// @Success 200 {object} domain.StatusOutput "ok"
// @Failure 404 {object} httpkit.Envelope "not found"
// @Router /requests/status [post]
func (h *handlers) status(r *stdhttp.Request, in domain.IDInput) (any, error) {
	return h.svc.Status(r.Context(), in.RequestID)
}

// swagger:route POST /requests/cancel Requests cancel
// @Summary Cancel a pending or running ingest request
// @Tags requests
// @Accept json
// @Produce json
// @Param payload body domain.IDInput true "Cancel"
// @Success 200 {object} domain.Request "ok"
// @Failure 409 {object} httpkit.Envelope "already finished"
// @Router /requests/cancel [post]
func (h *handlers) cancel(r *stdhttp.Request, in domain.IDInput) (any, error) {
	return h.svc.Cancel(r.Context(), in.RequestID)
}
