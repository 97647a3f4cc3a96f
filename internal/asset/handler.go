package asset

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/upgate/service/internal/response"
)

// Handler holds the HTTP adapter for the asset lifecycle operations. It only
// decodes requests and maps the error taxonomy onto status codes; all
// semantics live in Service.
type Handler struct {
	svc *Service
}

// NewHandler creates a new asset Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// refsRequest is the shared body shape for multi-reference operations.
type refsRequest struct {
	Refs []Ref `json:"refs"`
}

// IssueGrant godoc
//
//	@Summary		Issue a presigned upload grant
//	@Description	Mints a time-bounded POST policy for a direct client upload.
//	@Tags			assets
//	@Accept			json
//	@Produce		json
//	@Param			request	body		GrantArgs	true	"grant request"
//	@Success		201		{object}	response.Envelope{data=Grant}
//	@Failure		400		{object}	response.Envelope
//	@Failure		409		{object}	response.Envelope
//	@Failure		500		{object}	response.Envelope
//	@Router			/assets/grants [post]
func (h *Handler) IssueGrant(w http.ResponseWriter, r *http.Request) {
	var args GrantArgs
	if err := json.NewDecoder(r.Body).Decode(&args); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}

	grant, err := h.svc.IssueGrant(r.Context(), args)
	if err != nil {
		writeError(w, err)
		return
	}
	response.Created(w, grant)
}

// Verify godoc
//
//	@Summary		Verify uploaded assets
//	@Description	Confirms provisional uploads, clearing their verification TTL.
//	@Tags			assets
//	@Accept			json
//	@Produce		json
//	@Param			request	body		refsRequest	true	"asset references"
//	@Success		200		{object}	response.Envelope{data=[]Asset}
//	@Failure		400		{object}	response.Envelope
//	@Failure		404		{object}	response.Envelope
//	@Router			/assets/verify [post]
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	refs, ok := decodeRefs(w, r)
	if !ok {
		return
	}

	assets, err := h.svc.Verify(r.Context(), refs)
	if err != nil {
		writeError(w, err)
		return
	}
	response.OK(w, assets)
}

// ResolveAccess godoc
//
//	@Summary		Resolve download access
//	@Description	Returns live presigned download URLs for the referenced assets.
//	@Tags			assets
//	@Accept			json
//	@Produce		json
//	@Param			request	body		refsRequest	true	"asset references"
//	@Success		200		{object}	response.Envelope{data=[]Access}
//	@Failure		400		{object}	response.Envelope
//	@Failure		404		{object}	response.Envelope
//	@Router			/assets/access [post]
func (h *Handler) ResolveAccess(w http.ResponseWriter, r *http.Request) {
	refs, ok := decodeRefs(w, r)
	if !ok {
		return
	}

	access, err := h.svc.ResolveAccess(r.Context(), refs)
	if err != nil {
		writeError(w, err)
		return
	}
	response.OK(w, access)
}

// Delete godoc
//
//	@Summary		Delete assets
//	@Description	Removes the metadata records and the stored objects.
//	@Tags			assets
//	@Accept			json
//	@Produce		json
//	@Param			request	body		refsRequest	true	"asset references"
//	@Success		200		{object}	response.Envelope
//	@Failure		400		{object}	response.Envelope
//	@Failure		404		{object}	response.Envelope
//	@Router			/assets/delete [post]
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	refs, ok := decodeRefs(w, r)
	if !ok {
		return
	}

	if err := h.svc.Delete(r.Context(), refs); err != nil {
		writeError(w, err)
		return
	}
	response.OK(w, nil)
}

// Prune godoc
//
//	@Summary		Prune orphaned and unverified objects
//	@Description	Reconciles the bucket against the metadata store and deletes untracked or never-verified uploads.
//	@Tags			admin
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200	{object}	response.Envelope{data=PruneResult}
//	@Failure		400	{object}	response.Envelope
//	@Failure		401	{object}	response.Envelope
//	@Router			/admin/prune [post]
func (h *Handler) Prune(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.Prune(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	response.OK(w, result)
}

func decodeRefs(w http.ResponseWriter, r *http.Request) ([]Ref, bool) {
	var req refsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return nil, false
	}
	if len(req.Refs) == 0 {
		response.BadRequest(w, "at least one reference is required")
		return nil, false
	}
	return req.Refs, true
}

// writeError maps the error taxonomy onto stable status codes: validation
// and configuration errors to 400, collisions to 409, missing assets and
// objects to 404, elapsed provisional records to 410, everything else to 500.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrMissingFileType),
		errors.Is(err, ErrUnknownUploadType),
		errors.Is(err, ErrStoreRequired):
		response.BadRequest(w, err.Error())
	case errors.Is(err, ErrAlreadyExists):
		response.Conflict(w, err.Error())
	case errors.Is(err, ErrAssetExpired):
		response.Gone(w, err.Error())
	case errors.Is(err, ErrAssetNotFound), errors.Is(err, ErrObjectNotFound):
		response.NotFound(w, err.Error())
	default:
		response.InternalError(w)
	}
}
