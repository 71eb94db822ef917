package accessrequests

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"patient-access/internal/domain/audit"
	"patient-access/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

// maxTTLSeconds is the largest ttl that still fits in a time.Duration.
const maxTTLSeconds = math.MaxInt64 / int64(time.Second)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}

// RegisterRoutes mounts the access request API. createLimit, when set, wraps
// request creation.
func RegisterRoutes(r chi.Router, svc *Service, createLimit func(http.Handler) http.Handler) {
	r.Route("/requests", func(rr chi.Router) {
		if createLimit != nil {
			rr.With(createLimit).Post("/", createRequestHandler(svc))
		} else {
			rr.Post("/", createRequestHandler(svc))
		}
		rr.Get("/", listRequestsHandler(svc))

		rr.Route("/{requestID}", func(ir chi.Router) {
			ir.Get("/", getRequestHandler(svc))
			ir.Post("/approve", decideHandler(svc, true))
			ir.Post("/deny", decideHandler(svc, false))
			ir.Post("/revoke", revokeHandler(svc))
			ir.Get("/authorization", authorizationHandler(svc))
			ir.Get("/audit", auditTrailHandler(svc))
			ir.Get("/audit/verify", verifyAuditHandler(svc))
		})
	})
	r.Get("/audit/events", auditEventsHandler(svc))
}

type createRequestBody struct {
	PatientID  string `json:"patient_id" validate:"required,max=256"`
	DataType   string `json:"data_type" validate:"required,max=256"`
	Purpose    string `json:"purpose" validate:"max=1024"`
	TTLSeconds int64  `json:"ttl_seconds" validate:"required,gt=0"`
}

type requestResponse struct {
	ID              string    `json:"id"`
	RequesterID     string    `json:"requester_id"`
	PatientID       string    `json:"patient_id"`
	DataType        string    `json:"data_type"`
	Purpose         string    `json:"purpose"`
	Status          Status    `json:"status"`
	EffectiveStatus string    `json:"effective_status"`
	Processed       bool      `json:"processed"`
	CreatedAt       time.Time `json:"created_at"`
	ExpiresAt       time.Time `json:"expires_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	Version         int64     `json:"version"`
}

type authorizationResponse struct {
	RequestID string      `json:"request_id"`
	Result    AuthzResult `json:"result"`
	CheckedAt time.Time   `json:"checked_at"`
}

type auditEventResponse struct {
	Seq        int64     `json:"seq"`
	ID         string    `json:"id"`
	RequestID  string    `json:"request_id"`
	Type       string    `json:"type"`
	Actor      string    `json:"actor"`
	FromStatus string    `json:"from_status,omitempty"`
	ToStatus   string    `json:"to_status"`
	Outcome    string    `json:"outcome,omitempty"`
	At         time.Time `json:"at"`
	PrevHash   string    `json:"prev_hash,omitempty"`
	Hash       string    `json:"hash"`
}

type verifyResponse struct {
	RequestID   string `json:"request_id"`
	Valid       bool   `json:"valid"`
	Events      int    `json:"events"`
	BrokenAtSeq int64  `json:"broken_at_seq,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// createRequestHandler godoc
// @Summary Create an access request
// @Description The caller becomes the requester. Fails with 409 when a pending request already exists for the same requester, patient and data type.
// @Tags requests
// @Accept json
// @Produce json
// @Param X-Debug-User-ID header string false "Caller id, dev mode only"
// @Param Authorization header string false "Bearer token"
// @Param payload body createRequestBody true "Request data; ttl in seconds"
// @Success 201 {object} requestResponse
// @Failure 400 {object} errorResponse
// @Failure 401 {object} errorResponse
// @Failure 409 {object} errorResponse
// @Failure 503 {object} errorResponse
// @Router /requests [post]
func createRequestHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := requirePrincipal(w, r)
		if !ok {
			return
		}

		var body createRequestBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, fmt.Errorf("%w: invalid json", ErrInvalidInput))
			return
		}
		if err := validate.Struct(body); err != nil {
			writeError(w, fmt.Errorf("%w: %s", ErrInvalidInput, validationMessage(err)))
			return
		}
		if body.TTLSeconds > maxTTLSeconds {
			writeError(w, fmt.Errorf("%w: ttl_seconds out of range", ErrInvalidInput))
			return
		}

		req, err := svc.CreateRequest(r.Context(), CreateInput{
			Requester: principal,
			Patient:   body.PatientID,
			DataType:  body.DataType,
			Purpose:   body.Purpose,
			TTL:       time.Duration(body.TTLSeconds) * time.Second,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toRequestResponse(req, req.EffectiveStatus(svc.Now())))
	}
}

// listRequestsHandler godoc
// @Summary List access requests
// @Description Newest first. The caller must be the patient or the requester named in the filter; without either, patient defaults to the caller.
// @Tags requests
// @Produce json
// @Param X-Debug-User-ID header string false "Caller id, dev mode only"
// @Param patient_id query string false "Patient filter"
// @Param requester_id query string false "Requester filter"
// @Param status query string false "Stored status: pending, approved, denied, revoked"
// @Param data_type query string false "Data type filter"
// @Param limit query int false "1-500, default 50"
// @Success 200 {array} requestResponse
// @Failure 400 {object} errorResponse
// @Failure 403 {object} errorResponse
// @Router /requests [get]
func listRequestsHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := requirePrincipal(w, r)
		if !ok {
			return
		}

		q := r.URL.Query()
		f := Filter{
			Patient:   strings.TrimSpace(q.Get("patient_id")),
			Requester: strings.TrimSpace(q.Get("requester_id")),
			Status:    Status(strings.TrimSpace(q.Get("status"))),
			DataType:  strings.TrimSpace(q.Get("data_type")),
		}
		if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				writeError(w, fmt.Errorf("%w: limit must be a positive integer", ErrInvalidInput))
				return
			}
			f.Limit = n
		}
		if f.Patient == "" && f.Requester == "" {
			f.Patient = principal
		}
		if f.Patient != principal && f.Requester != principal {
			writeError(w, ErrUnauthorized)
			return
		}

		items, err := svc.ListRequests(r.Context(), f)
		if err != nil {
			writeError(w, err)
			return
		}
		out := make([]requestResponse, 0, len(items))
		for _, v := range items {
			out = append(out, toRequestResponse(v.AccessRequest, v.EffectiveStatus))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func getRequestHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := requirePrincipal(w, r)
		if !ok {
			return
		}
		view, err := svc.GetRequest(r.Context(), chi.URLParam(r, "requestID"), principal)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toRequestResponse(view.AccessRequest, view.EffectiveStatus))
	}
}

// decideHandler godoc
// @Summary Approve or deny a pending request
// @Description Only the patient may decide. Deciding after expiry fails with 410 whatever the outcome.
// @Tags requests
// @Produce json
// @Param X-Debug-User-ID header string false "Caller id, dev mode only"
// @Param requestID path string true "Request id"
// @Success 200 {object} requestResponse
// @Failure 403 {object} errorResponse
// @Failure 404 {object} errorResponse
// @Failure 409 {object} errorResponse "already processed"
// @Failure 410 {object} errorResponse "expired"
// @Router /requests/{requestID}/approve [post]
// @Router /requests/{requestID}/deny [post]
func decideHandler(svc *Service, approve bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := requirePrincipal(w, r)
		if !ok {
			return
		}
		req, err := svc.Decide(r.Context(), chi.URLParam(r, "requestID"), principal, approve)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toRequestResponse(req, req.EffectiveStatus(svc.Now())))
	}
}

// revokeHandler godoc
// @Summary Revoke an approved request
// @Tags requests
// @Produce json
// @Param X-Debug-User-ID header string false "Caller id, dev mode only"
// @Param requestID path string true "Request id"
// @Success 200 {object} requestResponse
// @Failure 403 {object} errorResponse
// @Failure 404 {object} errorResponse
// @Failure 409 {object} errorResponse "not approved"
// @Router /requests/{requestID}/revoke [post]
func revokeHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := requirePrincipal(w, r)
		if !ok {
			return
		}
		req, err := svc.Revoke(r.Context(), chi.URLParam(r, "requestID"), principal)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toRequestResponse(req, req.EffectiveStatus(svc.Now())))
	}
}

// authorizationHandler godoc
// @Summary Check whether a request currently authorizes disclosure
// @Tags requests
// @Produce json
// @Param X-Debug-User-ID header string false "Caller id, dev mode only"
// @Param requestID path string true "Request id"
// @Success 200 {object} authorizationResponse
// @Failure 403 {object} errorResponse
// @Failure 404 {object} errorResponse
// @Router /requests/{requestID}/authorization [get]
func authorizationHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := requirePrincipal(w, r)
		if !ok {
			return
		}
		id := chi.URLParam(r, "requestID")
		if _, err := svc.GetRequest(r.Context(), id, principal); err != nil {
			writeError(w, err)
			return
		}

		now := svc.Now()
		res, err := svc.CheckAuthorization(r.Context(), id, now)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, authorizationResponse{RequestID: id, Result: res, CheckedAt: now})
	}
}

func auditTrailHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := requirePrincipal(w, r)
		if !ok {
			return
		}
		id := chi.URLParam(r, "requestID")
		if _, err := svc.GetRequest(r.Context(), id, principal); err != nil {
			writeError(w, err)
			return
		}

		events, err := svc.AuditTrail(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		out := make([]auditEventResponse, 0, len(events))
		for _, e := range events {
			out = append(out, toAuditEventResponse(e))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func verifyAuditHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := requirePrincipal(w, r)
		if !ok {
			return
		}
		id := chi.URLParam(r, "requestID")
		if _, err := svc.GetRequest(r.Context(), id, principal); err != nil {
			writeError(w, err)
			return
		}

		n, err := svc.VerifyAuditTrail(r.Context(), id)
		var ce *audit.ChainError
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, verifyResponse{RequestID: id, Valid: true, Events: n})
		case errors.As(err, &ce):
			writeJSON(w, http.StatusOK, verifyResponse{RequestID: id, BrokenAtSeq: ce.Seq, Reason: ce.Reason})
		default:
			writeError(w, err)
		}
	}
}

// auditEventsHandler godoc
// @Summary Query the audit log across requests
// @Description Revocation admins only. Time bounds are RFC 3339 and inclusive.
// @Tags audit
// @Produce json
// @Param X-Debug-User-ID header string false "Caller id, dev mode only"
// @Param request_id query string false "Request filter"
// @Param from query string false "Lower time bound"
// @Param to query string false "Upper time bound"
// @Param limit query int false "1-1000, default 100"
// @Success 200 {array} auditEventResponse
// @Failure 400 {object} errorResponse
// @Failure 403 {object} errorResponse
// @Router /audit/events [get]
func auditEventsHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := requirePrincipal(w, r)
		if !ok {
			return
		}
		if !svc.isAdmin(principal) {
			writeError(w, ErrUnauthorized)
			return
		}

		q := r.URL.Query()
		aq := audit.Query{RequestID: strings.TrimSpace(q.Get("request_id"))}
		for name, dst := range map[string]**time.Time{"from": &aq.From, "to": &aq.To} {
			raw := strings.TrimSpace(q.Get(name))
			if raw == "" {
				continue
			}
			t, err := time.Parse(time.RFC3339Nano, raw)
			if err != nil {
				writeError(w, fmt.Errorf("%w: %s must be RFC 3339", ErrInvalidInput, name))
				return
			}
			*dst = &t
		}
		if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				writeError(w, fmt.Errorf("%w: limit must be a positive integer", ErrInvalidInput))
				return
			}
			aq.Limit = n
		}

		events, err := svc.AuditEvents(r.Context(), aq)
		if err != nil {
			writeError(w, err)
			return
		}
		out := make([]auditEventResponse, 0, len(events))
		for _, e := range events {
			out = append(out, toAuditEventResponse(e))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func requirePrincipal(w http.ResponseWriter, r *http.Request) (string, bool) {
	principal := middleware.Principal(r.Context())
	if principal == "" {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthenticated", Message: "missing or invalid credentials"})
		return "", false
	}
	return principal, true
}

// HTTPStatus maps an engine error to its response status.
func HTTPStatus(err error) int {
	switch Code(err) {
	case "invalid_input":
		return http.StatusBadRequest
	case "unauthorized":
		return http.StatusForbidden
	case "not_found":
		return http.StatusNotFound
	case "duplicate_pending", "already_processed", "invalid_state":
		return http.StatusConflict
	case "expired":
		return http.StatusGone
	case "store_unavailable":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := HTTPStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError && !errors.Is(err, ErrAuditFailure) {
		msg = "internal error"
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, errorResponse{Error: Code(err), Message: msg})
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

func toRequestResponse(r AccessRequest, effective string) requestResponse {
	return requestResponse{
		ID:              r.ID,
		RequesterID:     r.Requester,
		PatientID:       r.Patient,
		DataType:        r.DataType,
		Purpose:         r.Purpose,
		Status:          r.Status,
		EffectiveStatus: effective,
		Processed:       r.Processed,
		CreatedAt:       r.CreatedAt,
		ExpiresAt:       r.ExpiresAt,
		UpdatedAt:       r.UpdatedAt,
		Version:         r.Version,
	}
}

func toAuditEventResponse(e audit.Event) auditEventResponse {
	return auditEventResponse{
		Seq:        e.Seq,
		ID:         e.ID,
		RequestID:  e.RequestID,
		Type:       string(e.Type),
		Actor:      e.Actor,
		FromStatus: e.FromStatus,
		ToStatus:   e.ToStatus,
		Outcome:    e.Outcome,
		At:         e.At,
		PrevHash:   hex.EncodeToString(e.PrevHash),
		Hash:       hex.EncodeToString(e.Hash),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
