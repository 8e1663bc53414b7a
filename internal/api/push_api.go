package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"
	"github.com/tinywideclouds/go-apns-service/pkg/apns"
	"github.com/tinywideclouds/go-apns-service/pkg/dispatch"
)

const (
	maxRequestBody = 1 << 20

	// defaultSweepWindow is used by ListInvalidTokens when no since is given.
	defaultSweepWindow = 24 * time.Hour
)

type PushAPI struct {
	Sender dispatch.Sender
	Store  dispatch.InvalidTokenStore
	Logger *slog.Logger
}

func NewPushAPI(sender dispatch.Sender, store dispatch.InvalidTokenStore, logger *slog.Logger) *PushAPI {
	return &PushAPI{
		Sender: sender,
		Store:  store,
		Logger: logger,
	}
}

// --- Delivery ---

// Push sends one notification to a batch of tokens and answers with the
// per-token summary.
func (api *PushAPI) Push(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := middleware.GetUserIDFromContext(ctx)
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req apns.PushRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if len(req.Tokens) == 0 {
		response.WriteJSONError(w, http.StatusBadRequest, "missing tokens")
		return
	}

	summary, err := api.Sender.Send(ctx, req.Tokens, req.Payload, req.Options)
	if err != nil {
		status := statusFor(err)
		api.Logger.Error("Push: batch failed", "caller", caller, "tokens", len(req.Tokens), "status", status, "err", err)
		response.WriteJSONError(w, status, err.Error())
		return
	}

	dispatch.RecordInvalid(ctx, api.Store, summary.InvalidTokens(), api.Logger)
	api.Logger.Info("Push: batch dispatched", "caller", caller, "success", summary.Success, "failure", summary.Failure)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(summary); err != nil {
		api.Logger.Warn("Push: failed to write response", "err", err)
	}
}

func statusFor(err error) int {
	var cfgErr *apns.ConfigError
	switch {
	case errors.As(err, &cfgErr), errors.Is(err, apns.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, apns.ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

// --- Token status ---

type TokenStatus struct {
	Token   string     `json:"token"`
	Invalid bool       `json:"invalid"`
	Reason  string     `json:"reason,omitempty"`
	Since   *time.Time `json:"since,omitempty"`
}

func (api *PushAPI) GetTokenStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := middleware.GetUserIDFromContext(ctx); !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	token := r.PathValue("token")
	if token == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing token")
		return
	}

	rec, err := api.Store.Lookup(ctx, token)
	if err != nil {
		api.Logger.Error("GetTokenStatus: lookup failed", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}

	status := TokenStatus{Token: token}
	if rec != nil {
		status.Invalid = true
		status.Reason = rec.Reason
		if !rec.Since.IsZero() {
			since := rec.Since
			status.Since = &since
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(status)
}

// ListInvalidTokens answers GET /api/v1/tokens?since=<RFC3339> with every token
// marked invalid since then, so registries can prune them in one sweep.
func (api *PushAPI) ListInvalidTokens(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := middleware.GetUserIDFromContext(ctx); !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	since := time.Now().Add(-defaultSweepWindow)
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			response.WriteJSONError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		since = t
	}

	recs, err := api.Store.RecordedSince(ctx, since)
	if err != nil {
		api.Logger.Error("ListInvalidTokens: query failed", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}

	out := make([]TokenStatus, 0, len(recs))
	for _, rec := range recs {
		st := TokenStatus{Token: rec.Token, Invalid: true, Reason: rec.Reason}
		if !rec.Since.IsZero() {
			since := rec.Since
			st.Since = &since
		}
		out = append(out, st)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

// ClearToken forgets a token's invalid mark, e.g. after the device registered again.
func (api *PushAPI) ClearToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := middleware.GetUserIDFromContext(ctx)
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	token := r.PathValue("token")
	if token == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing token")
		return
	}

	if err := api.Store.Clear(ctx, token); err != nil {
		api.Logger.Warn("ClearToken: failed to clear token", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "failed to clear token")
		return
	}
	api.Logger.Info("ClearToken: token cleared", "caller", caller)

	w.WriteHeader(http.StatusNoContent)
}
