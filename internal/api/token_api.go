package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"log/slog"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/tinywideclouds/go-ticket-notifier/pkg/notify"
)

// TokenAPI registers and unregisters push tokens for the authenticated
// caller. The caller's handle may be either identifier form, so every write
// goes through the resolver first.
type TokenAPI struct {
	Store    notify.UserStore
	Resolver notify.Resolver
	Logger   *slog.Logger
}

func NewTokenAPI(store notify.UserStore, resolver notify.Resolver, logger *slog.Logger) *TokenAPI {
	return &TokenAPI{
		Store:    store,
		Resolver: resolver,
		Logger:   logger,
	}
}

type RegisterPushRequest struct {
	Project string `json:"project"`
	Token   string `json:"token"`
}

func (api *TokenAPI) RegisterPush(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	handle, ok := middleware.GetUserHandleFromContext(ctx)
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req RegisterPushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Project == "" || req.Token == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing project or token")
		return
	}

	recordID, err := api.canonicalID(ctx, handle)
	if err != nil {
		api.Logger.Warn("RegisterPush: caller has no user record", "handle", handle, "err", err)
		response.WriteJSONError(w, http.StatusNotFound, "unknown user")
		return
	}

	if err := api.Store.RegisterToken(ctx, recordID, req.Project, req.Token); err != nil {
		api.Logger.Error("failed to register push token", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (api *TokenAPI) UnregisterPush(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	handle, ok := middleware.GetUserHandleFromContext(ctx)
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req RegisterPushRequest // same shape: project + token
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Project == "" || req.Token == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing project or token")
		return
	}

	recordID, err := api.canonicalID(ctx, handle)
	if err != nil {
		response.WriteJSONError(w, http.StatusNotFound, "unknown user")
		return
	}

	// Log but don't fail hard; idempotency is preferred for unregister.
	if err := api.Store.RemoveTokens(ctx, recordID, req.Project, []string{req.Token}); err != nil {
		api.Logger.Warn("failed to unregister push token", "err", err)
	}

	w.WriteHeader(http.StatusNoContent)
}

// canonicalID settles the caller's handle into a user-record id, whichever
// identifier space it came from.
func (api *TokenAPI) canonicalID(ctx context.Context, handle string) (string, error) {
	ids, err := api.Resolver.ResolveIDs(ctx, []notify.RecipientRef{notify.Ref(handle)})
	if err != nil {
		return "", err
	}
	recordID, ok := ids[handle]
	if !ok {
		return "", fmt.Errorf("no user record matches %q", handle)
	}
	return recordID, nil
}
