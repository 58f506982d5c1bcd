package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hyperengineering/strata/internal/cascade"
	"github.com/hyperengineering/strata/internal/changelog"
	"github.com/hyperengineering/strata/internal/snapshot"
	"github.com/hyperengineering/strata/internal/store"
	"github.com/hyperengineering/strata/internal/types"
	"github.com/hyperengineering/strata/internal/validation"
)

// maxBodyBytes caps request bodies; item payloads are a few hundred bytes.
const maxBodyBytes = 1 << 20

// Handler implements the API handlers
type Handler struct {
	store    store.Store
	engine   *cascade.Engine
	uploader snapshot.Uploader
	apiKey   string
	version  string
}

// NewHandler creates a new Handler. A nil uploader serves snapshots from
// local disk only.
func NewHandler(s store.Store, engine *cascade.Engine, uploader snapshot.Uploader, apiKey, version string) *Handler {
	if uploader == nil {
		uploader = &snapshot.NoopUploader{}
	}
	if engine == nil {
		engine = cascade.NewEngine()
	}
	return &Handler{
		store:    s,
		engine:   engine,
		uploader: uploader,
		apiKey:   apiKey,
		version:  version,
	}
}

// Health returns the health status. Counts are scoped to the organization
// header when one is sent.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.GetStats(r.Context(), r.Header.Get(OrganizationHeader))
	if err != nil {
		slog.Error("health stats failed", "component", "api", "error", err)
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	writeJSON(w, http.StatusOK, types.HealthResponse{
		Status:       "healthy",
		Version:      h.version,
		ItemCount:    stats.ItemCount,
		RootCount:    stats.RootCount,
		LastSnapshot: stats.LastSnapshot,
	})
}

// CreateItem handles POST /api/v1/items
func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID := MustOrganizationIDFromContext(ctx)

	var req types.CreateItemRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if errs := validation.ValidateCreateItemRequest(req); len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", errs)
		return
	}

	created, err := h.store.CreateItem(ctx, orgID, types.NewItem{
		Timeframe:     types.Timeframe(req.Timeframe),
		CategoryIndex: req.CategoryIndex,
		PositionKey:   req.PositionKey,
		Text:          req.Text,
		Status:        req.Status,
	})
	if err != nil {
		slog.Warn("create item failed",
			"component", "api",
			"action", "create_item_failed",
			"organization_id", orgID,
			"error", err,
		)
		MapStoreError(w, r, err)
		return
	}

	h.writeChain(w, r, orgID, created.ID, http.StatusCreated)
}

// ListItems handles GET /api/v1/items
func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID := MustOrganizationIDFromContext(ctx)

	filter, errs := parseItemFilter(r)
	if len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Query contains invalid parameters", errs)
		return
	}

	items, err := h.store.ListItems(ctx, orgID, filter)
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.ItemListResponse{Items: items})
}

// GetItem handles GET /api/v1/items/{id}
func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	id, ok := itemIDParam(w, r)
	if !ok {
		return
	}
	item, err := h.store.GetItem(r.Context(), MustOrganizationIDFromContext(r.Context()), id)
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// GetChain handles GET /api/v1/items/{id}/chain. Any member of a chain
// returns the whole chain.
func (h *Handler) GetChain(w http.ResponseWriter, r *http.Request) {
	id, ok := itemIDParam(w, r)
	if !ok {
		return
	}
	h.writeChain(w, r, MustOrganizationIDFromContext(r.Context()), id, http.StatusOK)
}

// UpdateItem handles PATCH /api/v1/items/{id}
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID := MustOrganizationIDFromContext(ctx)
	id, ok := itemIDParam(w, r)
	if !ok {
		return
	}

	var req types.UpdateItemRequest
	if !decodeBody(w, r, &req) {
		return
	}

	// Position keys are checked against the stored item's timeframe.
	current, err := h.store.GetItem(ctx, orgID, id)
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	if errs := validation.ValidateUpdateItemRequest(current.Timeframe, req); len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", errs)
		return
	}

	_, err = h.store.UpdateItem(ctx, orgID, id, types.ItemUpdate{
		Text:          req.Text,
		Status:        req.Status,
		CategoryIndex: req.CategoryIndex,
		PositionKey:   req.PositionKey,
	})
	if err != nil {
		slog.Warn("update item failed",
			"component", "api",
			"action", "update_item_failed",
			"organization_id", orgID,
			"item_id", id,
			"error", err,
		)
		MapStoreError(w, r, err)
		return
	}

	h.writeChain(w, r, orgID, id, http.StatusOK)
}

// DeleteItem handles DELETE /api/v1/items/{id}
func (h *Handler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID := MustOrganizationIDFromContext(ctx)
	id, ok := itemIDParam(w, r)
	if !ok {
		return
	}

	if err := h.store.DeleteItem(ctx, orgID, id); err != nil {
		MapStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PreviewItem handles POST /api/v1/items/preview. It resolves the chain the
// item would produce and persists nothing.
func (h *Handler) PreviewItem(w http.ResponseWriter, r *http.Request) {
	var req types.CreateItemRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if errs := validation.ValidateCreateItemRequest(req); len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", errs)
		return
	}

	item := &types.Item{
		Timeframe:     types.Timeframe(req.Timeframe),
		CategoryIndex: req.CategoryIndex,
	}
	item.SetPositionKey(*req.PositionKey)

	targets, err := h.engine.Preview(item)
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.PreviewResponse{
		ReferenceYear: h.engine.ReferenceYear(),
		Targets:       targets,
	})
}

// Changes handles GET /api/v1/changes
func (h *Handler) Changes(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	orgID := MustOrganizationIDFromContext(ctx)

	after, limit, err := parseChangesQuery(r)
	if err != nil {
		WriteProblem(w, r, http.StatusBadRequest, err.Error())
		return
	}

	entries, err := h.store.GetChangeLogAfter(ctx, orgID, after, limit)
	if err != nil {
		slog.Error("change log query failed",
			"component", "api",
			"action", "changes_failed",
			"organization_id", orgID,
			"after", after,
			"error", err,
		)
		WriteProblem(w, r, http.StatusInternalServerError, "Failed to retrieve changes")
		return
	}

	latestSeq, err := h.store.GetLatestSequence(ctx, orgID)
	if err != nil {
		WriteProblem(w, r, http.StatusInternalServerError, "Failed to retrieve changes")
		return
	}

	lastSeq := after
	if len(entries) > 0 {
		lastSeq = entries[len(entries)-1].Sequence
	}

	resp := changelog.Response{
		Entries:        entries,
		LastSequence:   lastSeq,
		LatestSequence: latestSeq,
		HasMore:        len(entries) == limit && lastSeq < latestSeq,
	}
	writeJSON(w, http.StatusOK, resp)

	slog.Debug("changes served",
		"component", "api",
		"action", "changes",
		"organization_id", orgID,
		"after", after,
		"entries_returned", len(entries),
		"has_more", resp.HasMore,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// Snapshot handles GET /api/v1/snapshot. With object storage configured the
// client is redirected to a pre-signed URL; otherwise the local file is streamed.
func (h *Handler) Snapshot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	url, _, err := h.uploader.PresignedURL(ctx)
	if err == nil {
		http.Redirect(w, r, url, http.StatusTemporaryRedirect)
		return
	}
	if !errors.Is(err, snapshot.ErrNotConfigured) {
		slog.Error("pre-signed snapshot URL failed", "component", "api", "error", err)
		WriteProblem(w, r, http.StatusServiceUnavailable, "Snapshot storage unavailable")
		return
	}

	path, err := h.store.GetSnapshotPath(ctx)
	switch {
	case errors.Is(err, store.ErrSnapshotNotConfigured):
		WriteProblem(w, r, http.StatusNotFound, "Snapshots are disabled")
		return
	case errors.Is(err, store.ErrNotFound):
		w.Header().Set("Retry-After", "60")
		WriteProblem(w, r, http.StatusServiceUnavailable, "Snapshot not yet generated")
		return
	case err != nil:
		MapStoreError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.sqlite3")
	w.Header().Set("Content-Disposition", `attachment; filename="strata-snapshot.db"`)
	http.ServeFile(w, r, path)
}

// writeChain looks up the chain of id and writes it with the item itself.
func (h *Handler) writeChain(w http.ResponseWriter, r *http.Request, orgID, id string, status int) {
	chain, err := h.store.GetChain(r.Context(), orgID, id)
	if err != nil {
		MapStoreError(w, r, err)
		return
	}

	resp := types.ChainResponse{Chain: chain}
	for _, it := range chain {
		if it.ID == id {
			resp.Item = it
			break
		}
	}
	writeJSON(w, status, resp)
}

// itemIDParam reads and validates the {id} URL parameter.
func itemIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if verr := validation.ValidateULID("id", id); verr != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid item id: %s", verr.Message))
		return "", false
	}
	return id, true
}

// decodeBody decodes a JSON request body into dst, writing 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return false
	}
	return true
}

// parseItemFilter extracts timeframe, category_index, roots_only and limit.
func parseItemFilter(r *http.Request) (types.ItemFilter, []validation.ValidationError) {
	var filter types.ItemFilter
	var c validation.Collector
	q := r.URL.Query()

	if tf := q.Get("timeframe"); tf != "" {
		if !types.Timeframe(tf).Valid() {
			c.Add(&validation.ValidationError{Field: "timeframe", Message: "must be one of: yearly, monthly, weekly, daily"})
		}
		filter.Timeframe = types.Timeframe(tf)
	}
	if v := q.Get("category_index"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			c.Add(&validation.ValidationError{Field: "category_index", Message: "must be an integer"})
		} else {
			c.Add(validation.ValidateRange("category_index", n, 0, validation.MaxCategoryIndex))
			filter.CategoryIndex = &n
		}
	}
	if v := q.Get("roots_only"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			c.Add(&validation.ValidationError{Field: "roots_only", Message: "must be a boolean"})
		}
		filter.RootsOnly = b
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			c.Add(&validation.ValidationError{Field: "limit", Message: "must be a positive integer"})
		}
		filter.Limit = n
	}
	return filter, c.Errors()
}

// parseChangesQuery extracts after (default 0) and limit for GET /changes.
func parseChangesQuery(r *http.Request) (after int64, limit int, err error) {
	limit = changelog.DefaultLimit

	if v := r.URL.Query().Get("after"); v != "" {
		after, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid after parameter: must be an integer")
		}
		if after < 0 {
			return 0, 0, fmt.Errorf("invalid after parameter: must be >= 0")
		}
	}

	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid limit parameter: must be an integer")
		}
		if limit < 1 {
			return 0, 0, fmt.Errorf("invalid limit parameter: must be >= 1")
		}
		if limit > changelog.MaxLimit {
			limit = changelog.MaxLimit
		}
	}
	return after, limit, nil
}

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "component", "api", "error", err)
	}
}
