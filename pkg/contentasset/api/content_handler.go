package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/pdisakar/content-assets/pkg/contentasset"
)

// maxBulkIDs caps the ids accepted by one bulk request
const maxBulkIDs = 200

// ContentHandler handles HTTP requests for asset-bearing content
type ContentHandler struct {
	service contentasset.Service
	logger  *slog.Logger
}

// NewContentHandler creates a new content handler
func NewContentHandler(service contentasset.Service, logger *slog.Logger) *ContentHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ContentHandler{service: service, logger: logger}
}

// Routes returns the routes for content
func (h *ContentHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.ListKinds)
	r.Route("/{type}", func(r chi.Router) {
		r.Post("/", h.CreateContent)
		r.Get("/", h.ListContent)

		r.Post("/bulk-trash", h.BulkTrash)
		r.Post("/bulk-restore", h.BulkRestore)
		r.Post("/bulk-delete-permanent", h.BulkDeletePermanent)

		r.Get("/{id}", h.GetContent)
		r.Put("/{id}", h.UpdateContent)
		r.Post("/{id}/trash", h.TrashContent)
		r.Post("/{id}/restore", h.RestoreContent)
		r.Delete("/{id}/permanent", h.PermanentlyDeleteContent)
	})

	return r
}

// SaveContentRequest is the request body for creating or editing content.
// Image values may be references, external URLs or base64 data URIs.
type SaveContentRequest struct {
	Slots     map[string]string      `json:"slots,omitempty"`
	Galleries map[string][]string    `json:"galleries,omitempty"`
	Body      string                 `json:"body,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`

	// Version is the version the client edited; If-Match takes precedence.
	Version int64 `json:"version,omitempty"`
}

// ContentResponse is the response body for an entity
type ContentResponse struct {
	ID         string               `json:"id"`
	Type       string               `json:"type"`
	State      string               `json:"state"`
	Version    int64                `json:"version"`
	Content    contentasset.Content `json:"content"`
	References []string             `json:"references"`
	CreatedAt  time.Time            `json:"created_at"`
	UpdatedAt  time.Time            `json:"updated_at"`
	DeletedAt  *time.Time           `json:"deleted_at,omitempty"`
}

// SaveContentResponse is the response body of a save
type SaveContentResponse struct {
	ID        string               `json:"id"`
	Type      string               `json:"type"`
	Version   int64                `json:"version"`
	Content   contentasset.Content `json:"content"`
	Uploaded  []string             `json:"uploaded,omitempty"`
	Reclaimed []string             `json:"reclaimed,omitempty"`
	Warnings  []string             `json:"warnings,omitempty"`
}

// PurgeResponse is the response body of a permanent delete
type PurgeResponse struct {
	Reclaimed []string `json:"reclaimed,omitempty"`
	Warnings  []string `json:"warnings,omitempty"`
}

// ListContentResponse is the response body of a list
type ListContentResponse struct {
	Items  []ContentResponse `json:"items"`
	Limit  int               `json:"limit"`
	Offset int               `json:"offset"`
}

// BulkRequest is the request body of the bulk operations
type BulkRequest struct {
	IDs []string `json:"ids"`
}

// BulkResponse reports the outcome of every id of a bulk request
type BulkResponse struct {
	Succeeded []string          `json:"succeeded"`
	Failed    map[string]string `json:"failed"`
}

// KindResponse describes one entity kind
type KindResponse struct {
	Type      string   `json:"type"`
	Slots     []string `json:"slots"`
	Galleries []string `json:"galleries"`
	Body      bool     `json:"body"`
}

// ListKinds lists the entity kinds and their image slots
func (h *ContentHandler) ListKinds(w http.ResponseWriter, r *http.Request) {
	kinds := h.service.Kinds()
	resp := make([]KindResponse, 0, len(kinds))
	for _, k := range kinds {
		resp = append(resp, KindResponse{
			Type:      string(k.Type),
			Slots:     nonNil(k.Slots),
			Galleries: nonNil(k.Galleries),
			Body:      k.Body,
		})
	}
	render.JSON(w, r, resp)
}

// CreateContent creates a new entity
func (h *ContentHandler) CreateContent(w http.ResponseWriter, r *http.Request) {
	entityType := entityTypeParam(r)
	var req SaveContentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, r, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	res, err := h.service.SaveContent(r.Context(), contentasset.SaveContentRequest{
		Type:    entityType,
		Content: req.content(),
	})
	if err != nil {
		writeError(w, r, h.logger, "Failed to create content", err)
		return
	}

	h.logger.InfoContext(r.Context(), "Content created", "type", entityType, "id", res.ID, "uploaded", len(res.Uploaded))
	setETag(w, res.Version)
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, toSaveResponse(entityType, res))
}

// UpdateContent saves a new version of an entity
func (h *ContentHandler) UpdateContent(w http.ResponseWriter, r *http.Request) {
	entityType := entityTypeParam(r)
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var req SaveContentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, r, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	expected := req.Version
	if v, present, err := ifMatchVersion(r); err != nil {
		badRequest(w, r, err.Error())
		return
	} else if present {
		expected = v
	}

	res, err := h.service.SaveContent(r.Context(), contentasset.SaveContentRequest{
		Type:            entityType,
		ID:              &id,
		Content:         req.content(),
		ExpectedVersion: expected,
	})
	if err != nil {
		writeError(w, r, h.logger, "Failed to save content", err)
		return
	}

	h.logger.InfoContext(r.Context(), "Content saved",
		"type", entityType, "id", id, "version", res.Version,
		"uploaded", len(res.Uploaded), "reclaimed", len(res.Reclaimed), "warnings", len(res.Warnings))
	setETag(w, res.Version)
	render.JSON(w, r, toSaveResponse(entityType, res))
}

// GetContent retrieves an entity in any state
func (h *ContentHandler) GetContent(w http.ResponseWriter, r *http.Request) {
	entityType := entityTypeParam(r)
	id, ok := idParam(w, r)
	if !ok {
		return
	}

	entity, err := h.service.GetContent(r.Context(), entityType, id)
	if err != nil {
		writeError(w, r, h.logger, "Failed to get content", err)
		return
	}
	setETag(w, entity.Version)
	render.JSON(w, r, toContentResponse(entity))
}

// ListContent lists active entities, or the trash with ?state=trashed
func (h *ContentHandler) ListContent(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := contentasset.ListContentRequest{
		Type:  entityTypeParam(r),
		State: contentasset.LifecycleState(q.Get("state")),
	}
	var err error
	if req.Limit, err = intQuery(q.Get("limit")); err != nil {
		badRequest(w, r, "invalid limit")
		return
	}
	if req.Offset, err = intQuery(q.Get("offset")); err != nil {
		badRequest(w, r, "invalid offset")
		return
	}

	entities, err := h.service.ListContent(r.Context(), req)
	if err != nil {
		writeError(w, r, h.logger, "Failed to list content", err)
		return
	}
	resp := ListContentResponse{Items: make([]ContentResponse, 0, len(entities)), Limit: req.Limit, Offset: req.Offset}
	for _, e := range entities {
		resp.Items = append(resp.Items, toContentResponse(e))
	}
	render.JSON(w, r, resp)
}

// TrashContent moves an entity to the trash
func (h *ContentHandler) TrashContent(w http.ResponseWriter, r *http.Request) {
	entityType := entityTypeParam(r)
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	if err := h.service.TrashContent(r.Context(), entityType, id); err != nil {
		writeError(w, r, h.logger, "Failed to trash content", err)
		return
	}
	h.logger.InfoContext(r.Context(), "Content trashed", "type", entityType, "id", id)
	w.WriteHeader(http.StatusNoContent)
}

// RestoreContent brings an entity back from the trash
func (h *ContentHandler) RestoreContent(w http.ResponseWriter, r *http.Request) {
	entityType := entityTypeParam(r)
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	if err := h.service.RestoreContent(r.Context(), entityType, id); err != nil {
		writeError(w, r, h.logger, "Failed to restore content", err)
		return
	}
	h.logger.InfoContext(r.Context(), "Content restored", "type", entityType, "id", id)
	w.WriteHeader(http.StatusNoContent)
}

// PermanentlyDeleteContent deletes a trashed entity and reclaims its assets
func (h *ContentHandler) PermanentlyDeleteContent(w http.ResponseWriter, r *http.Request) {
	entityType := entityTypeParam(r)
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	res, err := h.service.PermanentlyDeleteContent(r.Context(), entityType, id)
	if err != nil {
		writeError(w, r, h.logger, "Failed to delete content", err)
		return
	}
	h.logger.InfoContext(r.Context(), "Content deleted", "type", entityType, "id", id, "reclaimed", len(res.Reclaimed))
	render.JSON(w, r, PurgeResponse{Reclaimed: res.Reclaimed, Warnings: warningStrings(res.Warnings)})
}

// BulkTrash moves many entities to the trash
func (h *ContentHandler) BulkTrash(w http.ResponseWriter, r *http.Request) {
	h.bulk(w, r, h.service.TrashMany)
}

// BulkRestore restores many entities
func (h *ContentHandler) BulkRestore(w http.ResponseWriter, r *http.Request) {
	h.bulk(w, r, h.service.RestoreMany)
}

// BulkDeletePermanent permanently deletes many trashed entities
func (h *ContentHandler) BulkDeletePermanent(w http.ResponseWriter, r *http.Request) {
	h.bulk(w, r, h.service.PermanentlyDeleteMany)
}

type bulkFunc func(ctx context.Context, entityType contentasset.EntityType, ids []uuid.UUID) (contentasset.BulkResult, error)

func (h *ContentHandler) bulk(w http.ResponseWriter, r *http.Request, fn bulkFunc) {
	entityType := entityTypeParam(r)
	var req BulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, r, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if len(req.IDs) == 0 {
		badRequest(w, r, "ids is required")
		return
	}
	if len(req.IDs) > maxBulkIDs {
		badRequest(w, r, fmt.Sprintf("at most %d ids per request", maxBulkIDs))
		return
	}
	ids := make([]uuid.UUID, 0, len(req.IDs))
	for _, raw := range req.IDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			badRequest(w, r, fmt.Sprintf("invalid id %q", raw))
			return
		}
		ids = append(ids, id)
	}

	result, err := fn(r.Context(), entityType, ids)
	if err != nil {
		writeError(w, r, h.logger, "Bulk operation failed", err)
		return
	}

	resp := BulkResponse{Succeeded: []string{}, Failed: map[string]string{}}
	for _, id := range result.Succeeded() {
		resp.Succeeded = append(resp.Succeeded, id.String())
	}
	for id, err := range result.Failed() {
		resp.Failed[id.String()] = err.Error()
	}
	h.logger.InfoContext(r.Context(), "Bulk operation finished",
		"type", entityType, "path", r.URL.Path, "succeeded", len(resp.Succeeded), "failed", len(resp.Failed))
	render.JSON(w, r, resp)
}

func (req SaveContentRequest) content() contentasset.Content {
	return contentasset.Content{
		Slots:     req.Slots,
		Galleries: req.Galleries,
		Body:      req.Body,
		Fields:    req.Fields,
	}
}

func toContentResponse(e *contentasset.Entity) ContentResponse {
	return ContentResponse{
		ID:         e.ID.String(),
		Type:       string(e.Type),
		State:      string(e.State()),
		Version:    e.Version,
		Content:    e.Content,
		References: nonNil(e.References),
		CreatedAt:  e.CreatedAt,
		UpdatedAt:  e.UpdatedAt,
		DeletedAt:  e.DeletedAt,
	}
}

func toSaveResponse(entityType contentasset.EntityType, res *contentasset.SaveContentResult) SaveContentResponse {
	return SaveContentResponse{
		ID:        res.ID.String(),
		Type:      string(entityType),
		Version:   res.Version,
		Content:   res.Content,
		Uploaded:  res.Uploaded,
		Reclaimed: res.Reclaimed,
		Warnings:  warningStrings(res.Warnings),
	}
}

func warningStrings(warnings []contentasset.ReclaimWarning) []string {
	var out []string
	for _, w := range warnings {
		out = append(out, w.String())
	}
	return out
}

func entityTypeParam(r *http.Request) contentasset.EntityType {
	return contentasset.EntityType(chi.URLParam(r, "type"))
}

func idParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		badRequest(w, r, fmt.Sprintf("invalid id %q", raw))
		return uuid.Nil, false
	}
	return id, true
}

func intQuery(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err == nil && n < 0 {
		err = errors.New("negative")
	}
	return n, err
}

func setETag(w http.ResponseWriter, version int64) {
	w.Header().Set("ETag", strconv.Quote(strconv.FormatInt(version, 10)))
}

// ifMatchVersion parses an If-Match header carrying an entity version
func ifMatchVersion(r *http.Request) (int64, bool, error) {
	raw := strings.TrimSpace(r.Header.Get("If-Match"))
	if raw == "" || raw == "*" {
		return 0, false, nil
	}
	raw = strings.Trim(strings.TrimPrefix(raw, "W/"), `"`)
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return 0, false, fmt.Errorf("invalid If-Match version %q", raw)
	}
	return v, true, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
