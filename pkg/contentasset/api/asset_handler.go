package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/pdisakar/content-assets/pkg/contentasset"
)

// assetCSP keeps served assets, SVG in particular, from running script or
// loading anything in the site's origin
const assetCSP = "default-src 'none'; style-src 'unsafe-inline'; sandbox"

// DefaultMaxUploadBytes bounds a direct upload request
const DefaultMaxUploadBytes = contentasset.DefaultMaxInlineBytes + 1<<20

// AssetHandler handles direct uploads and serves stored assets
type AssetHandler struct {
	service  contentasset.Service
	logger   *slog.Logger
	maxBytes int64
}

// NewAssetHandler creates a new asset handler
func NewAssetHandler(service contentasset.Service, logger *slog.Logger, maxBytes int64) *AssetHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	return &AssetHandler{service: service, logger: logger, maxBytes: maxBytes}
}

// Routes returns the direct upload routes
func (h *AssetHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Upload)
	r.Delete("/", h.Delete)
	return r
}

// UploadResponse is the response body of a direct upload
type UploadResponse struct {
	Reference   string `json:"reference"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// Upload stores a single image from the multipart field "image". The asset
// is unreferenced until an entity is saved with it.
func (h *AssetHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	if err := r.ParseMultipartForm(h.maxBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeErrorCode(w, r, http.StatusRequestEntityTooLarge, "too_large", "upload exceeds size limit")
			return
		}
		badRequest(w, r, fmt.Sprintf("invalid multipart form: %v", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("image")
	if err != nil {
		badRequest(w, r, "missing form file \"image\"")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		badRequest(w, r, fmt.Sprintf("failed to read upload: %v", err))
		return
	}

	contentType := ""
	if mt, _, err := mime.ParseMediaType(header.Header.Get("Content-Type")); err == nil && mt != "application/octet-stream" {
		contentType = mt
	}

	res, err := h.service.UploadAsset(r.Context(), data, contentType)
	if err != nil {
		writeError(w, r, h.logger, "Failed to upload asset", err)
		return
	}

	h.logger.InfoContext(r.Context(), "Asset uploaded", "reference", res.Reference, "size", res.Size, "file_name", header.Filename)
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, UploadResponse{Reference: res.Reference, ContentType: res.ContentType, Size: res.Size})
}

// Delete removes a directly uploaded asset given by ?reference=, unless an
// entity still references it.
func (h *AssetHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ref := r.URL.Query().Get("reference")
	if ref == "" {
		badRequest(w, r, "reference is required")
		return
	}
	if err := h.service.DeleteAsset(r.Context(), ref); err != nil {
		writeError(w, r, h.logger, "Failed to delete asset", err)
		return
	}
	h.logger.InfoContext(r.Context(), "Asset deleted", "reference", ref)
	w.WriteHeader(http.StatusNoContent)
}

// Serve streams the asset addressed by the request path
func (h *AssetHandler) Serve(w http.ResponseWriter, r *http.Request) {
	rc, meta, err := h.service.OpenAsset(r.Context(), r.URL.Path)
	if err != nil {
		writeError(w, r, h.logger, "Failed to open asset", err)
		return
	}
	defer rc.Close()

	if meta.ContentType != "" {
		w.Header().Set("Content-Type", meta.ContentType)
	}
	if meta.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(meta.Size, 10))
	}
	if meta.ETag != "" {
		w.Header().Set("ETag", meta.ETag)
	}
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Security-Policy", assetCSP)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.WarnContext(r.Context(), "Failed to stream asset", "path", r.URL.Path, "error", err)
	}
}
