package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pdisakar/content-assets/pkg/contentasset"
)

// DefaultMaxRequestBytes bounds JSON request bodies, which carry inline payloads
const DefaultMaxRequestBytes = 64 << 20

// Config wires the HTTP surface
type Config struct {
	Service contentasset.Service

	// Sweeper enables POST /api/v1/maintenance/sweep when set
	Sweeper    *contentasset.Sweeper
	SweepGrace time.Duration

	// AssetPrefix is where stored assets are served, e.g. "/uploads/"
	AssetPrefix string

	MaxRequestBytes int64
	MaxUploadBytes  int64
	AllowedOrigins  []string
	Logger          *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.MaxRequestBytes <= 0 {
		c.MaxRequestBytes = DefaultMaxRequestBytes
	}
	if c.AssetPrefix == "" {
		c.AssetPrefix = contentasset.DefaultAssetPrefix
	}
	return c
}

// NewRouter serves the API and the stored assets on one router
func NewRouter(cfg Config) http.Handler {
	cfg = cfg.withDefaults()

	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(CORSMiddleware(cfg.AllowedOrigins))

	MountAPI(r, cfg)
	MountAssets(r, cfg)
	return r
}

// MountAPI registers the /api/v1 routes on an existing router
func MountAPI(r chi.Router, cfg Config) {
	cfg = cfg.withDefaults()
	contents := NewContentHandler(cfg.Service, cfg.Logger)
	assets := NewAssetHandler(cfg.Service, cfg.Logger, cfg.MaxUploadBytes)

	r.Route("/api/v1", func(r chi.Router) {
		r.With(RequestSizeLimitMiddleware(cfg.MaxRequestBytes)).Mount("/content", contents.Routes())
		r.Mount("/uploads", assets.Routes())
		if cfg.Sweeper != nil {
			r.Mount("/maintenance", NewMaintenanceHandler(cfg.Sweeper, cfg.SweepGrace, cfg.Logger).Routes())
		}
	})
}

// MountAssets serves stored assets under the asset prefix
func MountAssets(r chi.Router, cfg Config) {
	cfg = cfg.withDefaults()
	assets := NewAssetHandler(cfg.Service, cfg.Logger, cfg.MaxUploadBytes)
	r.Get("/"+strings.Trim(cfg.AssetPrefix, "/")+"/*", assets.Serve)
}
