package objectkey

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Generator defines the interface for object key generation strategies.
// Keys must be unique per asset ID since stored assets are never overwritten.
type Generator interface {
	// GenerateKey creates an object key for storage backends
	GenerateKey(assetID uuid.UUID, metadata *KeyMetadata) string
}

// KeyMetadata contains information that influences key generation
type KeyMetadata struct {
	ContentType string
	Extension   string // ".png"; derived from FileName when empty
	FileName    string // original upload name, direct uploads only
	UploadedAt  time.Time
}

func (m *KeyMetadata) extension() string {
	if m == nil {
		return ""
	}
	ext := m.Extension
	if ext == "" && m.FileName != "" {
		if i := strings.LastIndexByte(m.FileName, '.'); i > 0 {
			ext = m.FileName[i:]
		}
	}
	ext = strings.ToLower(sanitizePathComponent(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// FlatGenerator puts every asset at the root: {uuid}{ext}
type FlatGenerator struct{}

func NewFlatGenerator() *FlatGenerator {
	return &FlatGenerator{}
}

func (g *FlatGenerator) GenerateKey(assetID uuid.UUID, metadata *KeyMetadata) string {
	return assetID.String() + metadata.extension()
}

// ShardedGenerator provides Git-style sharding on the asset ID
// Structure: ab/cd1234ef5678{ext}
type ShardedGenerator struct {
	// ShardLength controls how many characters to use for sharding (default: 2)
	ShardLength int
}

func NewShardedGenerator() *ShardedGenerator {
	return &ShardedGenerator{ShardLength: 2}
}

func (g *ShardedGenerator) GenerateKey(assetID uuid.UUID, metadata *KeyMetadata) string {
	shard, rest := split(assetID, g.ShardLength)
	return fmt.Sprintf("%s/%s%s", shard, rest, metadata.extension())
}

// DatedGenerator groups assets by upload month, then shards
// Structure: 2025/03/ab/ab12cd34-....png
type DatedGenerator struct {
	ShardLength int
	Now         func() time.Time
}

func NewDatedGenerator() *DatedGenerator {
	return &DatedGenerator{ShardLength: 2, Now: time.Now}
}

func (g *DatedGenerator) GenerateKey(assetID uuid.UUID, metadata *KeyMetadata) string {
	var at time.Time
	if metadata != nil {
		at = metadata.UploadedAt
	}
	if at.IsZero() {
		now := g.Now
		if now == nil {
			now = time.Now
		}
		at = now()
	}
	at = at.UTC()
	shard, _ := split(assetID, g.ShardLength)
	return fmt.Sprintf("%04d/%02d/%s/%s%s", at.Year(), int(at.Month()), shard, assetID, metadata.extension())
}

// CustomFuncGenerator allows users to provide their own key generation function
type CustomFuncGenerator struct {
	GenerateFunc func(assetID uuid.UUID, metadata *KeyMetadata) string
}

func NewCustomFuncGenerator(fn func(assetID uuid.UUID, metadata *KeyMetadata) string) *CustomFuncGenerator {
	return &CustomFuncGenerator{GenerateFunc: fn}
}

func (g *CustomFuncGenerator) GenerateKey(assetID uuid.UUID, metadata *KeyMetadata) string {
	return g.GenerateFunc(assetID, metadata)
}

func split(id uuid.UUID, n int) (string, string) {
	s := strings.ReplaceAll(id.String(), "-", "")
	if n <= 0 {
		n = 2
	}
	if n > len(s) {
		n = len(s)
	}
	return s[:n], s[n:]
}

// Helper functions for path sanitization
func sanitizeFilename(filename string) string {
	// Replace problematic characters for filesystem compatibility
	replacer := strings.NewReplacer(
		"/", "_",
		"\\", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
		" ", "_",
	)
	return replacer.Replace(filename)
}

func sanitizePathComponent(component string) string {
	return strings.ToLower(sanitizeFilename(component))
}

// NewRecommendedGenerator returns the recommended generator for new installations
func NewRecommendedGenerator() Generator {
	return NewDatedGenerator()
}
