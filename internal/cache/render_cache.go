package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/iago/manga-creator-back/internal/domain"
	gocache "github.com/patrickmn/go-cache"
)

type Config struct {
	TTL             time.Duration
	CleanupInterval time.Duration
	MaxEntries      int
}

// RenderCache keeps recently rendered panels keyed by a prompt signature.
type RenderCache struct {
	store      *gocache.Cache
	maxEntries int
}

func NewRenderCache(config Config) *RenderCache {
	if config.TTL <= 0 {
		config.TTL = 30 * time.Minute
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 15 * time.Minute
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = 2000
	}
	return &RenderCache{
		store:      gocache.New(config.TTL, config.CleanupInterval),
		maxEntries: config.MaxEntries,
	}
}

func (c *RenderCache) Get(signature string) (domain.RenderedPanel, bool) {
	value, ok := c.store.Get(signature)
	if !ok {
		return domain.RenderedPanel{}, false
	}
	panel, ok := value.(domain.RenderedPanel)
	return panel, ok
}

func (c *RenderCache) Set(signature string, panel domain.RenderedPanel) {
	if c.store.ItemCount() >= c.maxEntries {
		c.store.DeleteExpired()
		if c.store.ItemCount() >= c.maxEntries {
			c.evictOldest()
		}
	}
	c.store.SetDefault(signature, panel)
}

func (c *RenderCache) Len() int {
	return c.store.ItemCount()
}

func (c *RenderCache) BuildSignature(parts ...string) string {
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(strings.ToLower(part))
		normalized = append(normalized, trimmed)
	}
	joined := strings.Join(normalized, "||")
	sum := sha256.Sum256([]byte(joined))
	return hex.EncodeToString(sum[:])
}

// evictOldest drops the entry closest to expiry, which is the oldest one since all share a TTL.
func (c *RenderCache) evictOldest() {
	var (
		oldestKey string
		oldestAt  int64
	)
	for key, item := range c.store.Items() {
		if oldestKey == "" || item.Expiration < oldestAt {
			oldestKey = key
			oldestAt = item.Expiration
		}
	}
	if oldestKey != "" {
		c.store.Delete(oldestKey)
	}
}
