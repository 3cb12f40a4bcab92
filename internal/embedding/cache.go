package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"lore.fm/arcs/internal/db"
	"lore.fm/arcs/internal/globaltime"
)

// Embedder is the vector source the matcher depends on. *Cache satisfies it;
// tests substitute deterministic fakes.
type Embedder interface {
	Vector(ctx context.Context, text string) ([]float64, error)
}

// Cache is a write-through embedding cache: an in-process map in front of
// arcs.embedding_cache, keyed by the sha256 of the normalized text and the
// model identity. Repeated lookups for identical text never touch the
// embedding service.
type Cache struct {
	pool   *db.Pool
	client *Client

	mu  sync.RWMutex
	mem map[string][]float64
}

func NewCache(pool *db.Pool, client *Client) *Cache {
	return &Cache{
		pool:   pool,
		client: client,
		mem:    make(map[string][]float64),
	}
}

// Vector returns the embedding for text, from memory, then the database,
// then the embedding service. Newly computed vectors are persisted before
// they are returned.
func (c *Cache) Vector(ctx context.Context, text string) ([]float64, error) {
	if c == nil || c.client == nil {
		return nil, fmt.Errorf("embedding cache is not initialized")
	}

	normalized := NormalizeText(text)
	if normalized == "" {
		return nil, fmt.Errorf("embedding input is empty after normalization")
	}

	key := c.memKey(normalized)
	if vector, ok := c.memGet(key); ok {
		return vector, nil
	}

	hash := sha256.Sum256([]byte(normalized))
	if vector, ok, err := c.loadStored(ctx, hash[:]); err != nil {
		return nil, err
	} else if ok {
		c.memPut(key, vector)
		return vector, nil
	}

	vector, err := c.client.Embed(ctx, normalized)
	if err != nil {
		return nil, err
	}

	if c.pool != nil {
		if err := c.store(ctx, hash[:], normalized, vector); err != nil {
			return nil, err
		}
	}
	c.memPut(key, vector)
	return vector, nil
}

func (c *Cache) memKey(normalized string) string {
	return c.client.ModelName() + "\x00" + c.client.ModelVersion() + "\x00" + normalized
}

func (c *Cache) memGet(key string) ([]float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	vector, ok := c.mem[key]
	if !ok {
		return nil, false
	}
	out := make([]float64, len(vector))
	copy(out, vector)
	return out, true
}

func (c *Cache) memPut(key string, vector []float64) {
	stored := make([]float64, len(vector))
	copy(stored, vector)
	c.mu.Lock()
	c.mem[key] = stored
	c.mu.Unlock()
}

func (c *Cache) loadStored(ctx context.Context, textHash []byte) ([]float64, bool, error) {
	if c.pool == nil {
		return nil, false, nil
	}

	const q = `
SELECT e.vector
FROM arcs.embedding_cache e
WHERE e.text_hash = $1
  AND e.model_name = $2
  AND e.model_version = $3
`
	var raw []byte
	err := c.pool.QueryRow(ctx, q, textHash, c.client.ModelName(), c.client.ModelVersion()).Scan(&raw)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("load cached embedding: %w", err)
	}

	var vector []float64
	if err := json.Unmarshal(raw, &vector); err != nil {
		return nil, false, fmt.Errorf("decode cached embedding: %w", err)
	}
	if len(vector) == 0 {
		return nil, false, nil
	}
	return vector, true, nil
}

func (c *Cache) store(ctx context.Context, textHash []byte, normalized string, vector []float64) error {
	const q = `
INSERT INTO arcs.embedding_cache (
	text_hash,
	model_name,
	model_version,
	normalized_text,
	vector,
	created_at
)
VALUES ($1, $2, $3, $4, $5::jsonb, $6)
ON CONFLICT (text_hash, model_name, model_version) DO NOTHING
`
	encoded, err := json.Marshal(vector)
	if err != nil {
		return fmt.Errorf("encode embedding vector: %w", err)
	}

	_, err = c.pool.Exec(ctx, q, textHash, c.client.ModelName(), c.client.ModelVersion(), normalized, string(encoded), globaltime.UTC())
	if err != nil {
		return fmt.Errorf("store cached embedding: %w", err)
	}
	return nil
}

// NormalizeText lowercases, collapses whitespace, and strips control runes.
// It is the canonical cache-key normalization for comparison texts.
func NormalizeText(input string) string {
	trimmed := strings.TrimSpace(strings.ToLower(input))
	if trimmed == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(trimmed))
	lastSpace := false
	for _, r := range trimmed {
		if unicode.IsSpace(r) {
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
		lastSpace = false
	}
	return strings.TrimSpace(b.String())
}
