package risk

import "sync"

// defaultModelScore is assumed for models with no cached performance yet.
const defaultModelScore = 0.8

// ModelHealthCache holds the latest performance score per model version,
// shared by the admitter (gating) and the sizer (scaling).
type ModelHealthCache struct {
	mu     sync.RWMutex
	scores map[string]float64
}

// NewModelHealthCache creates an empty cache.
func NewModelHealthCache() *ModelHealthCache {
	return &ModelHealthCache{scores: make(map[string]float64)}
}

// Set stores the performance score (0..1) for a model version.
func (c *ModelHealthCache) Set(modelVersion string, score float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scores[modelVersion] = score
}

// Get returns the cached score and whether it was present.
func (c *ModelHealthCache) Get(modelVersion string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	score, ok := c.scores[modelVersion]
	return score, ok
}

// ScoreOrDefault returns the cached score, or the default for unknown
// models.
func (c *ModelHealthCache) ScoreOrDefault(modelVersion string) float64 {
	if score, ok := c.Get(modelVersion); ok {
		return score
	}
	return defaultModelScore
}
