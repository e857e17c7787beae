package studio

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/tunivo/studio/pkg/models"
)

// scoreCache memoizes agent evaluations. Evaluation is a pure function of
// its inputs, so a hit is indistinguishable from recomputing.
type scoreCache struct {
	lru *lru.Cache[string, models.Score]
}

func newScoreCache(size int) (*scoreCache, error) {
	if size <= 0 {
		return nil, nil
	}
	c, err := lru.New[string, models.Score](size)
	if err != nil {
		return nil, err
	}
	return &scoreCache{lru: c}, nil
}

func scoreKey(tl models.Timeline, ctx models.EvaluationContext, mode models.Mode) (string, error) {
	payload, err := json.Marshal(struct {
		Mode     models.Mode              `json:"mode"`
		Timeline models.Timeline          `json:"timeline"`
		Context  models.EvaluationContext `json:"context"`
	}{mode, tl, ctx})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

func (c *scoreCache) get(key string) (models.Score, bool) {
	if c == nil {
		return models.Score{}, false
	}
	s, ok := c.lru.Get(key)
	if !ok {
		return models.Score{}, false
	}
	return cloneScore(s), true
}

func (c *scoreCache) add(key string, s models.Score) {
	if c == nil {
		return
	}
	c.lru.Add(key, cloneScore(s))
}

func (c *scoreCache) len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}

func cloneScore(s models.Score) models.Score {
	if s.Issues != nil {
		s.Issues = append([]models.Issue(nil), s.Issues...)
	}
	return s
}
