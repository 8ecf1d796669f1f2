package gemini

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// QuotaInfo is the per-model quota remaining after bucket reduction.
type QuotaInfo struct {
	ModelID     string     `json:"modelId"`
	PercentLeft int        `json:"percentLeft"`
	ResetTime   *time.Time `json:"resetTime,omitempty"`
	ResetsIn    string     `json:"resetsIn,omitempty"`
}

// FetchQuota queries :retrieveUserQuota and reduces the raw buckets to one
// entry per model: "_vertex"-suffixed duplicates are dropped, the minimum
// remaining fraction wins for a shared model id, and the result is sorted by
// model id.
func FetchQuota(ctx context.Context, hc *http.Client, endpoint, token, project string) ([]QuotaInfo, error) {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	var resp retrieveUserQuotaResponse
	req := map[string]any{"project": project}
	if err := postJSON(ctx, hc, strings.TrimRight(endpoint, "/")+":retrieveUserQuota", token, req, &resp); err != nil {
		return nil, fmt.Errorf("retrieve user quota: %w", err)
	}
	return reduceBuckets(resp.Buckets, time.Now()), nil
}

func reduceBuckets(buckets []quotaBucket, now time.Time) []QuotaInfo {
	type entry struct {
		fraction float64
		reset    *time.Time
	}
	byModel := make(map[string]entry)
	for _, b := range buckets {
		if strings.HasSuffix(b.ModelID, "_vertex") {
			continue
		}
		var reset *time.Time
		if b.ResetTime != "" {
			if t, err := time.Parse(time.RFC3339, b.ResetTime); err == nil {
				reset = &t
			}
		}
		cur, ok := byModel[b.ModelID]
		if !ok || b.RemainingFraction < cur.fraction {
			byModel[b.ModelID] = entry{fraction: b.RemainingFraction, reset: reset}
		}
	}

	out := make([]QuotaInfo, 0, len(byModel))
	for model, e := range byModel {
		info := QuotaInfo{
			ModelID:     model,
			PercentLeft: int(math.Round(e.fraction * 100)),
			ResetTime:   e.reset,
		}
		if e.reset != nil {
			info.ResetsIn = formatReset(now, *e.reset)
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModelID < out[j].ModelID })
	return out
}

// formatReset renders the time until reset for humans.
func formatReset(now, reset time.Time) string {
	d := reset.Sub(now)
	if d <= 0 {
		return "Resetting..."
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("Resets in %dh %dm", h, m)
	}
	return fmt.Sprintf("Resets in %dm", m)
}

// QuotaCache memoizes FetchQuota results for a short TTL so status polling
// does not hammer the backend.
type QuotaCache struct {
	ttl time.Duration

	mu      sync.Mutex
	fetched time.Time
	cached  []QuotaInfo
}

func NewQuotaCache(ttl time.Duration) *QuotaCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &QuotaCache{ttl: ttl}
}

// Get returns cached quota when fresh, otherwise fetches and stores.
func (q *QuotaCache) Get(ctx context.Context, hc *http.Client, endpoint, token, project string) ([]QuotaInfo, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cached != nil && time.Since(q.fetched) < q.ttl {
		return q.cached, nil
	}
	info, err := FetchQuota(ctx, hc, endpoint, token, project)
	if err != nil {
		return nil, err
	}
	q.fetched = time.Now()
	q.cached = info
	return info, nil
}

// Invalidate drops any cached value, e.g. after logout.
func (q *QuotaCache) Invalidate() {
	q.mu.Lock()
	q.cached = nil
	q.mu.Unlock()
}
