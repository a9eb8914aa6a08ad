package history

import "time"

const SchemaVersion = 2

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusPartial = "partial"
)

// BuildRecord is one row of build history.
type BuildRecord struct {
	ID          string
	Timestamp   time.Time
	ConfigHash  string
	Status      string
	Incremental bool
	Variants    []string
	Modules     int
	Bundles     int
	CacheHits   int
	CacheMisses int
	Duration    time.Duration
	Error       string
}

// CacheHitRatio returns hits over lookups, or 0 when nothing was looked up.
func (r BuildRecord) CacheHitRatio() float64 {
	total := r.CacheHits + r.CacheMisses
	if total == 0 {
		return 0
	}
	return float64(r.CacheHits) / float64(total)
}
