package recovery

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"tradekit/pkg/errs"
)

const defaultMaxTrackedCodes = 100

// Stats aggregates occurrences for one code:domain pair.
type Stats struct {
	Code            string
	Domain          errs.Domain
	Severity        errs.Severity
	Count           int
	FirstSeen       time.Time
	LastSeen        time.Time
	RecoveredCount  int
	RecoveryRate    float64
	AvgRecoveryTime time.Duration
}

// Summary is a point-in-time aggregate across all tracked codes.
type Summary struct {
	TotalErrors     int
	TotalRecovered  int
	ByDomain        map[errs.Domain]int
	BySeverity      map[errs.Severity]int
	Top             []Stats // up to 10, by occurrence count descending
	RecoveryRate    float64
	AvgRecoveryTime time.Duration
}

// Registry accumulates process-wide error telemetry. It is an injected
// instance rather than package-global state so multiple sessions can run
// in isolation within one process.
type Registry struct {
	mu         sync.Mutex
	maxTracked int
	stats      map[string]*Stats
}

// NewRegistry constructs a registry tracking at most maxTracked distinct
// code:domain pairs; zero or negative selects the default ceiling.
func NewRegistry(maxTracked int) *Registry {
	if maxTracked <= 0 {
		maxTracked = defaultMaxTrackedCodes
	}
	return &Registry{maxTracked: maxTracked, stats: make(map[string]*Stats)}
}

func statsKey(code string, domain errs.Domain) string {
	return fmt.Sprintf("%s:%s", code, domain)
}

// Record tallies one occurrence and, when recovered, folds recoveryTime
// into the running average using an incremental mean.
func (r *Registry) Record(err *errs.TradingError, recovered bool, recoveryTime time.Duration) {
	if err == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	key := statsKey(err.Code, err.Domain)
	entry, ok := r.stats[key]
	if !ok {
		r.evictOldestLocked()
		entry = &Stats{
			Code:      err.Code,
			Domain:    err.Domain,
			Severity:  err.Severity,
			FirstSeen: time.Now(),
		}
		r.stats[key] = entry
	}

	entry.Count++
	entry.LastSeen = time.Now()
	if recovered {
		entry.RecoveredCount++
		n := float64(entry.RecoveredCount)
		// Incremental mean: bounded memory, no stored sum.
		entry.AvgRecoveryTime = time.Duration(
			(float64(entry.AvgRecoveryTime)*(n-1) + float64(recoveryTime)) / n,
		)
	}
	entry.RecoveryRate = float64(entry.RecoveredCount) / float64(entry.Count)
}

// evictOldestLocked drops the entry with the earliest FirstSeen once the
// tracked-code ceiling is reached. Not an LRU, just an unbounded-growth guard.
func (r *Registry) evictOldestLocked() {
	if len(r.stats) < r.maxTracked {
		return
	}
	var oldestKey string
	var oldest time.Time
	for key, s := range r.stats {
		if oldestKey == "" || s.FirstSeen.Before(oldest) {
			oldestKey = key
			oldest = s.FirstSeen
		}
	}
	if oldestKey != "" {
		delete(r.stats, oldestKey)
	}
}

// Stats returns a copy of the aggregate for one code:domain pair.
func (r *Registry) Stats(code string, domain errs.Domain) (Stats, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.stats[statsKey(code, domain)]
	if !ok {
		return Stats{}, false
	}
	return *entry, true
}

// Summary aggregates totals, breakdowns and the top-10 codes by count.
func (r *Registry) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Summary{
		ByDomain:   make(map[errs.Domain]int),
		BySeverity: make(map[errs.Severity]int),
	}
	all := make([]Stats, 0, len(r.stats))
	var weightedRecovery float64
	for _, entry := range r.stats {
		s.TotalErrors += entry.Count
		s.TotalRecovered += entry.RecoveredCount
		s.ByDomain[entry.Domain] += entry.Count
		s.BySeverity[entry.Severity] += entry.Count
		weightedRecovery += float64(entry.AvgRecoveryTime) * float64(entry.RecoveredCount)
		all = append(all, *entry)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Count != all[j].Count {
			return all[i].Count > all[j].Count
		}
		return all[i].Code < all[j].Code
	})
	if len(all) > 10 {
		all = all[:10]
	}
	s.Top = all
	if s.TotalErrors > 0 {
		s.RecoveryRate = float64(s.TotalRecovered) / float64(s.TotalErrors)
	}
	if s.TotalRecovered > 0 {
		s.AvgRecoveryTime = time.Duration(weightedRecovery / float64(s.TotalRecovered))
	}
	return s
}

// Healthy compares the overall recovery rate against threshold; a registry
// with no data is vacuously healthy. Threshold <= 0 selects 0.8.
func (r *Registry) Healthy(threshold float64) bool {
	if threshold <= 0 {
		threshold = 0.8
	}
	s := r.Summary()
	if s.TotalErrors == 0 {
		return true
	}
	return s.RecoveryRate >= threshold
}

// Clear resets all telemetry. Intended for test isolation.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats = make(map[string]*Stats)
}
