package observability

import (
	"math"
	"slices"
	"strings"
	"sync"
	"time"
)

// stageBudgetsMS holds the p95 budget per stage. Installer runs and downloads
// depend on the machine and the network, so they have none.
var stageBudgetsMS = map[string]float64{
	"verify":         2000,
	"manifest_fetch": 3000,
	"check":          5000,
}

// StageStats summarises the recent durations of one stage for one dependency.
type StageStats struct {
	Dependency string  `json:"dependency"`
	Stage      string  `json:"stage"`
	Samples    int     `json:"samples"`
	LastMS     float64 `json:"last_ms"`
	AvgMS      float64 `json:"avg_ms"`
	P50MS      float64 `json:"p50_ms"`
	P95MS      float64 `json:"p95_ms"`
	MaxMS      float64 `json:"max_ms"`
	BudgetMS   float64 `json:"budget_p95_ms,omitempty"`
	OverBudget bool    `json:"over_budget,omitempty"`
}

// StageSnapshot is the payload of /v1/perf/stages.
type StageSnapshot struct {
	GeneratedAt time.Time      `json:"generated_at"`
	Window      int            `json:"window"`
	Stages      []StageStats   `json:"stages"`
	Counters    map[string]int `json:"counters,omitempty"`
}

type stageKey struct {
	dependency string
	stage      string
}

// stageLatency keeps the last window durations per (dependency, stage) pair,
// oldest first.
type stageLatency struct {
	mu       sync.Mutex
	window   int
	samples  map[stageKey][]float64
	counters map[string]int
}

func newStageLatency(window int) *stageLatency {
	if window <= 0 {
		window = 64
	}
	return &stageLatency{
		window:   window,
		samples:  make(map[stageKey][]float64),
		counters: make(map[string]int),
	}
}

func (l *stageLatency) add(dependency, stage string, ms float64) {
	if stage == "" || ms < 0 {
		return
	}
	k := stageKey{dependency: dependency, stage: stage}
	l.mu.Lock()
	defer l.mu.Unlock()
	s := append(l.samples[k], ms)
	if over := len(s) - l.window; over > 0 {
		s = append(s[:0], s[over:]...)
	}
	l.samples[k] = s
}

func (l *stageLatency) count(name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	l.mu.Lock()
	l.counters[name]++
	l.mu.Unlock()
}

func (l *stageLatency) snapshot() StageSnapshot {
	l.mu.Lock()
	copies := make(map[stageKey][]float64, len(l.samples))
	for k, s := range l.samples {
		copies[k] = slices.Clone(s)
	}
	var counters map[string]int
	if len(l.counters) > 0 {
		counters = make(map[string]int, len(l.counters))
		for name, n := range l.counters {
			counters[name] = n
		}
	}
	l.mu.Unlock()

	keys := make([]stageKey, 0, len(copies))
	for k := range copies {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b stageKey) int {
		if c := strings.Compare(a.stage, b.stage); c != 0 {
			return c
		}
		return strings.Compare(a.dependency, b.dependency)
	})

	stats := make([]StageStats, 0, len(keys))
	for _, k := range keys {
		stats = append(stats, summarise(k, copies[k]))
	}
	return StageSnapshot{
		GeneratedAt: time.Now().UTC(),
		Window:      l.window,
		Stages:      stats,
		Counters:    counters,
	}
}

func summarise(k stageKey, samples []float64) StageStats {
	last := samples[len(samples)-1]
	sum := 0.0
	for _, v := range samples {
		sum += v
	}
	slices.Sort(samples)
	st := StageStats{
		Dependency: k.dependency,
		Stage:      k.stage,
		Samples:    len(samples),
		LastMS:     roundMS(last),
		AvgMS:      roundMS(sum / float64(len(samples))),
		P50MS:      roundMS(nearestRank(samples, 0.50)),
		P95MS:      roundMS(nearestRank(samples, 0.95)),
		MaxMS:      roundMS(samples[len(samples)-1]),
		BudgetMS:   stageBudgetsMS[k.stage],
	}
	st.OverBudget = st.BudgetMS > 0 && st.P95MS > st.BudgetMS
	return st
}

// nearestRank returns the smallest sample with at least p of the samples at
// or below it. sorted must be non-empty and ascending.
func nearestRank(sorted []float64, p float64) float64 {
	rank := int(math.Ceil(p * float64(len(sorted))))
	rank = max(1, min(rank, len(sorted)))
	return sorted[rank-1]
}

func roundMS(v float64) float64 {
	return math.Round(v*100) / 100
}
