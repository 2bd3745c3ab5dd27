package observability

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

// Stage names shared by the send and voice paths.
const (
	StageFirstToken      = "send_first_token"
	StageSendTotal       = "send_total"
	StageVoiceFinalize   = "voice_finalize"
	StageVoiceTranscribe = "voice_transcribe"
	StageVoiceReply      = "voice_reply"
	StageVoiceTotal      = "voice_total"
)

type StageStats struct {
	Stage       string  `json:"stage"`
	Samples     int     `json:"samples"`
	LastMS      float64 `json:"last_ms"`
	AvgMS       float64 `json:"avg_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	P99MS       float64 `json:"p99_ms"`
	TargetP95MS float64 `json:"target_p95_ms,omitempty"`
}

type Indicator struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type StageSnapshot struct {
	GeneratedAt time.Time    `json:"generated_at"`
	WindowSize  int          `json:"window_size"`
	Stages      []StageStats `json:"stages"`
	Indicators  []Indicator  `json:"indicators,omitempty"`
}

// StageWindow keeps the most recent samples per stage in a ring so the
// service can report live percentiles without a Prometheus query.
type StageWindow struct {
	mu         sync.RWMutex
	size       int
	rings      map[string]*ring
	indicators map[string]int
}

type ring struct {
	values []float64
	next   int
	filled bool
	last   float64
}

func (r *ring) push(v float64) {
	r.values[r.next] = v
	r.last = v
	r.next++
	if r.next == len(r.values) {
		r.next = 0
		r.filled = true
	}
}

func (r *ring) samples() []float64 {
	n := r.next
	if r.filled {
		n = len(r.values)
	}
	out := make([]float64, n)
	copy(out, r.values[:n])
	return out
}

func NewStageWindow(size int) *StageWindow {
	if size <= 0 {
		size = 256
	}
	return &StageWindow{
		size:       size,
		rings:      make(map[string]*ring),
		indicators: make(map[string]int),
	}
}

func (w *StageWindow) Observe(stage string, ms float64) {
	if stage == "" || ms < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.rings[stage]
	if !ok {
		r = &ring{values: make([]float64, w.size)}
		w.rings[stage] = r
	}
	r.push(ms)
}

func (w *StageWindow) ObserveIndicator(name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.indicators[name]++
}

func (w *StageWindow) Snapshot() StageSnapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()

	snap := StageSnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.size,
		Stages:      make([]StageStats, 0, len(w.rings)),
	}
	for _, stage := range sortedKeys(w.rings) {
		samples := w.rings[stage].samples()
		if len(samples) == 0 {
			continue
		}
		sort.Float64s(samples)
		var sum float64
		for _, v := range samples {
			sum += v
		}
		snap.Stages = append(snap.Stages, StageStats{
			Stage:       stage,
			Samples:     len(samples),
			LastMS:      round2(w.rings[stage].last),
			AvgMS:       round2(sum / float64(len(samples))),
			P50MS:       round2(quantile(samples, 0.50)),
			P95MS:       round2(quantile(samples, 0.95)),
			P99MS:       round2(quantile(samples, 0.99)),
			TargetP95MS: stageTargetP95MS(stage),
		})
	}
	for _, name := range sortedKeys(w.indicators) {
		if count := w.indicators[name]; count > 0 {
			snap.Indicators = append(snap.Indicators, Indicator{Name: name, Count: count})
		}
	}
	return snap
}

func (w *StageWindow) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rings = make(map[string]*ring)
	w.indicators = make(map[string]int)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// quantile interpolates linearly between the closest ranks of sorted.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	idx := q * float64(len(sorted)-1)
	lo, hi := int(math.Floor(idx)), int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func stageTargetP95MS(stage string) float64 {
	switch stage {
	case StageFirstToken:
		return 1200
	case StageSendTotal:
		return 8000
	case StageVoiceFinalize:
		return 150
	case StageVoiceTranscribe:
		return 1500
	case StageVoiceReply:
		return 4000
	case StageVoiceTotal:
		return 6000
	default:
		return 0
	}
}
