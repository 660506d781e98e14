// Package stats provides an in-process statistics sink backed by HDR
// histograms. Schedulers and tasks feed it fire-and-forget samples;
// the hosting engine reads a snapshot at the end of the run.
package stats

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/stridekit/stride/internal/scenario"
)

const maxRecentFailures = 100

// Engine implements scenario.StatisticsSink.
//
// Latencies are recorded into one HDR histogram per kind/name pair
// (1 microsecond to 1 hour, 3 significant figures), giving O(1)
// percentile reads. Counters use atomics; histogram access is mutex
// protected. Safe for concurrent use by many schedulers.
type Engine struct {
	mu      sync.Mutex
	entries map[string]*entry

	total  atomic.Int64
	failed atomic.Int64
	bytes  atomic.Int64

	failuresMu sync.Mutex
	failures   []scenario.Sample

	startTime time.Time
}

type entry struct {
	kind   scenario.SampleKind
	name   string
	hist   *hdrhistogram.Histogram
	count  int64
	failed int64
	bytes  int64
}

// NewEngine creates an empty engine.
func NewEngine() *Engine {
	return &Engine{
		entries:   make(map[string]*entry),
		startTime: time.Now(),
	}
}

// Record implements scenario.StatisticsSink.
func (e *Engine) Record(s scenario.Sample) {
	e.total.Add(1)
	e.bytes.Add(s.Size)
	if s.Failure != nil {
		e.failed.Add(1)
		e.failuresMu.Lock()
		if len(e.failures) < maxRecentFailures {
			e.failures = append(e.failures, s)
		}
		e.failuresMu.Unlock()
	}

	key := string(s.Kind) + "/" + s.Name

	e.mu.Lock()
	defer e.mu.Unlock()

	ent, ok := e.entries[key]
	if !ok {
		// 1us to 1h, 3 significant figures.
		ent = &entry{
			kind: s.Kind,
			name: s.Name,
			hist: hdrhistogram.New(1, 3600000000, 3),
		}
		e.entries[key] = ent
	}
	ent.count++
	ent.bytes += s.Size
	if s.Failure != nil {
		ent.failed++
	}

	micros := s.Duration.Microseconds()
	if micros < 1 {
		micros = 1
	}
	if micros > 3600000000 {
		micros = 3600000000
	}
	_ = ent.hist.RecordValue(micros)
}

// EntryStats is the aggregated view of one kind/name pair.
type EntryStats struct {
	Kind   scenario.SampleKind `json:"kind"`
	Name   string              `json:"name"`
	Count  int64               `json:"count"`
	Failed int64               `json:"failed"`
	Bytes  int64               `json:"bytes"`

	Min  time.Duration `json:"min"`
	Max  time.Duration `json:"max"`
	Mean time.Duration `json:"mean"`
	P50  time.Duration `json:"p50"`
	P90  time.Duration `json:"p90"`
	P95  time.Duration `json:"p95"`
	P99  time.Duration `json:"p99"`
}

// Snapshot is a point-in-time aggregate of everything recorded.
type Snapshot struct {
	Total     int64         `json:"total"`
	Failed    int64         `json:"failed"`
	ErrorRate float64       `json:"errorRate"`
	Bytes     int64         `json:"bytes"`
	Elapsed   time.Duration `json:"elapsed"`

	// Entries are sorted by kind, then name.
	Entries []EntryStats `json:"entries"`

	// RecentFailures holds up to the first 100 failed samples.
	RecentFailures []scenario.Sample `json:"-"`
}

// Snapshot aggregates the current state. It can be taken while
// schedulers are still recording.
func (e *Engine) Snapshot() *Snapshot {
	snap := &Snapshot{
		Total:   e.total.Load(),
		Failed:  e.failed.Load(),
		Bytes:   e.bytes.Load(),
		Elapsed: time.Since(e.startTime),
	}
	if snap.Total > 0 {
		snap.ErrorRate = float64(snap.Failed) / float64(snap.Total)
	}

	e.mu.Lock()
	for _, ent := range e.entries {
		snap.Entries = append(snap.Entries, EntryStats{
			Kind:   ent.kind,
			Name:   ent.name,
			Count:  ent.count,
			Failed: ent.failed,
			Bytes:  ent.bytes,
			Min:    time.Duration(ent.hist.Min()) * time.Microsecond,
			Max:    time.Duration(ent.hist.Max()) * time.Microsecond,
			Mean:   time.Duration(ent.hist.Mean()) * time.Microsecond,
			P50:    time.Duration(ent.hist.ValueAtQuantile(50)) * time.Microsecond,
			P90:    time.Duration(ent.hist.ValueAtQuantile(90)) * time.Microsecond,
			P95:    time.Duration(ent.hist.ValueAtQuantile(95)) * time.Microsecond,
			P99:    time.Duration(ent.hist.ValueAtQuantile(99)) * time.Microsecond,
		})
	}
	e.mu.Unlock()

	sort.Slice(snap.Entries, func(i, j int) bool {
		if snap.Entries[i].Kind != snap.Entries[j].Kind {
			return snap.Entries[i].Kind < snap.Entries[j].Kind
		}
		return snap.Entries[i].Name < snap.Entries[j].Name
	})

	e.failuresMu.Lock()
	snap.RecentFailures = append([]scenario.Sample(nil), e.failures...)
	e.failuresMu.Unlock()

	return snap
}

// Lookup returns the stats for one kind/name pair, or false when
// nothing was recorded under it.
func (e *Engine) Lookup(kind scenario.SampleKind, name string) (EntryStats, bool) {
	snap := e.Snapshot()
	for _, ent := range snap.Entries {
		if ent.Kind == kind && ent.Name == name {
			return ent, true
		}
	}
	return EntryStats{}, false
}

// String summarizes the engine for debug logs.
func (e *Engine) String() string {
	return fmt.Sprintf("stats{total=%d failed=%d}", e.total.Load(), e.failed.Load())
}
