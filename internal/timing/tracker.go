package timing

import (
	"sort"
	"sync"
	"time"
)

// Span is an in-flight measurement returned by Tracker.Start.
type Span struct {
	Operation string
	StartTime time.Time
	tracker   *Tracker
}

// End records the elapsed time of the span.
func (s Span) End() {
	if s.tracker == nil {
		return
	}
	s.tracker.Record(s.Operation, time.Since(s.StartTime))
}

// Summary aggregates every recorded duration of one operation.
type Summary struct {
	Operation string
	Count     int
	Total     time.Duration
	Average   time.Duration
	Max       time.Duration
}

// Tracker accumulates per-operation durations. It is safe for concurrent use
// because kernels of the same wave finish on different goroutines.
type Tracker struct {
	timings map[string][]time.Duration
	mu      sync.RWMutex
	enabled bool
}

func NewTracker() *Tracker {
	return &Tracker{
		timings: make(map[string][]time.Duration),
		enabled: true,
	}
}

func (tt *Tracker) Start(operation string) Span {
	if tt == nil {
		return Span{Operation: operation}
	}

	tt.mu.RLock()
	enabled := tt.enabled
	tt.mu.RUnlock()
	if !enabled {
		return Span{Operation: operation}
	}

	return Span{Operation: operation, StartTime: time.Now(), tracker: tt}
}

func (tt *Tracker) Record(operation string, d time.Duration) {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	tt.timings[operation] = append(tt.timings[operation], d)
}

func (tt *Tracker) GetTimings(operation string) []time.Duration {
	tt.mu.RLock()
	defer tt.mu.RUnlock()

	timings := tt.timings[operation]
	if timings == nil {
		return nil
	}

	result := make([]time.Duration, len(timings))
	copy(result, timings)
	return result
}

func (tt *Tracker) GetAverageTime(operation string) time.Duration {
	timings := tt.GetTimings(operation)
	if len(timings) == 0 {
		return 0
	}

	var total time.Duration
	for _, duration := range timings {
		total += duration
	}

	return total / time.Duration(len(timings))
}

// Summaries returns one entry per operation, sorted by operation name.
func (tt *Tracker) Summaries() []Summary {
	tt.mu.RLock()
	defer tt.mu.RUnlock()

	result := make([]Summary, 0, len(tt.timings))
	for operation, timings := range tt.timings {
		s := Summary{Operation: operation, Count: len(timings)}
		for _, d := range timings {
			s.Total += d
			if d > s.Max {
				s.Max = d
			}
		}
		if s.Count > 0 {
			s.Average = s.Total / time.Duration(s.Count)
		}
		result = append(result, s)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Operation < result[j].Operation })
	return result
}

func (tt *Tracker) SetEnabled(enabled bool) {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	tt.enabled = enabled
}

func (tt *Tracker) Reset(operation string) {
	tt.mu.Lock()
	defer tt.mu.Unlock()

	if operation == "" {
		tt.timings = make(map[string][]time.Duration)
	} else {
		delete(tt.timings, operation)
	}
}
