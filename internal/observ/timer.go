// Package observ holds the server's logging setup and measures where an
// interface request spends its time.
package observ

import (
	"fmt"
	"time"
)

// Phase records the duration of one step of a request.
type Phase struct {
	Name  string
	Start time.Time
	Dur   time.Duration
}

// Timer collects phases for a single request. It is not safe for
// concurrent use; each request owns its timer.
type Timer struct {
	start  time.Time
	phases []Phase
}

// NewTimer starts a new Timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now(), phases: make([]Phase, 0, 4)}
}

// Begin starts a new phase and returns its index.
func (t *Timer) Begin(name string) int {
	if t == nil {
		return -1
	}
	t.phases = append(t.phases, Phase{Name: name, Start: time.Now()})
	return len(t.phases) - 1
}

// End finishes a phase by its index.
func (t *Timer) End(idx int) {
	if t == nil || idx < 0 || idx >= len(t.phases) {
		return
	}
	p := &t.phases[idx]
	p.Dur = time.Since(p.Start)
}

// Elapsed returns the time since the timer was created.
func (t *Timer) Elapsed() time.Duration {
	if t == nil {
		return 0
	}
	return time.Since(t.start)
}

// KeyVals flattens the phases into logger key/value pairs, e.g.
// "backend", "12.40ms".
func (t *Timer) KeyVals() []any {
	if t == nil {
		return nil
	}
	out := make([]any, 0, 2*len(t.phases)+2)
	for _, p := range t.phases {
		out = append(out, p.Name, formatMillis(p.Dur))
	}
	return append(out, "total", formatMillis(t.Elapsed()))
}

func formatMillis(d time.Duration) string {
	return fmt.Sprintf("%.2fms", durationToMillis(d))
}

func durationToMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
