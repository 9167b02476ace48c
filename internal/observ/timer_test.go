package observ

import (
	"strings"
	"testing"
	"time"
)

func TestTimerRecordsPhases(t *testing.T) {
	timer := NewTimer()
	idx := timer.Begin("backend")
	time.Sleep(2 * time.Millisecond)
	timer.End(idx)
	timer.End(42)

	kv := timer.KeyVals()
	if len(kv) != 4 || kv[0] != "backend" || kv[2] != "total" {
		t.Fatalf("unexpected key/values %v", kv)
	}
	dur, ok := kv[1].(string)
	if !ok || !strings.HasSuffix(dur, "ms") || dur == "0.00ms" {
		t.Fatalf("unexpected backend duration %v", kv[1])
	}
	if timer.Elapsed() < 2*time.Millisecond {
		t.Fatalf("elapsed %s shorter than the recorded phase", timer.Elapsed())
	}
}

func TestNilTimerIsInert(t *testing.T) {
	var timer *Timer
	idx := timer.Begin("x")
	timer.End(idx)
	if timer.KeyVals() != nil || timer.Elapsed() != 0 {
		t.Fatal("nil timer should be inert")
	}
}
