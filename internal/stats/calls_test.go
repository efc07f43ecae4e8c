package stats

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestCallStats_Snapshot(t *testing.T) {
	s := NewCallStats(0)

	for i := 1; i <= 100; i++ {
		s.Record("find", time.Duration(i)*time.Millisecond, nil)
	}
	s.Record("go", 200*time.Millisecond, nil)
	s.Record("go", 300*time.Millisecond, errors.New("net::ERR_NAME_NOT_RESOLVED"))

	snap := s.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("len(Snapshot()) = %d, want 2", len(snap))
	}
	if snap[0].Method != "find" || snap[1].Method != "go" {
		t.Errorf("methods not sorted: %q, %q", snap[0].Method, snap[1].Method)
	}

	find := snap[0]
	if find.Count != 100 || find.Errors != 0 {
		t.Errorf("find count=%d errors=%d", find.Count, find.Errors)
	}
	if find.Max != 100*time.Millisecond {
		t.Errorf("find max = %v, want 100ms", find.Max)
	}
	if find.Last != 100*time.Millisecond {
		t.Errorf("find last = %v, want 100ms", find.Last)
	}
	// t-digest is approximate
	if find.P50 < 45*time.Millisecond || find.P50 > 55*time.Millisecond {
		t.Errorf("find P50 = %v, want ~50ms", find.P50)
	}
	if find.P99 < 95*time.Millisecond || find.P99 > 101*time.Millisecond {
		t.Errorf("find P99 = %v, want ~99ms", find.P99)
	}

	goStats := snap[1]
	if goStats.Errors != 1 {
		t.Errorf("go errors = %d, want 1", goStats.Errors)
	}
	if rate := goStats.ErrorRate(); rate != 0.5 {
		t.Errorf("go ErrorRate() = %v, want 0.5", rate)
	}
	if s.Total() != 102 {
		t.Errorf("Total() = %d, want 102", s.Total())
	}
}

func TestMethodStats_ErrorRateZero(t *testing.T) {
	if rate := (MethodStats{}).ErrorRate(); rate != 0 {
		t.Errorf("ErrorRate() = %v, want 0", rate)
	}
}

func TestCallStats_RecentCalls(t *testing.T) {
	s := NewCallStats(3)

	if got := s.RecentCalls(); len(got) != 0 {
		t.Fatalf("RecentCalls() on empty = %v", got)
	}

	s.Record("a", time.Millisecond, nil)
	s.Record("b", time.Millisecond, errors.New("boom"))

	got := s.RecentCalls()
	if len(got) != 2 || got[0].Method != "b" || got[1].Method != "a" {
		t.Fatalf("RecentCalls() = %+v", got)
	}
	if got[0].Err != "boom" || got[1].Err != "" {
		t.Errorf("Err fields = %q, %q", got[0].Err, got[1].Err)
	}

	s.Record("c", time.Millisecond, nil)
	s.Record("d", time.Millisecond, nil)

	got = s.RecentCalls()
	want := []string{"d", "c", "b"}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].Method != w {
			t.Errorf("RecentCalls()[%d] = %q, want %q", i, got[i].Method, w)
		}
	}
}

func TestCallStats_Concurrent(t *testing.T) {
	s := NewCallStats(10)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				s.Record(fmt.Sprintf("m%d", g%2), time.Duration(i)*time.Microsecond, nil)
				_ = s.Snapshot()
			}
		}(g)
	}
	wg.Wait()

	if s.Total() != 800 {
		t.Errorf("Total() = %d, want 800", s.Total())
	}
	var sum int64
	for _, m := range s.Snapshot() {
		sum += m.Count
	}
	if sum != 800 {
		t.Errorf("sum of counts = %d, want 800", sum)
	}
}
