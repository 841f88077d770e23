package id

import (
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestGenerate(t *testing.T) {
	gen := NewGenerator()

	id1 := gen.Generate()
	id2 := gen.Generate()

	if id1.String() == id2.String() {
		t.Error("Generated IDs should be unique")
	}
	if id1.Compare(id2) >= 0 {
		t.Error("Generated IDs should be strictly increasing")
	}
}

func TestGenerateWithPrefix(t *testing.T) {
	gen := NewGenerator()

	for _, prefix := range []string{ProcessPrefix, RequestPrefix} {
		id := gen.GenerateWithPrefix(prefix)

		if !strings.HasPrefix(id, prefix+"_") {
			t.Errorf("ID should start with '%s_', got: %s", prefix, id)
		}

		parts := strings.Split(id, "_")
		if len(parts) != 2 {
			t.Fatalf("Prefixed ID should have format 'prefix_ulid', got: %s", id)
		}
		if !IsValid(parts[1]) {
			t.Errorf("ULID part should be valid: %s", parts[1])
		}
	}
}

func TestProcessIDNeverRepeats(t *testing.T) {
	gen := NewGenerator()
	seen := make(map[ProcessID]bool)

	for i := 0; i < 1000; i++ {
		pid := gen.NewProcessID()
		if seen[pid] {
			t.Fatalf("process id %s handed out twice", pid)
		}
		seen[pid] = true
	}
}

func TestParseProcessID(t *testing.T) {
	pid := NewProcessID()

	parsed, err := ParseProcessID(pid.String())
	if err != nil {
		t.Fatalf("ParseProcessID failed: %v", err)
	}
	if parsed != pid {
		t.Errorf("Expected %s, got %s", pid, parsed)
	}

	for _, reserved := range []ProcessID{Owner, Any, Kernel, Myself} {
		if _, err := ParseProcessID(string(reserved)); err != nil {
			t.Errorf("reserved id %s should parse: %v", reserved, err)
		}
	}

	for _, bad := range []string{"", "proc_", "req_01ARZ3NDEKTSV4RRFFQ69G5FAV", "proc_notaulid"} {
		if _, err := ParseProcessID(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestIsReserved(t *testing.T) {
	if !Owner.IsReserved() || !Invalid.IsReserved() {
		t.Error("Owner and Invalid should be reserved")
	}
	if NewProcessID().IsReserved() {
		t.Error("generated ids are never reserved")
	}
}

func TestTimestamp(t *testing.T) {
	before := time.Now().Add(-time.Second)
	pid := NewProcessID()

	ts, err := Timestamp(pid.String())
	if err != nil {
		t.Fatalf("Timestamp failed: %v", err)
	}
	if ts.Before(before) {
		t.Errorf("timestamp %v is older than %v", ts, before)
	}
}

func TestSessionID(t *testing.T) {
	s1 := NewSessionID()
	s2 := NewSessionID()

	if !strings.HasPrefix(s1.String(), SessionPrefix+"_") {
		t.Errorf("session id should be prefixed, got %s", s1)
	}
	if s1 == s2 {
		t.Error("session ids should be unique")
	}
}

func TestConcurrentGeneration(t *testing.T) {
	gen := NewGenerator()
	const workers, perWorker = 8, 200

	var (
		mu  sync.Mutex
		ids []string
		wg  sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]string, 0, perWorker)
			for i := 0; i < perWorker; i++ {
				local = append(local, gen.GenerateString())
			}
			mu.Lock()
			ids = append(ids, local...)
			mu.Unlock()
		}()
	}
	wg.Wait()

	sort.Strings(ids)
	for i := 1; i < len(ids); i++ {
		if ids[i] == ids[i-1] {
			t.Fatalf("duplicate id %s", ids[i])
		}
	}
}

func BenchmarkNewProcessID(b *testing.B) {
	gen := NewGenerator()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = gen.NewProcessID()
	}
}
