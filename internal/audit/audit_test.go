package audit

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
)

func sampleLog(t *testing.T) *Log {
	t.Helper()
	l := New(42, false, map[string]any{"platform": "test"})
	appendOrFail(t, l, KindRNGSeed, Fields{"lib": "math/rand", "seed": 42})
	appendOrFail(t, l, KindBegin, Fields{"target_path": "/tmp/t.yaml", "args": []string{"a"}})
	appendOrFail(t, l, KindFileWriteClose, Fields{"path": "/tmp/out.bin", "bytes": 3, "sha256": "abc"})
	appendOrFail(t, l, KindEnd, Fields{"status": "ok"})
	return l
}

func appendOrFail(t *testing.T, l *Log, kind Kind, fields Fields) string {
	t.Helper()
	h, err := l.Append(kind, fields)
	if err != nil {
		t.Fatalf("append %s: %v", kind, err)
	}
	return h
}

func TestFirstEventChainsAgainstGenesis(t *testing.T) {
	l := New(1, false, nil)
	h := appendOrFail(t, l, KindEnd, Fields{"status": "ok"})

	m, err := l.Finalize()
	if err != nil {
		t.Fatal(err)
	}
	if h != ChainLink(GenesisHash, m.Events[0]) {
		t.Fatalf("first chain hash does not link against genesis")
	}
	if m.Events[0].ChainHash != h {
		t.Fatalf("stored chain hash %s, returned %s", m.Events[0].ChainHash, h)
	}
}

func TestSequentialAppendsProduceValidChain(t *testing.T) {
	m, err := sampleLog(t).Finalize()
	if err != nil {
		t.Fatal(err)
	}

	result := VerifyChain(m)
	if !result.Valid {
		t.Fatalf("expected valid chain, got error at %d: %s", result.ErrorIndex, result.Error)
	}
	if result.Events != 4 {
		t.Fatalf("expected 4 events, got %d", result.Events)
	}
}

func TestAppendAfterFinalizeIsForbidden(t *testing.T) {
	l := sampleLog(t)
	if _, err := l.Finalize(); err != nil {
		t.Fatal(err)
	}

	if _, err := l.Append(KindEnd, Fields{"status": "ok"}); !errors.Is(err, ErrFinalized) {
		t.Fatalf("expected ErrFinalized, got %v", err)
	}
	if _, err := l.Finalize(); !errors.Is(err, ErrFinalized) {
		t.Fatalf("expected ErrFinalized on second finalize, got %v", err)
	}
}

func TestAppendCopiesFields(t *testing.T) {
	l := New(1, false, nil)
	fields := Fields{"status": "ok"}
	appendOrFail(t, l, KindEnd, fields)
	fields["status"] = "tampered"

	m, _ := l.Finalize()
	if m.Events[0].Fields["status"] != "ok" {
		t.Fatalf("event mutated through caller map: %v", m.Events[0].Fields)
	}
	if !VerifyChain(m).Valid {
		t.Fatal("chain should still verify")
	}
}

func TestRootHashIgnoresTimingAndEnvironment(t *testing.T) {
	a, _ := sampleLog(t).Finalize()
	b, _ := sampleLog(t).Finalize()

	b.Events[2].RelativeTime += 1.5
	b.Env["platform"] = "elsewhere"
	b.StartedAt = "1999-01-01T00:00:00.000000Z"

	if RootHash(a.Events) != RootHash(b.Events) {
		t.Fatal("root hash must not depend on timing or environment")
	}
	if a.RootHash != b.RootHash {
		t.Fatalf("expected identical roots, got %s and %s", a.RootHash, b.RootHash)
	}
}

func TestMutatingAnyFieldChangesSubsequentChainAndRoot(t *testing.T) {
	original, _ := sampleLog(t).Finalize()

	for idx := range original.Events {
		for key := range original.Events[idx].Fields {
			tampered := cloneManifest(t, original)
			tampered.Events[idx].Fields[key] = "tampered"

			if VerifyChain(tampered).Valid {
				t.Fatalf("event %d field %s: tamper not detected", idx, key)
			}

			Rechain(tampered)
			for i := idx; i < len(original.Events); i++ {
				if tampered.Events[i].ChainHash == original.Events[i].ChainHash {
					t.Fatalf("event %d field %s: chain hash %d unchanged", idx, key, i)
				}
			}
			for i := 0; i < idx; i++ {
				if tampered.Events[i].ChainHash != original.Events[i].ChainHash {
					t.Fatalf("event %d field %s: earlier chain hash %d changed", idx, key, i)
				}
			}
			if tampered.RootHash == original.RootHash {
				t.Fatalf("event %d field %s: root hash unchanged", idx, key)
			}
		}
	}
}

func TestVerifyDetectsDeletedEvent(t *testing.T) {
	m, _ := sampleLog(t).Finalize()
	m.Events = append(m.Events[:1], m.Events[2:]...)

	result := VerifyChain(m)
	if result.Valid {
		t.Fatal("expected chain with deleted event to be invalid")
	}
	if result.ErrorIndex != 1 {
		t.Fatalf("expected error at event 1, got %d", result.ErrorIndex)
	}
}

func TestVerifyDetectsReorderedEvents(t *testing.T) {
	m, _ := sampleLog(t).Finalize()
	m.Events[1], m.Events[2] = m.Events[2], m.Events[1]

	result := VerifyChain(m)
	if result.Valid {
		t.Fatal("expected reordered chain to be invalid")
	}
	if result.ErrorIndex != 1 {
		t.Fatalf("expected error at event 1, got %d", result.ErrorIndex)
	}
}

func TestVerifyReportsFirstEventIndexInJSON(t *testing.T) {
	m, _ := sampleLog(t).Finalize()
	m.Events[0].Fields["seed"] = 7

	result := VerifyChain(m)
	if result.Valid || result.ErrorIndex != 0 {
		t.Fatalf("expected error at event 0, got valid=%v index=%d", result.Valid, result.ErrorIndex)
	}
	data, err := json.Marshal(result)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"error_index":0`) {
		t.Fatalf("error_index missing from %s", data)
	}
}

func TestVerifyDetectsRootOnlyTamper(t *testing.T) {
	m, _ := sampleLog(t).Finalize()
	m.RootHash = GenesisHash

	result := VerifyChain(m)
	if result.Valid {
		t.Fatal("expected root mismatch")
	}
	if result.ErrorIndex != -1 {
		t.Fatalf("expected ErrorIndex -1 for root mismatch, got %d", result.ErrorIndex)
	}
}

func TestChainSurvivesJSONRoundTrip(t *testing.T) {
	m, _ := sampleLog(t).Finalize()
	loaded := cloneManifest(t, m)

	result := VerifyChain(loaded)
	if !result.Valid {
		t.Fatalf("expected loaded manifest to verify, got: %s", result.Error)
	}
	if result.RootHash != m.RootHash {
		t.Fatalf("root changed across round trip: %s vs %s", result.RootHash, m.RootHash)
	}
}

func TestEmptyLogHasStableRoot(t *testing.T) {
	a, _ := New(1, false, nil).Finalize()
	b, _ := New(2, true, nil).Finalize()
	if a.RootHash != b.RootHash {
		t.Fatal("empty logs should share a root hash")
	}
	if !VerifyChain(a).Valid {
		t.Fatal("empty manifest should verify")
	}
}

func TestConcurrentAppendsSerialize(t *testing.T) {
	l := New(1, true, nil)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			l.Append(KindNetSend, Fields{"bytes": i, "sha256": "x"})
		}(i)
	}
	wg.Wait()

	m, _ := l.Finalize()
	if len(m.Events) != 100 {
		t.Fatalf("expected 100 events, got %d", len(m.Events))
	}
	if !VerifyChain(m).Valid {
		t.Fatal("expected valid chain after concurrent appends")
	}
}

func TestRelativeTimeIsMicrosecondRounded(t *testing.T) {
	m, _ := sampleLog(t).Finalize()
	for i, e := range m.Events {
		if roundMicros(e.RelativeTime) != e.RelativeTime {
			t.Fatalf("event %d relative_time %v not rounded", i, e.RelativeTime)
		}
		if i > 0 && e.RelativeTime < m.Events[i-1].RelativeTime {
			t.Fatalf("event %d relative_time went backwards", i)
		}
	}
}

func TestHashLineFormat(t *testing.T) {
	h := HashLine([]byte("payload"))
	if !strings.HasPrefix(h, "sha256:") {
		t.Fatalf("expected sha256: prefix, got %s", h)
	}
	if len(h) != len(GenesisHash) {
		t.Fatalf("expected %d char hash string, got %d", len(GenesisHash), len(h))
	}
}

func TestTimelineListsEveryEvent(t *testing.T) {
	m, _ := sampleLog(t).Finalize()
	out := FormatTimeline(m)

	for _, k := range []string{"rng_seed", "begin", "file_write_close", "end"} {
		if !strings.Contains(out, k) {
			t.Errorf("timeline missing %s:\n%s", k, out)
		}
	}
	if !strings.Contains(out, "status ok") {
		t.Errorf("timeline missing status:\n%s", out)
	}
}

func TestSummarizeCountsBlockedAndBytes(t *testing.T) {
	l := New(1, false, nil)
	appendOrFail(t, l, KindNetBlock, Fields{"host": "example.com", "port": 80})
	appendOrFail(t, l, KindFileOpenRead, Fields{"path": "/a", "mode": "r", "bytes": 10, "sha256": "x"})
	appendOrFail(t, l, KindFileWriteClose, Fields{"path": "/b", "bytes": 7, "sha256": "y"})
	appendOrFail(t, l, KindEnd, Fields{"status": "exception", "error": "boom"})
	m, _ := l.Finalize()

	s := Summarize(m)
	if s.Blocked != 1 || s.BytesRead != 10 || s.BytesWrite != 7 {
		t.Fatalf("unexpected summary: %+v", s)
	}
	if s.Status != "exception" || s.Error != "boom" {
		t.Fatalf("unexpected outcome: %+v", s)
	}
}

func cloneManifest(t *testing.T, m *Manifest) *Manifest {
	t.Helper()
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	var out Manifest
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		t.Fatal(err)
	}
	return &out
}
