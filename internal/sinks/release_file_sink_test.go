package sinks

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"m2stream/internal/scheduler"
)

func TestReleaseFileSink_AppendAndReadBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "releases.jsonl")
	s, err := NewReleaseFileSink(path, time.Hour)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	s.OnRelease(scheduler.Release{Header: 0xAA, Timestamp: 1000, ReleasedAt: 1000, Frames: 4})
	s.OnRelease(scheduler.Release{Header: 0xBB, Timestamp: 2000, ReleasedAt: 2600, Frames: 4, Late: true})

	// nothing flushed yet with a long flush interval
	if info, _ := os.Stat(path); info.Size() != 0 {
		t.Fatalf("expected buffered writes, file has %d bytes", info.Size())
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	recs, err := ReadAllReleases(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records", len(recs))
	}
	if recs[0].Seq != 1 || recs[0].Header != 0xAA || recs[0].LatenessNs != 0 || recs[0].Late {
		t.Fatalf("record 0: %+v", recs[0])
	}
	if recs[1].Seq != 2 || recs[1].LatenessNs != 600 || !recs[1].Late || recs[1].Frames != 4 {
		t.Fatalf("record 1: %+v", recs[1])
	}
}

func TestReadAllReleases_SkipsMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "releases.jsonl")
	body := "{\"seq\":1,\"header\":5}\nnot json\n{\"seq\":2}\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	recs, err := ReadAllReleases(path)
	if err != nil || len(recs) != 2 || recs[0].Header != 5 {
		t.Fatalf("got %+v err=%v", recs, err)
	}
	if _, err := ReadAllReleases(filepath.Join(t.TempDir(), "none")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
