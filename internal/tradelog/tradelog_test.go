package tradelog

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"permp-mm/pkg/types"
)

func TestRecordFillAppendsToDayFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	r, err := New(dir, "BTC-PERP")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer r.Close()

	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		rec := types.FillRecord{
			Timestamp: ts,
			Symbol:    "BTC-PERP",
			Side:      types.Bid,
			Price:     decimal.NewFromInt(100),
			Size:      decimal.NewFromInt(1),
		}
		if err := r.RecordFill(rec); err != nil {
			t.Fatalf("RecordFill() error = %v", err)
		}
	}

	path := filepath.Join(dir, "BTC-PERP-2026-03-01.jsonl")
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("expected day file at %s: %v", path, err)
	}
	defer f.Close()

	lines := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines++
	}
	if lines != 3 {
		t.Errorf("file has %d lines, want 3", lines)
	}
}

func TestRecordRollsOverOnDayChange(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	r, err := New(dir, "ETH-PERP")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer r.Close()

	day1 := time.Date(2026, 3, 1, 23, 59, 59, 0, time.UTC)
	day2 := time.Date(2026, 3, 2, 0, 0, 1, 0, time.UTC)

	if err := r.RecordSnapshot(types.SnapshotRecord{Timestamp: day1, Symbol: "ETH-PERP"}); err != nil {
		t.Fatal(err)
	}
	if err := r.RecordSnapshot(types.SnapshotRecord{Timestamp: day2, Symbol: "ETH-PERP"}); err != nil {
		t.Fatal(err)
	}

	for _, day := range []string{"2026-03-01", "2026-03-02"} {
		path := filepath.Join(dir, "ETH-PERP-"+day+".jsonl")
		if _, err := os.Stat(path); err != nil {
			t.Errorf("expected file for day %s: %v", day, err)
		}
	}
}
