package runner

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"smartsign/internal/capture"
	"smartsign/internal/config"
	"smartsign/internal/history"
	"smartsign/internal/model"
	"smartsign/internal/snapshot"
	"smartsign/internal/source"
)

// Wednesday; the Mon-Fri window is 2025-09-01..2025-09-05.
var testNow = time.Date(2025, 9, 3, 10, 0, 0, 0, time.UTC)

type fakeCapturer struct {
	mu    sync.Mutex
	calls []capture.Options
}

func (f *fakeCapturer) Capture(_ context.Context, opts capture.Options) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, opts)
	return nil
}

type fixture struct {
	cfg     *config.Config
	store   *source.Store
	history *history.DB
	capt    *fakeCapturer
	runner  *Runner
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Timezone = "UTC"
	cfg.SnapshotPath = filepath.Join(dir, "public", "seminarier.csv")
	cfg.ICSPath = filepath.Join(dir, "public", "seminars.ics")
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.HistoryPath = filepath.Join(dir, "history.sqlite")
	cfg.Preview.URL = "http://127.0.0.1:8080/"
	if mutate != nil {
		mutate(cfg)
	}
	cfg.Normalize()

	db, err := history.Open(cfg.HistoryPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		cfg:     cfg,
		store:   source.NewStore(cfg.DataDir),
		history: db,
		capt:    &fakeCapturer{},
	}
	f.runner, err = New(cfg, Deps{Store: f.store, History: db, Capturer: f.capt})
	if err != nil {
		t.Fatal(err)
	}
	return f
}

// workbook builds a simple-layout .xlsx in memory.
func workbook(t *testing.T, rows ...[]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", "Data"); err != nil {
		t.Fatal(err)
	}
	all := append([][]any{{"Title", "Date", "Time", "Speaker", "Location", "Tag(s)"}}, rows...)
	for i, row := range all {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		values := row
		if err := f.SetSheetRow("Data", cell, &values); err != nil {
			t.Fatal(err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func weekWorkbook(t *testing.T) []byte {
	return workbook(t,
		[]any{"Quantum Effects", "2025-09-04", "13:15", "Jane Doe", "FR4", "website"},
		[]any{"Internal meeting", "2025-09-04", "09:00", "", "B2", "internal"},
		[]any{"Ada Lovelace: Engines", "2025-09-05", "10:00-11:00", "", "Aula", "website, news"},
	)
}

func TestUpload_PublishesSnapshot(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	rep, err := f.runner.Upload(ctx, "export.xlsx", weekWorkbook(t), testNow)
	if err != nil {
		t.Fatalf("Upload returned error: %v", err)
	}
	if rep.Outcome.Status != model.StatusSuccess || rep.Outcome.Count != 2 || !rep.Written {
		t.Fatalf("report = %+v", rep)
	}
	if rep.RunID == "" || rep.Schema != "simple" {
		t.Errorf("RunID=%q Schema=%q", rep.RunID, rep.Schema)
	}

	got, err := snapshot.ReadFile(f.cfg.SnapshotPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Title != "Quantum Effects" || got[1].Speaker != "Ada Lovelace" || got[1].Title != "Engines" {
		t.Errorf("snapshot = %+v", got)
	}

	if _, err := os.Stat(f.cfg.ICSPath); err != nil {
		t.Errorf("ICS not written: %v", err)
	}
	if _, meta, err := f.store.Latest(); err != nil || meta.OriginalName != "export.xlsx" {
		t.Errorf("stored source = %+v, %v", meta, err)
	}
	if len(f.capt.calls) != 1 || f.capt.calls[0].URL != f.cfg.Preview.URL {
		t.Errorf("capture calls = %+v", f.capt.calls)
	}

	runs, err := f.history.Recent(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].ID != rep.RunID || runs[0].Trigger != "upload" || runs[0].WindowStart != "2025-09-01" {
		t.Errorf("history = %+v", runs)
	}
}

func TestInputErrorLeavesSnapshotUnchanged(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if _, err := f.runner.Upload(ctx, "export.xlsx", weekWorkbook(t), testNow); err != nil {
		t.Fatal(err)
	}
	before, _ := os.ReadFile(f.cfg.SnapshotPath)

	headerOnly := workbook(t)
	rep, err := f.runner.Upload(ctx, "empty.xlsx", headerOnly, testNow)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Outcome.Status != model.StatusInputError || rep.Written {
		t.Errorf("report = %+v, want unwritten input-error", rep)
	}

	rep, err = f.runner.Upload(ctx, "garbage.xlsx", []byte("not a workbook"), testNow)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Outcome.Status != model.StatusInputError {
		t.Errorf("garbage upload status = %s", rep.Outcome.Status)
	}

	after, _ := os.ReadFile(f.cfg.SnapshotPath)
	if !bytes.Equal(before, after) {
		t.Error("snapshot changed after input-error")
	}
	if _, meta, _ := f.store.Latest(); meta.OriginalName != "export.xlsx" {
		t.Errorf("stored source replaced by %q", meta.OriginalName)
	}
}

func TestRun_RefiltersStoredSource(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	rep, err := f.runner.Run(ctx, TriggerSchedule, testNow)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Outcome.Status != model.StatusInputError {
		t.Errorf("run without source = %s, want input-error", rep.Outcome.Status)
	}

	if _, err := f.store.SaveBytes(weekWorkbook(t), source.Meta{OriginalName: "export.xlsx"}); err != nil {
		t.Fatal(err)
	}
	rep, err = f.runner.Run(ctx, TriggerSchedule, testNow)
	if err != nil || rep.Outcome.Status != model.StatusSuccess {
		t.Fatalf("scheduled run = %+v, %v", rep, err)
	}
	before, _ := os.ReadFile(f.cfg.SnapshotPath)

	// Next Tuesday: every stored seminar is in the past.
	rep, err = f.runner.Run(ctx, TriggerSchedule, testNow.AddDate(0, 0, 6))
	if err != nil {
		t.Fatal(err)
	}
	if rep.Outcome.Status != model.StatusNoMatches || rep.Written {
		t.Errorf("report = %+v, want unwritten no-matches", rep)
	}
	after, _ := os.ReadFile(f.cfg.SnapshotPath)
	if !bytes.Equal(before, after) {
		t.Error("no-matches replaced the snapshot")
	}
}

func TestRun_BlankOnNoMatches(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.BlankOnNoMatches = true })
	ctx := context.Background()

	if _, err := f.runner.Upload(ctx, "export.xlsx", weekWorkbook(t), testNow); err != nil {
		t.Fatal(err)
	}
	rep, err := f.runner.Run(ctx, TriggerManual, testNow.AddDate(0, 0, 6))
	if err != nil {
		t.Fatal(err)
	}
	if rep.Outcome.Status != model.StatusNoMatches || !rep.Written {
		t.Errorf("report = %+v, want written no-matches", rep)
	}
	got, err := snapshot.ReadFile(f.cfg.SnapshotPath)
	if err != nil || len(got) != 0 {
		t.Errorf("snapshot = %+v, %v; want header only", got, err)
	}
	if len(f.capt.calls) != 2 {
		t.Errorf("capture calls = %d, want 2", len(f.capt.calls))
	}
}

func TestRunFile(t *testing.T) {
	f := newFixture(t, nil)
	path := filepath.Join(t.TempDir(), "local.xlsx")
	if err := os.WriteFile(path, weekWorkbook(t), 0o600); err != nil {
		t.Fatal(err)
	}

	rep, err := f.runner.RunFile(context.Background(), path, testNow)
	if err != nil || rep.Outcome.Status != model.StatusSuccess {
		t.Fatalf("RunFile = %+v, %v", rep, err)
	}
	if _, _, err := f.store.Latest(); err != source.ErrNoSource {
		t.Errorf("RunFile touched the store: %v", err)
	}

	rep, _ = f.runner.RunFile(context.Background(), filepath.Join(t.TempDir(), "missing.xlsx"), testNow)
	if rep.Outcome.Status != model.StatusInputError {
		t.Errorf("missing file status = %s", rep.Outcome.Status)
	}
}

func TestWriteFailureIsReported(t *testing.T) {
	f := newFixture(t, nil)
	// A non-empty directory where the snapshot should go.
	if err := os.MkdirAll(filepath.Join(f.cfg.SnapshotPath, "x"), 0o755); err != nil {
		t.Fatal(err)
	}

	rep, err := f.runner.Upload(context.Background(), "export.xlsx", weekWorkbook(t), testNow)
	if err == nil {
		t.Fatal("expected write error")
	}
	if rep.Written {
		t.Error("report claims the snapshot was written")
	}
	if len(f.capt.calls) != 0 {
		t.Error("preview captured after a failed write")
	}
}

func TestNew_BadTimezone(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Timezone = "Mars/Olympus_Mons"
	if _, err := New(cfg, Deps{Store: source.NewStore(t.TempDir())}); err == nil {
		t.Error("expected error for unknown timezone")
	}
	if _, err := New(config.DefaultConfig(), Deps{}); err == nil {
		t.Error("expected error without a store")
	}
}
