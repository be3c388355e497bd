// Package runner executes one seminar batch end to end: load the workbook,
// filter it, publish the snapshot and record the run.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"smartsign/internal/capture"
	"smartsign/internal/config"
	"smartsign/internal/history"
	appLog "smartsign/internal/log"
	"smartsign/internal/model"
	"smartsign/internal/pipeline"
	"smartsign/internal/sheet"
	"smartsign/internal/snapshot"
	"smartsign/internal/source"
)

// Trigger names what started a batch.
type Trigger string

const (
	TriggerSchedule Trigger = "schedule"
	TriggerManual   Trigger = "manual"
	TriggerUpload   Trigger = "upload"
	TriggerFile     Trigger = "file"
)

// Report describes a finished batch. Written is true when the snapshot file
// was replaced.
type Report struct {
	RunID     string           `json:"run_id"`
	Trigger   Trigger          `json:"trigger"`
	StartedAt time.Time        `json:"started_at"`
	Outcome   model.Outcome    `json:"outcome"`
	Schema    string           `json:"schema,omitempty"`
	Window    model.WeekWindow `json:"-"`
	Written   bool             `json:"written"`
	Stats     pipeline.Stats   `json:"stats"`
	Source    source.Meta      `json:"source"`
	Elapsed   time.Duration    `json:"-"`
}

// Deps are the collaborators of a Runner. Fetcher, History and Capturer are
// optional.
type Deps struct {
	Store    *source.Store
	Fetcher  *source.Fetcher
	History  *history.DB
	Capturer capture.Capturer
}

// Runner serializes batches within the process.
type Runner struct {
	cfg      *config.Config
	opts     pipeline.Options
	loc      *time.Location
	snapshot *snapshot.Writer
	deps     Deps

	mu sync.Mutex
}

// New builds a Runner from a normalized configuration.
func New(cfg *config.Config, deps Deps) (*Runner, error) {
	if deps.Store == nil {
		return nil, errors.New("runner: source store is required")
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
	}
	return &Runner{
		cfg:      cfg,
		opts:     PipelineOptions(cfg, loc),
		loc:      loc,
		snapshot: snapshot.NewWriter(cfg.SnapshotPath, cfg.SnapshotBOM),
		deps:     deps,
	}, nil
}

// PipelineOptions maps the configuration onto pipeline.Options.
func PipelineOptions(cfg *config.Config, loc *time.Location) pipeline.Options {
	return pipeline.Options{
		Location:           loc,
		WeekDays:           cfg.WeekDays(),
		Rollover:           cfg.RolloverToNextWeek,
		TagMarker:          cfg.TagMarker,
		SpeakerMarker:      cfg.SpeakerMarker,
		StripTitlePrefixes: cfg.StripTitlePrefixes,
		Locale:             cfg.Locale,
	}
}

// Location is the display time zone.
func (r *Runner) Location() *time.Location { return r.loc }

// SnapshotPath is where published snapshots land.
func (r *Runner) SnapshotPath() string { return r.snapshot.Path() }

// Run re-filters the stored workbook, fetching a fresh one first when a
// source URL is configured.
func (r *Runner) Run(ctx context.Context, trigger Trigger, now time.Time) (Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rep := r.newReport(trigger)

	var (
		path string
		meta source.Meta
		err  error
	)
	if r.deps.Fetcher != nil {
		var res source.FetchResult
		res, err = r.deps.Fetcher.Fetch(ctx)
		path, meta = res.Path, res.Meta
	} else {
		path, meta, err = r.deps.Store.Latest()
	}
	if err != nil {
		msg := fmt.Sprintf("no source workbook available: %v", err)
		if errors.Is(err, source.ErrNoSource) {
			msg = "no workbook has been uploaded yet"
		}
		return r.finish(ctx, rep, inputError(msg)), nil
	}
	rep.Source = meta

	table, err := sheet.ReadFile(path)
	if err != nil {
		return r.finish(ctx, rep, inputError(fmt.Sprintf("read workbook: %v", err))), nil
	}
	return r.publish(ctx, rep, table, now)
}

// RunFile processes the workbook at path without touching the stored source.
func (r *Runner) RunFile(ctx context.Context, path string, now time.Time) (Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rep := r.newReport(TriggerFile)
	rep.Source = source.Meta{OriginalName: path}

	table, err := sheet.ReadFile(path)
	if err != nil {
		return r.finish(ctx, rep, inputError(fmt.Sprintf("read workbook: %v", err))), nil
	}
	return r.publish(ctx, rep, table, now)
}

// Upload processes an uploaded workbook. A readable workbook replaces the
// stored source even when nothing in it matches, so the daily run picks it
// up; an unreadable one is discarded.
func (r *Runner) Upload(ctx context.Context, name string, body []byte, now time.Time) (Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rep := r.newReport(TriggerUpload)
	rep.Source = source.Meta{OriginalName: name}

	table, err := sheet.Read(bytes.NewReader(body))
	if err != nil {
		return r.finish(ctx, rep, inputError(fmt.Sprintf("read workbook: %v", err))), nil
	}
	if len(table.Rows) > 0 {
		meta, err := r.deps.Store.SaveBytes(body, source.Meta{OriginalName: name})
		if err != nil {
			return r.finish(ctx, rep, inputError("could not store the uploaded workbook")), fmt.Errorf("store upload: %w", err)
		}
		rep.Source = meta
	}
	return r.publish(ctx, rep, table, now)
}

func (r *Runner) newReport(trigger Trigger) Report {
	return Report{RunID: uuid.NewString(), Trigger: trigger, StartedAt: time.Now()}
}

func inputError(msg string) model.Outcome {
	return model.Outcome{Status: model.StatusInputError, Message: msg}
}

// publish runs the pipeline and replaces the snapshot when the outcome
// allows it. Callers hold r.mu.
func (r *Runner) publish(ctx context.Context, rep Report, table *model.Table, now time.Time) (Report, error) {
	res := pipeline.Process(table, now, r.opts)
	rep.Stats = res.Stats
	rep.Window = res.Window
	if res.Outcome.Status != model.StatusInputError {
		rep.Schema = res.Schema.String()
	}

	write := false
	switch res.Outcome.Status {
	case model.StatusSuccess:
		write = true
	case model.StatusNoMatches:
		write = r.cfg.BlankOnNoMatches
	}
	if !write {
		return r.finish(ctx, rep, res.Outcome), nil
	}

	if err := r.snapshot.Write(res.Seminars); err != nil {
		out := model.Outcome{Status: res.Outcome.Status, Message: "snapshot write failed", Count: res.Outcome.Count}
		return r.finish(ctx, rep, out), fmt.Errorf("write snapshot: %w", err)
	}
	rep.Written = true

	if r.cfg.ICSPath != "" {
		if err := snapshot.WriteICS(r.cfg.ICSPath, res.Seminars, r.loc, now); err != nil {
			appLog.Error("ics export failed", err, "path", r.cfg.ICSPath)
		}
	}
	if r.deps.Capturer != nil && r.cfg.Preview.URL != "" {
		r.capturePreview(ctx)
	}
	return r.finish(ctx, rep, res.Outcome), nil
}

func (r *Runner) capturePreview(ctx context.Context) {
	opts := capture.Options{
		URL:        r.cfg.Preview.URL,
		OutputPath: r.cfg.Preview.OutputPath,
		Width:      r.cfg.Preview.Width,
		Height:     r.cfg.Preview.Height,
	}
	if err := r.deps.Capturer.Capture(ctx, opts); err != nil {
		appLog.Error("preview capture failed", err, "url", opts.URL)
		return
	}
	appLog.Info("preview captured", "path", opts.OutputPath)
}

// finish logs and records the run. History failures are logged only.
func (r *Runner) finish(ctx context.Context, rep Report, out model.Outcome) Report {
	rep.Outcome = out
	rep.Elapsed = time.Since(rep.StartedAt)

	kv := []any{
		"run_id", rep.RunID,
		"trigger", string(rep.Trigger),
		"status", string(out.Status),
		"count", out.Count,
		"written", rep.Written,
	}
	if out.Status == model.StatusInputError {
		appLog.Warn("batch rejected: "+out.Message, kv...)
	} else {
		appLog.Info("batch finished: "+out.Message, kv...)
	}

	if r.deps.History == nil {
		return rep
	}
	run := history.Run{
		ID:         rep.RunID,
		Trigger:    string(rep.Trigger),
		StartedAt:  rep.StartedAt,
		FinishedAt: rep.StartedAt.Add(rep.Elapsed),
		Status:     string(out.Status),
		Message:    out.Message,
		Count:      out.Count,
		Schema:     rep.Schema,
		SourceName: rep.Source.OriginalName,
		SourceHash: rep.Source.SHA256,
		Written:    rep.Written,
	}
	if !rep.Window.Start.IsZero() {
		run.WindowStart = rep.Window.Start.Format("2006-01-02")
		run.WindowEnd = rep.Window.End.Format("2006-01-02")
	}
	if err := r.deps.History.Record(context.WithoutCancel(ctx), run); err != nil {
		appLog.Error("history record failed", err, "run_id", rep.RunID)
	}
	return rep
}
