package file

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"task-orchestrator/internal/domain"
	"task-orchestrator/internal/domain/model"
	"task-orchestrator/internal/domain/ports/repository"
	"task-orchestrator/internal/infra/db/memory"
	"task-orchestrator/internal/infra/logging"
)

var _ repository.TaskRunRepository = (*TaskRunRepo)(nil)

type document struct {
	Runs map[string]*model.TaskRun `json:"runs"`
}

// TaskRunRepo keeps every run in one JSON document that is replaced
// atomically (temp file, fsync, rename) on each write, plus an append-only
// JSONL event log. Reads are served from memory.
type TaskRunRepo struct {
	mu       sync.Mutex
	path     string
	eventLog string
	cache    *memory.TaskRunRepo
	log      *zerolog.Logger
}

// Open loads path and eventLog, creating their directories when missing.
func Open(path, eventLog string, logger *zerolog.Logger) (*TaskRunRepo, error) {
	for _, p := range []string{path, eventLog} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}
	r := &TaskRunRepo{
		path:     path,
		eventLog: eventLog,
		cache:    memory.NewTaskRunRepo(),
		log:      logging.Component(logger, "FileStore"),
	}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *TaskRunRepo) load() error {
	doc := document{Runs: map[string]*model.TaskRun{}}
	b, err := os.ReadFile(r.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return fmt.Errorf("read store: %w", err)
	case len(bytes.TrimSpace(b)) > 0:
		if err := json.Unmarshal(b, &doc); err != nil {
			return fmt.Errorf("%w: %s: %v", domain.ErrCorruptRecord, r.path, err)
		}
	}

	events, err := r.readEvents()
	if err != nil {
		return err
	}
	ctx := context.Background()
	for id, run := range doc.Runs {
		if run == nil {
			continue
		}
		run.ID = id
		if err := r.cache.Create(ctx, run, events[id]...); err != nil {
			return err
		}
	}
	r.log.Info().Int("runs", len(doc.Runs)).Str("path", r.path).Msg("store loaded")
	return nil
}

// readEvents groups the log by run. A torn last line from a crash mid-append
// is cut off so later appends start on a clean line.
func (r *TaskRunRepo) readEvents() (map[string][]model.RunEvent, error) {
	out := make(map[string][]model.RunEvent)
	f, err := os.Open(r.eventLog)
	if errors.Is(err, os.ErrNotExist) {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	rd := bufio.NewReader(f)
	var offset int64
	for line := 1; ; line++ {
		raw, err := rd.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			if len(raw) > 0 {
				r.log.Warn().Int("line", line).Msg("truncating torn event log tail")
				if terr := os.Truncate(r.eventLog, offset); terr != nil {
					return nil, fmt.Errorf("truncate event log: %w", terr)
				}
			}
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read event log: %w", err)
		}
		offset += int64(len(raw))
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		var ev model.RunEvent
		if jerr := json.Unmarshal(raw, &ev); jerr != nil {
			r.log.Warn().Int("line", line).Err(jerr).Msg("skipping unreadable event")
			continue
		}
		out[ev.RunID] = append(out[ev.RunID], ev)
	}
}

func (r *TaskRunRepo) Create(ctx context.Context, run *model.TaskRun, events ...model.RunEvent) error {
	if run == nil || run.ID == "" {
		return domain.ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.cache.Get(ctx, run.ID); err == nil {
		return fmt.Errorf("%w: run %s", domain.ErrAlreadyExists, run.ID)
	}
	if err := r.commit(ctx, run, events); err != nil {
		return err
	}
	return r.cache.Create(ctx, run, events...)
}

func (r *TaskRunRepo) Update(ctx context.Context, run *model.TaskRun, events ...model.RunEvent) error {
	if run == nil {
		return domain.ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.cache.Get(ctx, run.ID); err != nil {
		return err
	}
	if err := r.commit(ctx, run, events); err != nil {
		return err
	}
	return r.cache.Update(ctx, run, events...)
}

func (r *TaskRunRepo) Get(ctx context.Context, id string) (*model.TaskRun, error) {
	return r.cache.Get(ctx, id)
}

func (r *TaskRunRepo) List(ctx context.Context) ([]*model.TaskRun, error) {
	return r.cache.List(ctx)
}

func (r *TaskRunRepo) Events(ctx context.Context, runID string) ([]model.RunEvent, error) {
	return r.cache.Events(ctx, runID)
}

// commit appends events, then replaces the document with run swapped in.
// Caller holds r.mu.
func (r *TaskRunRepo) commit(ctx context.Context, run *model.TaskRun, events []model.RunEvent) error {
	if err := r.appendEvents(events); err != nil {
		return err
	}
	runs, err := r.cache.List(ctx)
	if err != nil {
		return err
	}
	doc := document{Runs: make(map[string]*model.TaskRun, len(runs)+1)}
	for _, existing := range runs {
		doc.Runs[existing.ID] = existing
	}
	doc.Runs[run.ID] = run
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(r.path, b)
}

func (r *TaskRunRepo) appendEvents(events []model.RunEvent) error {
	if len(events) == 0 {
		return nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, ev := range events {
		if err := enc.Encode(ev); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(r.eventLog, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		_ = f.Close()
		return fmt.Errorf("append events: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync event log: %w", err)
	}
	return f.Close()
}

// writeAtomic replaces path with b so readers see the old or the new
// document, never a mix.
func writeAtomic(path string, b []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp store: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp store: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("replace store: %w", err)
	}
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}
