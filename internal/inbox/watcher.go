// Package inbox imports bundle files dropped into a directory. Each file is
// imported once and then moved to processed/ or failed/ next to a short
// report.
package inbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/naretakis/mita-state-self-assessment-tool-sub002/internal/assessment"
	"github.com/naretakis/mita-state-self-assessment-tool-sub002/internal/bundle"
	"github.com/naretakis/mita-state-self-assessment-tool-sub002/internal/storage"
)

// Subdirectories files are moved into after an import attempt.
const (
	ProcessedDir = "processed"
	FailedDir    = "failed"
)

// Importer is the part of the assessment service the inbox needs.
type Importer interface {
	Import(ctx context.Context, src *bundle.Archive, progress assessment.ProgressFunc) (*assessment.Report, error)
}

// Result describes one processed file.
type Result struct {
	File    string
	MovedTo string
	Report  *assessment.Report
	Err     error
}

// Watcher imports files from one directory.
type Watcher struct {
	fs       *storage.FS
	imp      Importer
	log      *slog.Logger
	debounce time.Duration
	progress assessment.ProgressFunc
	onResult func(Result)
	now      func() time.Time
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(w *Watcher) { w.log = l } }

// WithDebounce sets how long a file must stay quiet before it is imported.
func WithDebounce(d time.Duration) Option { return func(w *Watcher) { w.debounce = d } }

// WithProgress forwards import progress, e.g. to the SSE broker.
func WithProgress(fn assessment.ProgressFunc) Option { return func(w *Watcher) { w.progress = fn } }

// WithResultHook is called after every processed file.
func WithResultHook(fn func(Result)) Option { return func(w *Watcher) { w.onResult = fn } }

// New prepares dir (creating it and its subdirectories) for watching.
func New(dir string, imp Importer, opts ...Option) (*Watcher, error) {
	fsys, err := storage.NewFS(dir)
	if err != nil {
		return nil, fmt.Errorf("inbox: %w", err)
	}
	for _, sub := range []string{ProcessedDir, FailedDir} {
		if err := os.MkdirAll(filepath.Join(fsys.Root(), sub), 0o755); err != nil {
			return nil, fmt.Errorf("inbox: create %s: %w", sub, err)
		}
	}
	w := &Watcher{
		fs:       fsys,
		imp:      imp,
		log:      slog.Default(),
		debounce: 500 * time.Millisecond,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Dir returns the watched directory.
func (w *Watcher) Dir() string { return w.fs.Root() }

// Scan imports every bundle file currently waiting in the directory.
func (w *Watcher) Scan(ctx context.Context) error {
	entries, err := os.ReadDir(w.fs.Root())
	if err != nil {
		return fmt.Errorf("inbox: scan: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() && candidate(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		if ctx.Err() != nil {
			return nil
		}
		w.process(ctx, name)
	}
	return nil
}

// Run scans once and then imports files as they arrive until ctx is
// cancelled. Writes to the same file restart its quiet period.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("inbox: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(w.fs.Root()); err != nil {
		return fmt.Errorf("inbox: watch %s: %w", w.fs.Root(), err)
	}
	w.log.Info("inbox: started", slog.String("dir", w.fs.Root()))

	if err := w.Scan(ctx); err != nil {
		w.log.Warn("inbox: initial scan failed", slog.String("error", err.Error()))
	}

	pending := map[string]struct{}{}
	var timer *time.Timer
	var fire <-chan time.Time
	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(w.debounce)
			fire = timer.C
			return
		}
		timer.Stop()
		timer.Reset(w.debounce)
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			w.log.Info("inbox: stopped")
			return nil

		case <-fire:
			names := make([]string, 0, len(pending))
			for name := range pending {
				names = append(names, name)
			}
			clear(pending)
			sort.Strings(names)
			for _, name := range names {
				if _, err := os.Stat(filepath.Join(w.fs.Root(), name)); err != nil {
					continue
				}
				w.process(ctx, name)
			}

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			name := filepath.Base(ev.Name)
			if filepath.Dir(ev.Name) != w.fs.Root() || !candidate(name) {
				continue
			}
			pending[name] = struct{}{}
			schedule()

		case werr, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Error("inbox: watch error", slog.String("error", werr.Error()))
		}
	}
}

// candidate reports whether name looks like a bundle file. Hidden files
// cover in-flight temp writes.
func candidate(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".json" || ext == ".zip"
}

func (w *Watcher) process(ctx context.Context, name string) {
	res := Result{File: name}
	data, err := w.fs.Get(ctx, name)
	if err == nil {
		var src *bundle.Archive
		src, err = bundle.Read(data)
		if err == nil {
			res.Report, err = w.imp.Import(ctx, src, w.progress)
		}
	}
	res.Err = err
	if ctx.Err() != nil {
		// left in place for the next start
		w.log.Warn("inbox: import interrupted", slog.String("file", name))
		return
	}

	dir := ProcessedDir
	if err != nil {
		dir = FailedDir
	}
	res.MovedTo = dir + "/" + w.now().UTC().Format("20060102T150405") + "-" + name
	if mvErr := w.fs.Move(name, res.MovedTo); mvErr != nil {
		w.log.Error("inbox: move failed", slog.String("file", name), slog.String("error", mvErr.Error()))
		res.MovedTo = ""
	} else {
		w.writeReport(ctx, res)
	}

	if err != nil {
		w.log.Warn("inbox: import failed", slog.String("file", name), slog.String("error", err.Error()))
	} else {
		w.log.Info("inbox: imported",
			slog.String("file", name),
			slog.Int("current", res.Report.Summary.ImportedAsCurrent),
			slog.Int("history", res.Report.Summary.ImportedAsHistory),
			slog.Int("skipped", res.Report.Summary.Skipped),
			slog.Int("errors", res.Report.Summary.Errors),
		)
	}
	if w.onResult != nil {
		w.onResult(res)
	}
}

func (w *Watcher) writeReport(ctx context.Context, res Result) {
	var body []byte
	if res.Err != nil {
		body = []byte(res.Err.Error() + "\n")
	} else {
		b, err := json.MarshalIndent(res.Report, "", "  ")
		if err != nil {
			return
		}
		body = append(b, '\n')
	}
	if err := w.fs.Put(ctx, res.MovedTo+".report", body); err != nil {
		w.log.Warn("inbox: write report failed", slog.String("file", res.MovedTo), slog.String("error", err.Error()))
	}
}
