package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/CZERTAINLY/Crawler/internal/document"
	"github.com/CZERTAINLY/Crawler/internal/log"
	"github.com/CZERTAINLY/Crawler/internal/model"
	"github.com/CZERTAINLY/Crawler/internal/service"
)

const (
	// MaxSleepRetry caps the wait after a failed pass.
	MaxSleepRetry = 30 * time.Second
	// initialRetry is the first wait after a failed pass.
	initialRetry = time.Second
)

// Stats of a single crawl pass.
type Stats struct {
	Indexed int
	Folders int
	Skipped int
	Failed  int
}

type counters struct {
	indexed atomic.Int64
	folders atomic.Int64
	skipped atomic.Int64
	failed  atomic.Int64
}

func (c *counters) stats() Stats {
	return Stats{
		Indexed: int(c.indexed.Load()),
		Folders: int(c.folders.Load()),
		Skipped: int(c.skipped.Load()),
		Failed:  int(c.failed.Load()),
	}
}

// Crawler is the worker of the local, ssh and ftp strategies. They differ
// only by the Connector used to reach the files.
type Crawler struct {
	strategy string
	settings model.Settings
	loop     int
	docs     service.DocumentService
	recorder Recorder
	connect  Connector
	monitor  *Monitor
	schedule model.Schedule
	filter   filter
	opts     document.Options
	retry    backoff.BackOff
	now      func() time.Time
}

func newCrawler(strategy string, deps Deps, connect Connector) (Worker, error) {
	if deps.Documents == nil {
		return nil, errors.New("document service is nil")
	}
	schedule, err := model.NewSchedule(deps.Settings.Fs)
	if err != nil {
		return nil, err
	}
	filter, err := newFilter(deps.Settings.Fs.Includes, deps.Settings.Fs.Excludes)
	if err != nil {
		return nil, err
	}

	retry := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(initialRetry),
		backoff.WithMaxInterval(MaxSleepRetry),
		backoff.WithMaxElapsedTime(0),
	)

	fs := deps.Settings.Fs
	return &Crawler{
		strategy: strategy,
		settings: deps.Settings,
		loop:     deps.Loop,
		docs:     deps.Documents,
		recorder: deps.Recorder,
		connect:  connect,
		monitor:  NewMonitor(),
		schedule: schedule,
		filter:   filter,
		opts: document.Options{
			Checksum:     fs.Checksum,
			IndexContent: fs.IndexContent,
			AddFilesize:  fs.AddFilesize,
			IgnoreAbove:  fs.IgnoreAbove,
			JSONSupport:  fs.JSONSupport,
			XMLSupport:   fs.XMLSupport,
		},
		retry: retry,
		now:   time.Now,
	}, nil
}

func (c *Crawler) Monitor() *Monitor { return c.monitor }
func (c *Crawler) Strategy() string  { return c.strategy }

// Run executes crawl passes until the run count is reached or the monitor
// is closed. A failed pass is followed by an exponential backoff wait capped
// at MaxSleepRetry and counts towards the run count. Run returns the error of
// the last completed pass, a pass interrupted by Close is recorded as failed
// but does not change the returned error.
func (c *Crawler) Run(ctx context.Context) error {
	ctx = log.ContextAttrs(ctx, slog.String("strategy", c.strategy))
	var lastErr error
	for run := 1; ; run++ {
		if c.monitor.Closed() {
			slog.DebugContext(ctx, "crawler closed: exiting", "run", run)
			return lastErr
		}

		started := c.now()
		stats, err := c.recordPass(ctx)
		if errors.Is(err, ErrClosed) {
			slog.InfoContext(ctx, "crawl pass interrupted",
				"run", run,
				"indexed", stats.Indexed,
				"took", c.now().Sub(started).String())
			return lastErr
		}
		lastErr = err

		var wait time.Duration
		if err != nil {
			wait = min(c.retry.NextBackOff(), MaxSleepRetry)
			slog.WarnContext(ctx, "crawl pass failed",
				"run", run,
				"error", err,
				"retry_in", wait.String())
		} else {
			c.retry.Reset()
			now := c.now()
			wait = c.schedule.Next(now).Sub(now)
			slog.InfoContext(ctx, "crawl pass done",
				"run", run,
				"indexed", stats.Indexed,
				"folders", stats.Folders,
				"skipped", stats.Skipped,
				"failed", stats.Failed,
				"took", c.now().Sub(started).String())
		}

		if c.loop > 0 && run >= c.loop {
			slog.DebugContext(ctx, "run count reached", "loop", c.loop)
			return lastErr
		}

		slog.DebugContext(ctx, "waiting for next pass", "wait", wait.String())
		if !c.monitor.Wait(ctx, wait) {
			slog.DebugContext(ctx, "crawler closed while waiting", "run", run)
			return lastErr
		}
	}
}

func (c *Crawler) recordPass(ctx context.Context) (Stats, error) {
	if c.recorder == nil {
		return c.pass(ctx)
	}
	id, err := c.recorder.StartRun(ctx)
	if err != nil {
		slog.WarnContext(ctx, "can't record crawl pass", "error", err)
		return c.pass(ctx)
	}
	stats, passErr := c.pass(ctx)
	if err := c.recorder.FinishRun(ctx, id, stats.Indexed, stats.Failed, passErr); err != nil {
		slog.WarnContext(ctx, "can't record crawl pass result", "run_id", id, "error", err)
	}
	return stats, passErr
}

// pass crawls the whole tree once. Files are read by the calling goroutine,
// documents are submitted by up to fs.workers goroutines. A failed
// submission aborts the pass.
func (c *Crawler) pass(ctx context.Context) (Stats, error) {
	var cnt counters
	fa, err := c.connect(ctx)
	if err != nil {
		return cnt.stats(), fmt.Errorf("connecting to %s: %w", c.strategy, err)
	}
	defer func() {
		if err := fa.Close(); err != nil {
			slog.WarnContext(ctx, "closing file abstractor", "error", err)
		}
	}()

	root := fa.Root()
	ok, err := fa.Exists(ctx, root)
	if err != nil {
		return cnt.stats(), fmt.Errorf("checking crawl root %s: %w", c.settings.Fs.URL, err)
	}
	if !ok {
		return cnt.stats(), fmt.Errorf("%w: %s", ErrRootNotFound, c.settings.Fs.URL)
	}

	workers := c.settings.Fs.Workers
	if workers <= 0 {
		workers = model.DefaultWorkers
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	p := passState{c: c, fa: fa, g: g, gctx: gctx, cnt: &cnt}
	if c.settings.Fs.IndexFolders {
		p.folder(FileInfo{Name: path.Base(c.settings.Fs.URL), Path: root, Dir: true}, "/")
	}
	walkErr := p.walk(ctx, root, "/")
	waitErr := g.Wait()
	return cnt.stats(), errors.Join(walkErr, waitErr)
}

type passState struct {
	c    *Crawler
	fa   FileAbstractor
	g    *errgroup.Group
	gctx context.Context
	cnt  *counters
}

func (p passState) walk(ctx context.Context, dir, virtual string) error {
	entries, err := p.fa.List(ctx, dir)
	if err != nil {
		return fmt.Errorf("listing %s: %w", dir, err)
	}
	for _, entry := range entries {
		if p.c.monitor.Closed() {
			return ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if p.gctx.Err() != nil {
			// g.Wait reports the failed submission
			return nil
		}
		childVirtual := path.Join(virtual, entry.Name)
		if entry.Dir {
			if !p.c.filter.dir(childVirtual, entry.Name) {
				p.cnt.skipped.Add(1)
				continue
			}
			if p.c.settings.Fs.IndexFolders {
				p.folder(entry, childVirtual)
			}
			if err := p.walk(ctx, entry.Path, childVirtual); err != nil {
				if errors.Is(err, ErrClosed) || ctx.Err() != nil {
					return err
				}
				slog.WarnContext(ctx, "can't crawl directory: skipping", "dir", childVirtual, "error", err)
				p.cnt.failed.Add(1)
			}
			continue
		}
		if !p.c.filter.file(childVirtual, entry.Name) {
			p.cnt.skipped.Add(1)
			continue
		}
		p.file(ctx, entry, childVirtual)
	}
	return nil
}

func (p passState) meta(entry FileInfo, virtual string) document.Meta {
	return document.Meta{
		Name:    entry.Name,
		Root:    p.c.settings.Fs.URL,
		Virtual: virtual,
		Real:    path.Join(p.c.settings.Fs.URL, virtual),
		Size:    entry.Size,
		ModTime: entry.ModTime,
		Mode:    entry.Mode,
		Owner:   entry.Owner,
		Group:   entry.Group,
	}
}

func (p passState) folder(entry FileInfo, virtual string) {
	meta := p.meta(entry, virtual)
	folder := document.BuildFolder(meta, p.c.now())
	p.submit(p.c.settings.IndexFolder(), document.ID(meta.Real), folder, p.cnt.folders.Add)
}

func (p passState) file(ctx context.Context, entry FileInfo, virtual string) {
	meta := p.meta(entry, virtual)
	var content []byte
	if p.c.opts.NeedsContent() && !p.tooBig(entry) {
		var err error
		content, err = p.read(ctx, entry.Path)
		if err != nil {
			slog.WarnContext(ctx, "can't read file: skipping", "path", virtual, "error", err)
			p.cnt.failed.Add(1)
			return
		}
	}
	doc, err := document.Build(meta, content, p.c.opts, p.c.now())
	if errors.Is(err, document.ErrTooBig) {
		slog.DebugContext(ctx, "file above ignore_above: skipping", "path", virtual, "size", entry.Size)
		p.cnt.skipped.Add(1)
		return
	}
	if err != nil {
		slog.WarnContext(ctx, "can't build document: skipping", "path", virtual, "error", err)
		p.cnt.failed.Add(1)
		return
	}
	p.submit(p.c.settings.Index(), document.ID(meta.Real), doc, p.cnt.indexed.Add)
}

func (p passState) tooBig(entry FileInfo) bool {
	limit := p.c.opts.IgnoreAbove
	return limit != nil && entry.Size > *limit
}

func (p passState) read(ctx context.Context, name string) ([]byte, error) {
	r, err := p.fa.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	b, err := io.ReadAll(r)
	closeErr := r.Close()
	if err != nil {
		return nil, err
	}
	return b, closeErr
}

func (p passState) submit(index, id string, doc any, done func(int64) int64) {
	p.g.Go(func() error {
		if err := p.c.docs.Index(p.gctx, index, id, doc); err != nil {
			p.cnt.failed.Add(1)
			return err
		}
		done(1)
		return nil
	})
}
