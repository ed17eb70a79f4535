// Copyright 2025 CEA DTC
// Use of this source code is governed by the BSD 3-clause
// license that can be found in the LICENSE file.

// Package watch converts raw exposures as they appear in a data
// directory and runs a configured list of reductions on each result.
// Start and stop go through the context: cancel it and Run returns.
package watch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"github.com/cea-dtc/saxsnx/edf"
	"github.com/cea-dtc/saxsnx/reduce"
)

// logger resolves at call time so log lines go through whatever handler
// the program has installed by then.
func logger() *slog.Logger { return slog.Default().With("service", "watch") }

// settleDelay gives the acquisition software time to finish writing a
// file after its create event fires.
const settleDelay = 200 * time.Millisecond

// Watcher converts new .edf files from Dir and applies Ops to each
// converted container.  Per-file failures are logged and skipped; the
// watcher keeps running.
type Watcher struct {
	Dir      string
	Settings edf.Settings
	Ops      []string // registered operation names, run with defaults
}

// Run processes the existing backlog, then watches Dir until the
// context is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.backlog(ctx); err != nil {
		return err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()
	if err := fw.Add(w.Dir); err != nil {
		return err
	}
	logger().Info("watching", "dir", w.Dir)

	// Each file settles on its own timer so the event loop never
	// stalls; cancellation cuts a pending settle short.
	var settling sync.WaitGroup
	defer settling.Wait()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) || !isEDF(event.Name) {
				continue
			}
			settling.Add(1)
			go func(path string) {
				defer settling.Done()
				select {
				case <-ctx.Done():
					return
				case <-time.After(settleDelay):
				}
				w.handle(path)
			}(event.Name)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logger().Error("watch error", "err", err)
		}
	}
}

// backlog converts files already present when the watcher starts,
// a few at a time.
func (w *Watcher) backlog(ctx context.Context) error {
	entries, err := os.ReadDir(w.Dir)
	if err != nil {
		return err
	}
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, e := range entries {
		if e.IsDir() || !isEDF(e.Name()) {
			continue
		}
		path := filepath.Join(w.Dir, e.Name())
		g.Go(func() error {
			w.handle(path)
			return nil
		})
	}
	return g.Wait()
}

func (w *Watcher) handle(path string) {
	out, err := edf.Convert(path, w.Settings)
	if err != nil {
		logger().Error("convert failed", "file", path, "err", err)
		return
	}
	if len(w.Ops) == 0 {
		return
	}
	m, err := reduce.OpenFiles(out)
	if err != nil {
		logger().Error("open failed", "file", out, "err", err)
		return
	}
	for _, op := range w.Ops {
		args := reduce.NewArgs()
		args.Save = true
		if err := m.Run(op, args); err != nil {
			logger().Error("reduction failed", "file", out, "op", op, "err", err)
		}
	}
	if err := m.CloseAll(); err != nil {
		logger().Error("close failed", "file", out, "err", err)
	}
}

func isEDF(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".edf")
}
