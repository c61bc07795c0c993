// Package storewatch reports modifications made to the resource store while
// the server runs. The store is treated as immutable after startup, so any
// change is logged at Warn; nothing is cached and nothing is invalidated.
package storewatch

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/fsnotify/fsnotify"

	"github.com/Tener/ggp-aps/internal/log"
	"github.com/Tener/ggp-aps/internal/xerrors"
)

// Operation labels passed to OnChange.
const (
	OpCreate = "create"
	OpWrite  = "write"
	OpRemove = "remove"
	OpRename = "rename"
)

type Options struct {
	Logger log.Logger
	Root   string

	// OnChange is called once per reported event; may be nil.
	OnChange func(op string)
}

type Watcher struct {
	w        *fsnotify.Watcher
	logger   log.Logger
	onChange func(string)
	done     chan struct{}
	once     sync.Once
}

// Start watches Root and every directory beneath it until ctx is done or
// Close is called.
func Start(ctx context.Context, opts Options) (*Watcher, error) {
	if opts.Root == "" {
		return nil, xerrors.New("storewatch: Root is empty")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.OnChange == nil {
		opts.OnChange = func(string) {}
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, xerrors.Wrap(err, "create fsnotify watcher")
	}
	sw := &Watcher{w: fw, logger: opts.Logger, onChange: opts.OnChange, done: make(chan struct{})}

	n, err := sw.addTree(ctx, opts.Root)
	if err != nil {
		_ = fw.Close()
		return nil, err
	}
	opts.Logger.Info(ctx, "watching resource store for modifications", "root", opts.Root, "dirs", n)

	go sw.loop(ctx)
	return sw, nil
}

// Close stops the watcher and waits for the event loop to exit.
func (sw *Watcher) Close() error {
	var err error
	sw.once.Do(func() { err = sw.w.Close() })
	<-sw.done
	return err
}

func (sw *Watcher) loop(ctx context.Context) {
	defer close(sw.done)
	for {
		select {
		case <-ctx.Done():
			sw.once.Do(func() { _ = sw.w.Close() })
			return
		case ev, ok := <-sw.w.Events:
			if !ok {
				return
			}
			sw.handle(ctx, ev)
		case err, ok := <-sw.w.Errors:
			if !ok {
				return
			}
			sw.logger.Warn(ctx, "resource store watch error", "err", err)
		}
	}
}

func (sw *Watcher) handle(ctx context.Context, ev fsnotify.Event) {
	op := opName(ev.Op)
	if op == "" {
		return
	}

	// new directories are watched too, so later changes inside them show up
	if op == OpCreate {
		if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
			if _, err := sw.addTree(ctx, ev.Name); err != nil {
				sw.logger.Warn(ctx, "could not watch new store directory", "path", ev.Name, "err", err)
			}
		}
	}

	sw.logger.Warn(ctx, "resource store modified while serving", "op", op, "path", ev.Name)
	sw.onChange(op)
}

// opName maps an event to one label; chmod alone is ignored.
func opName(op fsnotify.Op) string {
	switch {
	case op.Has(fsnotify.Create):
		return OpCreate
	case op.Has(fsnotify.Remove):
		return OpRemove
	case op.Has(fsnotify.Rename):
		return OpRename
	case op.Has(fsnotify.Write):
		return OpWrite
	}
	return ""
}

// addTree watches dir and its subdirectories and returns how many were
// added. Hitting the inotify limit stops the walk with a warning; the root
// itself must be watchable.
func (sw *Watcher) addTree(ctx context.Context, dir string) (int, error) {
	if err := sw.w.Add(dir); err != nil {
		return 0, xerrors.Wrapf(err, "watch %s", dir)
	}
	n := 1
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			sw.logger.Warn(ctx, "skipping unreadable store path", "path", p, "err", err)
			return nil
		}
		if p == dir || !d.IsDir() {
			return nil
		}
		if err := sw.w.Add(p); err != nil {
			if errors.Is(err, syscall.ENOSPC) {
				sw.logger.Warn(ctx, "inotify watch limit reached, deeper store directories are not watched",
					"stopped_at", p, "hint", "raise fs.inotify.max_user_watches")
				return filepath.SkipAll
			}
			sw.logger.Warn(ctx, "could not watch store directory", "path", p, "err", err)
			return nil
		}
		n++
		return nil
	})
	return n, err
}
