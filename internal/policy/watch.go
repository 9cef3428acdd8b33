package policy

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/wagiedev/agentlink/internal/permission"
)

// Reloadable is a policy that follows its file. A change that fails to load
// keeps the previous policy in force.
type Reloadable struct {
	log     *slog.Logger
	path    string
	current atomic.Pointer[Policy]

	watcher   *fsnotify.Watcher
	done      chan struct{}
	closeOnce sync.Once
}

// Watch loads path and reloads it whenever the file is written, created or
// renamed into place. The parent directory is watched so editors that
// replace the file are followed. Watching stops when ctx is done or Close
// is called.
func Watch(ctx context.Context, log *slog.Logger, path string) (*Reloadable, error) {
	p, err := Load(path)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create policy watcher: %w", err)
	}

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()

		return nil, fmt.Errorf("watch policy directory: %w", err)
	}

	r := &Reloadable{
		log:     log.With("component", "policy", "path", path),
		path:    path,
		watcher: watcher,
		done:    make(chan struct{}),
	}
	r.current.Store(p)

	go r.run(ctx)

	return r, nil
}

func (r *Reloadable) run(ctx context.Context) {
	defer close(r.done)

	base := filepath.Base(r.path)

	for {
		select {
		case <-ctx.Done():
			_ = r.watcher.Close()

			return

		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}

			if filepath.Base(event.Name) != base {
				continue
			}

			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			r.reload()

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}

			r.log.Warn("Policy watcher error", "error", err)
		}
	}
}

func (r *Reloadable) reload() {
	p, err := Load(r.path)
	if err != nil {
		r.log.Warn("Policy reload failed, keeping previous rules", "error", err)

		return
	}

	r.current.Store(p)
	r.log.Info("Policy reloaded", "rules", len(p.Rules), "default", p.Default)
}

// Policy returns the policy in force.
func (r *Reloadable) Policy() *Policy {
	return r.current.Load()
}

// Callback evaluates each call against the policy in force at that moment.
func (r *Reloadable) Callback() permission.Callback {
	return func(ctx context.Context, toolName string, input map[string]any, permCtx *permission.Context) (permission.Result, error) {
		return r.Policy().Callback()(ctx, toolName, input, permCtx)
	}
}

// Close stops watching and waits for the watcher goroutine.
func (r *Reloadable) Close() error {
	var err error

	r.closeOnce.Do(func() {
		err = r.watcher.Close()
	})

	<-r.done

	return err
}
