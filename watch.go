package main

import (
	"context"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// burstWindow batches the several events an editor emits for one save.
const burstWindow = 16 * time.Millisecond

// Watch runs g once and then re-processes every source that changes until
// ctx is cancelled. Failures on single files are logged, not returned.
func Watch(ctx context.Context, g *Generator) error {
	if err := ValidateSuffix(g.Suffix); err != nil {
		return err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "failed to create watcher")
	}
	defer fw.Close()

	if err := fw.Add(g.Dir); err != nil {
		return errors.Wrapf(err, "failed to watch %s", g.Dir)
	}

	keepGoing := *g
	keepGoing.KeepGoing = true
	if _, err := keepGoing.Run(ctx); err != nil {
		g.Logger.Warn("initial run had failures", zap.Error(err))
	}
	g.Logger.Info("watching for changes", zap.String("dir", g.Dir))

	burst := time.NewTimer(0)
	<-burst.C
	defer burst.Stop()

	changed := make(map[string]struct{})
	for {
		select {
		case ev, ok := <-fw.Events:
			if !ok {
				return errors.New("fsnotify watcher closed")
			}
			g.Logger.Debug("received file system event", zap.Stringer("event", ev))
			name := filepath.Base(ev.Name)
			if !g.Match(name) || ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			changed[name] = struct{}{}
			burst.Reset(burstWindow)
		case <-burst.C:
			var names []string
			for name := range changed {
				names = append(names, name)
				delete(changed, name)
			}
			sort.Strings(names)
			for _, name := range names {
				g.Logger.Info("detected change", zap.String("source", name))
				if _, err := g.Process(ctx, name); err != nil {
					g.Logger.Warn("failed to regenerate", zap.String("source", name), zap.Error(err))
				}
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return errors.New("fsnotify watcher closed")
			}
			g.Logger.Error("fsnotify error", zap.Error(err))
		case <-ctx.Done():
			return nil
		}
	}
}
