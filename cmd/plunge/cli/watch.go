package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/deepnoodle-ai/plunge/config"
	wontoncli "github.com/deepnoodle-ai/wonton/cli"
	"github.com/fsnotify/fsnotify"
)

func registerWatchCommand(app *wontoncli.App) {
	app.Command("watch").
		Description("Rerun a definition when it or the project data changes").
		Args("file").
		Flags(
			wontoncli.String("project", "p").Help("Override the definition's project id"),
			wontoncli.String("pattern", "").Default("**/*").Help("Glob for data files that trigger a rerun"),
			wontoncli.Strings("ignore", "").Help("Globs for data paths to ignore"),
			wontoncli.String("debounce", "").Default("500ms").Help("Quiet period between reruns"),
		).
		Run(runWatch)
}

func runWatch(ctx *wontoncli.Context) error {
	parseGlobalFlags(ctx)

	debounce, err := time.ParseDuration(ctx.String("debounce"))
	if err != nil {
		return wontoncli.Errorf("invalid debounce: %v", err)
	}
	cfg, err := loadConfig()
	if err != nil {
		return wontoncli.Errorf("%v", err)
	}
	definitionPath, err := filepath.Abs(ctx.Arg(0))
	if err != nil {
		return wontoncli.Errorf("%v", err)
	}

	eng, err := buildEngine(cfg)
	if err != nil {
		return wontoncli.Errorf("%v", err)
	}
	defer eng.Close(context.Background())

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return wontoncli.Errorf("failed to create watcher: %v", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(definitionPath)); err != nil {
		return wontoncli.Errorf("failed to watch %s: %v", filepath.Dir(definitionPath), err)
	}
	dataDir := effectiveDataRoot(cfg)
	if dataDir != "" {
		if err := watchRecursive(watcher, dataDir); err != nil {
			return wontoncli.Errorf("%v", err)
		}
	}

	watchCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	run := func() {
		def, err := config.ParseDefinitionFile(definitionPath)
		if err != nil {
			fmt.Println(errorStyle.Sprintf("%s %v", xmark, err))
			return
		}
		if project := ctx.String("project"); project != "" {
			def.Project = project
		}
		if def.Project == "" {
			def.Project = "default"
		}
		if err := executeDefinition(watchCtx, eng, def); err != nil {
			fmt.Println(errorStyle.Sprintf("%s %v", xmark, err))
		}
	}

	fmt.Println(infoStyle.Sprintf("Watching %s", definitionPath))
	if dataDir != "" {
		fmt.Println(infoStyle.Sprintf("Watching data under %s (pattern %s)", dataDir, ctx.String("pattern")))
	}
	run()

	lastRun := make(map[string]time.Time)
	for {
		select {
		case <-watchCtx.Done():
			fmt.Println("\nStopped watching.")
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if !shouldTrigger(event.Name, definitionPath, dataDir, ctx.String("pattern"), ctx.Strings("ignore")) {
				continue
			}
			now := time.Now()
			if last, ok := lastRun[event.Name]; ok && now.Sub(last) < debounce {
				continue
			}
			lastRun[event.Name] = now
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					watchRecursive(watcher, event.Name)
					continue
				}
			}
			fmt.Println()
			fmt.Println(mutedStyle.Sprintf("%s %s, rerunning", event.Op.String(), event.Name))
			run()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Println(warningStyle.Sprintf("watch error: %v", err))
		}
	}
}

// watchRecursive adds root and every directory under it to the watcher.
func watchRecursive(watcher *fsnotify.Watcher, root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			if err := watcher.Add(path); err != nil {
				return fmt.Errorf("failed to watch %s: %v", path, err)
			}
		}
		return nil
	})
}

// shouldTrigger reports whether a change to path warrants a rerun: the
// definition file itself always does, data files only when they fall
// under the data root, match the pattern, and match no ignore glob.
func shouldTrigger(path, definitionPath, dataDir, pattern string, ignore []string) bool {
	if path == definitionPath {
		return true
	}
	if dataDir == "" {
		return false
	}
	rel, err := filepath.Rel(dataDir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return false
	}
	rel = filepath.ToSlash(rel)
	for _, ig := range ignore {
		if ok, _ := doublestar.Match(ig, rel); ok {
			return false
		}
	}
	ok, err := doublestar.Match(pattern, rel)
	return err == nil && ok
}
