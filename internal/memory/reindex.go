package memory

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Reindex walks every *.md under the agent root, reindexes files whose mtime
// is newer than their indexed updated_at, and drops chunks of files that no
// longer exist. Runs in a single transaction so searches never observe a
// half-updated index. Hidden directories (version history) are skipped.
func (e *Engine) Reindex(ctx context.Context) error {
	type fileInfo struct {
		rel   string
		abs   string
		mtime time.Time
	}
	var files []fileInfo
	err := filepath.WalkDir(e.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != e.root {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(d.Name(), ".md") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(e.root, path)
		if err != nil {
			return err
		}
		files = append(files, fileInfo{rel: rel, abs: path, mtime: info.ModTime()})
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk agent root: %w", err)
	}

	// All chunks of a path share one updated_at (written in one tx), so
	// DISTINCT yields a single row per path.
	indexed := map[string]time.Time{}
	rows, err := e.db.Query(`SELECT DISTINCT path, updated_at FROM chunks`)
	if err != nil {
		return fmt.Errorf("list indexed paths: %w", err)
	}
	for rows.Next() {
		var path string
		var at time.Time
		if err := rows.Scan(&path, &at); err != nil {
			rows.Close()
			return err
		}
		indexed[path] = at
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reindex: %w", err)
	}
	defer tx.Rollback()

	seen := map[string]bool{}
	var changed []string
	for _, f := range files {
		seen[f.rel] = true
		if at, ok := indexed[f.rel]; ok && !f.mtime.Truncate(time.Second).After(at) {
			continue
		}
		content, err := os.ReadFile(f.abs)
		if err != nil {
			return fmt.Errorf("read %s: %w", f.rel, err)
		}
		chunks := splitChunks(string(content), e.chunkSize, e.chunkOverlap)
		if err := indexFileTx(tx, f.rel, chunks, f.mtime); err != nil {
			return err
		}
		changed = append(changed, f.rel)
	}
	for path := range indexed {
		if !seen[path] {
			if _, err := tx.Exec(`DELETE FROM chunks WHERE path = ?`, path); err != nil {
				return fmt.Errorf("drop deleted file %s: %w", path, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reindex: %w", err)
	}

	if e.embedder != nil {
		for _, rel := range changed {
			e.embedChunks(ctx, rel)
		}
	}
	return nil
}

// Watch starts a best-effort fsnotify watcher over the agent root and its
// memory/ subdirectory, debouncing file events into Reindex calls. Failure
// to set up the watcher logs and returns; the index still refreshes on the
// next explicit Reindex.
func (e *Engine) Watch(ctx context.Context, debounce time.Duration) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("memory.watch_unavailable", "root", e.root, "error", err)
		return
	}
	for _, dir := range []string{e.root, filepath.Join(e.root, "memory")} {
		if err := watcher.Add(dir); err != nil {
			slog.Warn("memory.watch_add_failed", "dir", dir, "error", err)
		}
	}

	go func() {
		defer watcher.Close()
		var timer *time.Timer
		fire := make(chan struct{}, 1)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !strings.HasSuffix(ev.Name, ".md") {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(debounce, func() {
					select {
					case fire <- struct{}{}:
					default:
					}
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("memory.watch_error", "root", e.root, "error", err)
			case <-fire:
				if err := e.Reindex(ctx); err != nil {
					slog.Warn("memory.reindex_failed", "root", e.root, "error", err)
				}
			}
		}
	}()
}
