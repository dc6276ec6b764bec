package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
	"github.com/vedant-sarda/atorix-chat/internal/domain"
)

// UserDirectory serves the user list from a JSON file of the form
// [{"_id":"u1","name":"Ada"}, ...].
type UserDirectory struct {
	fs   afero.Fs
	path string

	mu    sync.RWMutex
	users []domain.User
}

// NewUserDirectory returns a directory backed by path on fs. An empty path
// yields a directory that only holds users given to Set.
func NewUserDirectory(fs afero.Fs, path string) *UserDirectory {
	return &UserDirectory{fs: fs, path: path}
}

// Load reads the file and replaces the user list. On error the previous
// list is kept.
func (d *UserDirectory) Load() error {
	if d.path == "" {
		return nil
	}
	data, err := afero.ReadFile(d.fs, d.path)
	if err != nil {
		return fmt.Errorf("failed to read users file: %w", err)
	}
	var raw []domain.User
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse users file %s: %w", d.path, err)
	}

	users := make([]domain.User, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for _, u := range raw {
		if u.ID == "" || seen[u.ID] {
			slog.Warn("Skipping invalid users file entry", "path", d.path, "id", u.ID)
			continue
		}
		seen[u.ID] = true
		users = append(users, u)
	}
	d.Set(users)
	slog.Info("User directory loaded", "path", d.path, "count", len(users))
	return nil
}

// Set replaces the user list.
func (d *UserDirectory) Set(users []domain.User) {
	d.mu.Lock()
	d.users = append([]domain.User(nil), users...)
	d.mu.Unlock()
}

// Users returns a copy of the user list in file order.
func (d *UserDirectory) Users() []domain.User {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]domain.User(nil), d.users...)
}

// Watch reloads the file whenever it changes until ctx is canceled. The
// parent directory is watched so editors that replace the file by rename
// are picked up.
func (d *UserDirectory) Watch(ctx context.Context) error {
	if d.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file system watcher: %w", err)
	}
	dir := filepath.Dir(d.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	go d.watchLoop(ctx, watcher)
	slog.Debug("Watching users file for changes", "path", d.path)
	return nil
}

func (d *UserDirectory) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()
	target := filepath.Clean(d.path)

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := d.Load(); err != nil {
				slog.Error("Failed to reload users file", "path", d.path, "error", err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Error("Users file watcher error", "error", err)
		}
	}
}
