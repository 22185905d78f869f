// Package sandboxes tracks which sandboxes exist and where their agent
// runtimes listen, and applies lifecycle actions to them.
package sandboxes

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/frak-id/atelier-sub002/internal/models"
)

type directoryFile struct {
	Sandboxes []models.Sandbox `yaml:"sandboxes"`
}

// Directory is the set of known sandboxes, loaded from a YAML file that the
// provisioning layer rewrites whenever a sandbox changes.
type Directory struct {
	path   string
	logger *slog.Logger

	mu        sync.RWMutex
	sandboxes []models.Sandbox
	byID      map[string]models.Sandbox
	listeners []func([]models.Sandbox)

	watcher *fsnotify.Watcher
	wg      sync.WaitGroup
}

func NewDirectory(path string, logger *slog.Logger) *Directory {
	return &Directory{
		path:   path,
		logger: logger.With("component", "sandbox-directory"),
		byID:   make(map[string]models.Sandbox),
	}
}

// Load reads the directory file. A missing file is an empty directory. On a
// malformed file the previous contents are kept and the error is returned.
func (d *Directory) Load() error {
	data, err := os.ReadFile(d.path)
	if errors.Is(err, fs.ErrNotExist) {
		d.replace(nil)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read sandbox directory: %w", err)
	}

	var file directoryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse sandbox directory %s: %w", d.path, err)
	}

	valid := make([]models.Sandbox, 0, len(file.Sandboxes))
	seen := make(map[string]bool, len(file.Sandboxes))
	for _, sb := range file.Sandboxes {
		if sb.ID == "" || seen[sb.ID] {
			d.logger.Warn("skipping sandbox entry", "id", sb.ID)
			continue
		}
		seen[sb.ID] = true
		valid = append(valid, sb)
	}
	d.replace(valid)
	return nil
}

func (d *Directory) replace(list []models.Sandbox) {
	byID := make(map[string]models.Sandbox, len(list))
	for _, sb := range list {
		byID[sb.ID] = sb
	}

	d.mu.Lock()
	d.sandboxes = list
	d.byID = byID
	listeners := append([]func([]models.Sandbox){}, d.listeners...)
	d.mu.Unlock()

	snapshot := d.List()
	for _, fn := range listeners {
		fn(snapshot)
	}
}

// OnChange registers fn to run after every successful load.
func (d *Directory) OnChange(fn func([]models.Sandbox)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, fn)
}

// Get returns the sandbox with the given id.
func (d *Directory) Get(id string) (models.Sandbox, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	sb, ok := d.byID[id]
	return sb, ok
}

// List returns every sandbox, sorted by id.
func (d *Directory) List() []models.Sandbox {
	d.mu.RLock()
	out := append([]models.Sandbox{}, d.sandboxes...)
	d.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RunningURLs returns the distinct runtime URLs of running sandboxes.
func (d *Directory) RunningURLs() []string {
	return RunningURLs(d.List())
}

// RunningURLs returns the distinct runtime URLs of the running sandboxes in list.
func RunningURLs(list []models.Sandbox) []string {
	seen := make(map[string]bool)
	urls := make([]string, 0)
	for _, sb := range list {
		if !sb.Running() || sb.OpencodeURL == "" || seen[sb.OpencodeURL] {
			continue
		}
		seen[sb.OpencodeURL] = true
		urls = append(urls, sb.OpencodeURL)
	}
	return urls
}

// Watch reloads the directory whenever its file changes, until ctx is
// cancelled. The parent directory is watched so atomic renames are seen.
func (d *Directory) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}

	dir := filepath.Dir(d.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		watcher.Close()
		return fmt.Errorf("create sandbox directory dir: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	d.watcher = watcher

	d.wg.Add(1)
	go d.watchLoop(ctx)
	return nil
}

func (d *Directory) watchLoop(ctx context.Context) {
	defer d.wg.Done()
	defer d.watcher.Close()

	target := filepath.Clean(d.path)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
				event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
				d.logger.Debug("sandbox directory changed", "op", event.Op.String())
				if err := d.Load(); err != nil {
					d.logger.Error("reload sandbox directory", "error", err)
				}
			}
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.logger.Error("fsnotify error", "error", err)
		}
	}
}

// Wait blocks until the watch loop has exited.
func (d *Directory) Wait() {
	d.wg.Wait()
}
