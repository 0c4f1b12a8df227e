package photos

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/lukejkirsten91/riverwalks-sub003/internal/schema"
)

// Attacher accepts a new photo binary for a site. Implemented by the sync
// engine.
type Attacher interface {
	AttachPhoto(ctx context.Context, ownerRef string, kind schema.PhotoKind, fileName string, r io.Reader) (*schema.Photo, error)
}

// SpoolConfig tunes the spool watcher.
type SpoolConfig struct {
	// DebounceInterval batches rapid writes of the same file before
	// importing it. Default 500ms, long enough for a camera app to finish
	// writing.
	DebounceInterval time.Duration

	// Logger for import activity.
	Logger *log.Logger
}

// DefaultSpoolConfig returns sensible defaults.
func DefaultSpoolConfig() *SpoolConfig {
	return &SpoolConfig{
		DebounceInterval: 500 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[spool] ", log.LstdFlags),
	}
}

// SpoolWatcher imports photos dropped into a spool directory. File names
// encode the attachment target: {siteRef}__{kind}__{originalName}.{ext},
// e.g. "site-1717430400000-3f2a9c1d__site_photo__upstream.jpg". Imported
// files are removed from the spool; files that fail to parse are left in
// place and logged.
type SpoolWatcher struct {
	dir      string
	attacher Attacher
	config   *SpoolConfig

	watcher   *fsnotify.Watcher
	pending   map[string]time.Time
	pendingMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSpoolWatcher creates a watcher over dir, creating the directory if
// missing.
func NewSpoolWatcher(dir string, attacher Attacher, config *SpoolConfig) (*SpoolWatcher, error) {
	if dir == "" {
		return nil, fmt.Errorf("spool directory cannot be empty")
	}
	if attacher == nil {
		return nil, fmt.Errorf("attacher cannot be nil")
	}
	if config == nil {
		config = DefaultSpoolConfig()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create spool directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &SpoolWatcher{
		dir:      dir,
		attacher: attacher,
		config:   config,
		watcher:  watcher,
		pending:  make(map[string]time.Time),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start imports any files already waiting in the spool, then begins
// watching for new ones.
func (w *SpoolWatcher) Start() error {
	if err := w.importExisting(); err != nil {
		return err
	}
	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch spool directory: %w", err)
	}

	w.wg.Add(2)
	go w.watchEvents()
	go w.processPending()

	w.config.Logger.Printf("Watching spool: %s", w.dir)
	return nil
}

// Stop halts the watcher.
func (w *SpoolWatcher) Stop() error {
	w.cancel()
	if err := w.watcher.Close(); err != nil {
		w.config.Logger.Printf("Error closing watcher: %v", err)
	}
	w.wg.Wait()
	return nil
}

func (w *SpoolWatcher) importExisting() error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("failed to read spool directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		w.importFile(filepath.Join(w.dir, entry.Name()))
	}
	return nil
}

func (w *SpoolWatcher) watchEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if strings.HasPrefix(filepath.Base(event.Name), ".") {
				continue
			}
			w.pendingMu.Lock()
			w.pending[event.Name] = time.Now()
			w.pendingMu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

func (w *SpoolWatcher) processPending() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.drainPending()
		}
	}
}

func (w *SpoolWatcher) drainPending() {
	w.pendingMu.Lock()
	now := time.Now()
	var ready []string
	for path, queuedAt := range w.pending {
		if now.Sub(queuedAt) < w.config.DebounceInterval {
			continue
		}
		ready = append(ready, path)
		delete(w.pending, path)
	}
	w.pendingMu.Unlock()

	for _, path := range ready {
		w.importFile(path)
	}
}

func (w *SpoolWatcher) importFile(path string) {
	ownerRef, kind, name, err := ParseSpoolName(filepath.Base(path))
	if err != nil {
		w.config.Logger.Printf("Skipping %s: %v", filepath.Base(path), err)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		w.config.Logger.Printf("Failed to open spool file %s: %v", path, err)
		return
	}

	photo, err := w.attacher.AttachPhoto(w.ctx, ownerRef, kind, name, f)
	_ = f.Close()
	if err != nil {
		w.config.Logger.Printf("Failed to import %s: %v", filepath.Base(path), err)
		return
	}

	if err := os.Remove(path); err != nil {
		w.config.Logger.Printf("Warning: failed to remove imported spool file %s: %v", path, err)
	}
	w.config.Logger.Printf("Imported %s as photo %s", name, photo.LocalID)
}

// ParseSpoolName splits a spool file name into its attachment target.
func ParseSpoolName(name string) (ownerRef string, kind schema.PhotoKind, fileName string, err error) {
	parts := strings.SplitN(name, "__", 3)
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("spool name %q is not {owner}__{kind}__{file}", name)
	}
	kind = schema.PhotoKind(parts[1])
	if !kind.Valid() {
		return "", "", "", fmt.Errorf("unknown photo kind %q in spool name", parts[1])
	}
	if parts[0] == "" || parts[2] == "" {
		return "", "", "", fmt.Errorf("spool name %q has empty owner or file part", name)
	}
	return parts[0], kind, parts[2], nil
}
