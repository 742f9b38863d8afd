package file

import (
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"rumspool/internal/logging"
)

const (
	DefaultMaxBatchSize     = 4 << 20
	DefaultMaxItemsPerBatch = 500

	// writeMarginDivisor sets the write cutoff at RecentDelay minus 5%.
	writeMarginDivisor = 20
)

type Options struct {
	// Dir holds the batch files. It is created when missing.
	Dir string
	// MaxBatchSize caps the bytes of one batch file.
	MaxBatchSize int64
	// MaxItemsPerBatch caps the payloads appended to one batch file.
	MaxItemsPerBatch int
	// RecentDelay is the age at which a file becomes readable. Writes stop
	// a margin earlier, so a file is never appended to once a reader may
	// hold it. Zero gives every payload its own file, readable at once.
	RecentDelay time.Duration
	// Now overrides the clock (tests).
	Now func() time.Time
}

func (o *Options) withDefaults() {
	if o.MaxBatchSize <= 0 {
		o.MaxBatchSize = DefaultMaxBatchSize
	}
	if o.MaxItemsPerBatch <= 0 {
		o.MaxItemsPerBatch = DefaultMaxItemsPerBatch
	}
	if o.RecentDelay < 0 {
		o.RecentDelay = 0
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Orchestrator is the default file selector for one batch directory. Batch
// files are named with ULIDs so that lexical order is creation order.
type Orchestrator struct {
	opts   Options
	logger *slog.Logger

	mu        sync.Mutex
	entropy   io.Reader
	lastFile  string
	lastItems int
}

func NewOrchestrator(opts Options, logger *slog.Logger) (*Orchestrator, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("orchestrator: Options.Dir is required")
	}
	opts.withDefaults()
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir batch dir: %w", err)
	}
	return &Orchestrator{
		opts:    opts,
		logger:  logging.OrDiscard(logger),
		entropy: ulid.Monotonic(rand.Reader, 0),
	}, nil
}

func (o *Orchestrator) Dir() string { return o.opts.Dir }

// WritableFile returns the file the next payload of dataSize bytes must be
// appended to, rotating to a new file when the current one is too old, too
// large or too full. The returned file always exists; writers must not
// create it again if it disappears.
func (o *Orchestrator) WritableFile(dataSize int) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := o.opts.Now()
	if o.lastFile != "" && o.canAppend(o.lastFile, dataSize, now) {
		o.lastItems++
		return o.lastFile, nil
	}

	id, err := ulid.New(ulid.Timestamp(now), o.entropy)
	if err != nil {
		return "", fmt.Errorf("new batch name: %w", err)
	}
	path := filepath.Join(o.opts.Dir, id.String())
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", fmt.Errorf("create batch file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("create batch file: %w", err)
	}
	o.lastFile = path
	o.lastItems = 1
	o.logger.Debug("new batch file", "path", path)
	return path, nil
}

func (o *Orchestrator) canAppend(path string, dataSize int, now time.Time) bool {
	if o.lastItems >= o.opts.MaxItemsPerBatch {
		return false
	}
	info, err := os.Stat(path)
	if err != nil {
		// Dropped by a reader or wiped by a migration.
		return false
	}
	if now.Sub(o.createdAt(info)) >= o.writeWindow() {
		return false
	}
	// One extra byte for the separator.
	return info.Size()+int64(dataSize)+1 <= o.opts.MaxBatchSize
}

func (o *Orchestrator) writeWindow() time.Duration {
	return o.opts.RecentDelay - o.opts.RecentDelay/writeMarginDivisor
}

// ReadableFile returns the oldest non-empty file that has reached
// RecentDelay and is not excluded.
func (o *Orchestrator) ReadableFile(excluded map[string]struct{}) (string, bool, error) {
	entries, err := os.ReadDir(o.opts.Dir)
	if err != nil {
		return "", false, fmt.Errorf("list batch dir: %w", err)
	}
	now := o.opts.Now()
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if _, skip := excluded[e.Name()]; skip {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// Removed after the listing.
			continue
		}
		if info.Size() == 0 || now.Sub(o.createdAt(info)) < o.opts.RecentDelay {
			continue
		}
		return filepath.Join(o.opts.Dir, e.Name()), true, nil
	}
	return "", false, nil
}

func (o *Orchestrator) AllFiles() ([]string, error) {
	entries, err := os.ReadDir(o.opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("list batch dir: %w", err)
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			out = append(out, filepath.Join(o.opts.Dir, e.Name()))
		}
	}
	return out, nil
}

// createdAt reads the creation time from a ULID name, falling back to the
// modification time for files this package did not name.
func (o *Orchestrator) createdAt(info os.FileInfo) time.Time {
	if id, err := ulid.ParseStrict(info.Name()); err == nil {
		return ulid.Time(id.Time())
	}
	return info.ModTime()
}
