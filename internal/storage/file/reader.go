package file

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"rumspool/internal/domain"
	"rumspool/internal/logging"
	"rumspool/internal/storage"
)

// Reader hands batch files to a single uploader and tracks which of them are
// in flight or already sent. It is not safe for concurrent use.
type Reader struct {
	selector storage.FileSelector
	rootDir  string
	logger   *slog.Logger

	inFlight    map[string]struct{}
	sentBatches map[string]struct{}
}

func NewReader(selector storage.FileSelector, rootDir string, logger *slog.Logger) *Reader {
	return &Reader{
		selector:    selector,
		rootDir:     rootDir,
		logger:      logging.OrDiscard(logger),
		inFlight:    make(map[string]struct{}),
		sentBatches: make(map[string]struct{}),
	}
}

// ReadNextBatch returns the next batch not already held or sent. ok is false
// when nothing is readable or the storage could not be accessed.
func (r *Reader) ReadNextBatch() (batch domain.Batch, ok bool) {
	excluded := make(map[string]struct{}, len(r.inFlight)+len(r.sentBatches))
	for id := range r.inFlight {
		excluded[id] = struct{}{}
	}
	for id := range r.sentBatches {
		excluded[id] = struct{}{}
	}

	path, found, err := r.selector.ReadableFile(excluded)
	if err != nil {
		r.logger.Error("couldn't access file", "err", err)
		return domain.Batch{}, false
	}
	if !found {
		return domain.Batch{}, false
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		r.logger.Error("couldn't read file", "path", path, "err", err)
		return domain.Batch{}, false
	}

	data := make([]byte, 0, len(raw)+2)
	data = append(data, '[')
	data = append(data, raw...)
	data = append(data, ']')

	id := filepath.Base(path)
	r.inFlight[id] = struct{}{}
	return domain.Batch{ID: id, Data: data}, true
}

// ReleaseBatch makes an in-flight batch readable again.
func (r *Reader) ReleaseBatch(id string) {
	r.logger.Debug("releaseBatch", "id", id)
	delete(r.inFlight, id)
}

// DropBatch deletes a batch file and retires its id for the reader's
// lifetime. Dropping a missing file is not an error.
func (r *Reader) DropBatch(id string) {
	r.logger.Info("dropBatch", "id", id)
	delete(r.inFlight, id)
	r.sentBatches[id] = struct{}{}
	r.deleteFile(filepath.Join(r.rootDir, id))
}

// DropAllBatches deletes every batch file and forgets every retired id.
func (r *Reader) DropAllBatches() {
	r.logger.Info("dropAllBatches")
	files, err := r.selector.AllFiles()
	if err != nil {
		r.logger.Error("couldn't list files", "err", err)
	}
	for _, path := range files {
		r.deleteFile(path)
	}
	clear(r.sentBatches)
}

func (r *Reader) deleteFile(path string) {
	err := os.Remove(path)
	switch {
	case err == nil:
	case errors.Is(err, fs.ErrNotExist):
		r.logger.Warn("file does not exist", "path", path)
	default:
		r.logger.Error("couldn't delete file", "path", path, "err", err)
	}
}
