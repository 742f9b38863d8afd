package file

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"

	"rumspool/internal/logging"
	"rumspool/internal/storage"
)

// Separator joins payloads inside a batch file. Files never hold the
// enclosing brackets, so appending is a pure byte append.
const Separator = ','

// WritableFiles hands out the file the next payload goes to. The file must
// already exist.
type WritableFiles interface {
	WritableFile(dataSize int) (string, error)
}

// Writer serializes events and appends them to batch files.
type Writer[T any] struct {
	files      WritableFiles
	serializer storage.Serializer[T]
	logger     *slog.Logger

	mu sync.Mutex
}

func NewWriter[T any](files WritableFiles, serializer storage.Serializer[T], logger *slog.Logger) *Writer[T] {
	return &Writer[T]{files: files, serializer: serializer, logger: logging.OrDiscard(logger)}
}

func (w *Writer[T]) Write(event T) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.write(event)
}

func (w *Writer[T]) WriteBatch(events []T) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, e := range events {
		w.write(e)
	}
}

func (w *Writer[T]) write(event T) {
	payload, err := w.serializer.Serialize(event)
	if err != nil {
		w.logger.Warn("dropping event that failed to serialize", "err", err)
		return
	}
	// A file handed out for appending can be dropped by the uploader before
	// the append lands; ask once more and get a fresh one.
	for attempt := 0; attempt < 2; attempt++ {
		path, err := w.files.WritableFile(len(payload))
		if err != nil {
			w.logger.Error("no writable batch file", "err", err)
			return
		}
		err = appendItem(path, []byte(payload))
		if errors.Is(err, fs.ErrNotExist) {
			w.logger.Debug("batch file removed before append", "path", path)
			continue
		}
		if err != nil {
			w.logger.Error("append to batch file failed", "path", path, "err", err)
		}
		return
	}
	w.logger.Error("dropping event, batch files keep disappearing")
}

// appendItem never creates path, so a file retired by a reader stays gone.
func appendItem(path string, payload []byte) (err error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, f.Close()) }()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat batch file: %w", err)
	}
	buf := payload
	if info.Size() > 0 {
		buf = make([]byte, 0, len(payload)+1)
		buf = append(buf, Separator)
		buf = append(buf, payload...)
	}
	_, err = f.Write(buf)
	return err
}

var _ storage.Writer[string] = (*Writer[string])(nil)
