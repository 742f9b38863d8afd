package storage

// FileSelector decides which batch file a reader or writer should use.
type FileSelector interface {
	// ReadableFile returns the path of the oldest readable batch file whose
	// name is not in excluded. ok is false when no such file exists.
	ReadableFile(excluded map[string]struct{}) (path string, ok bool, err error)
	// AllFiles returns the path of every batch file currently on disk.
	AllFiles() ([]string, error)
}

// Writer durably appends events to the active write target. Failures are the
// writer's own business; callers never see them.
type Writer[T any] interface {
	Write(event T)
	WriteBatch(events []T)
}

// Serializer turns one event into the payload stored in a batch file.
type Serializer[T any] interface {
	Serialize(event T) (string, error)
}

// SerializerFunc adapts a function to Serializer.
type SerializerFunc[T any] func(T) (string, error)

func (f SerializerFunc[T]) Serialize(event T) (string, error) { return f(event) }
