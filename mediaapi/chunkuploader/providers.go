package chunkuploader

import (
	"fmt"
	"io"
	"os"
)

// FileSource reads chunks from a file on disk.
type FileSource struct {
	file *os.File
	size int64
}

// OpenFile opens path as a Source. The size is fixed at open time.
func OpenFile(path string) (*FileSource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close() //nolint:errcheck
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if info.IsDir() {
		file.Close() //nolint:errcheck
		return nil, fmt.Errorf("%s is a directory", path)
	}

	return &FileSource{file: file, size: info.Size()}, nil
}

// ReadAt implements io.ReaderAt.
func (s *FileSource) ReadAt(p []byte, off int64) (int, error) {
	return s.file.ReadAt(p, off)
}

// Size returns the file size captured when it was opened.
func (s *FileSource) Size() int64 {
	return s.size
}

// Name returns the path the source was opened from.
func (s *FileSource) Name() string {
	return s.file.Name()
}

// Close closes the underlying file.
func (s *FileSource) Close() error {
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}

// NewSource pairs a ReaderAt with its known length.
func NewSource(r io.ReaderAt, size int64) Source {
	return io.NewSectionReader(r, 0, size)
}
