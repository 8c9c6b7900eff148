// Package fs provides a simple interface for a filesystem. Storage sinks
// write frame streams through it so that the same sink can target a local
// disk, memory (for tests), or an S3 bucket.
package fs

import (
	"io"
	"os"
	"time"
)

// FileInfo describes a file and is returned by Stat.
type FileInfo interface {
	// Name returns the full name of the file.
	Name() string

	// Size reports the size of the file in bytes.
	Size() int64

	// ModTime returns the time of last modification.
	ModTime() time.Time

	// IsDir returns whether the file represents a directory.
	IsDir() bool
}

// File provides access to a single file.
type File interface {
	io.ReadCloser

	// Name returns the name of the file.
	Name() string

	// Stat returns the FileInfo to this file. In case of an error
	// FileInfo is nil and the error is non-nil.
	Stat() (FileInfo, error)
}

// AppendFile is an open file that is written front to back. A frame sink
// holds one for the duration of an acquisition.
type AppendFile interface {
	io.Writer
	io.Closer

	// Name returns the path the file has been opened with.
	Name() string
}

// RandomAccessFile is an AppendFile that additionally allows patching
// bytes that have already been written. Sinks that chain file offsets,
// like the BigTIFF writer, require this capability.
type RandomAccessFile interface {
	AppendFile
	io.WriterAt
}

type ReadFilesystem interface {
	// Files returns the current number of files in the filesystem.
	Files() int64

	// Open returns the file stored at the given path. It returns nil if
	// the file doesn't exist.
	Open(path string) File

	// ReadFile reads the content of the file at the given path. Returns
	// the data or an error.
	ReadFile(path string) ([]byte, error)

	// Stat returns info about the file at path. If the file doesn't
	// exist, an error will be returned.
	Stat(path string) (FileInfo, error)

	// List lists all files in path whose name matches the glob pattern.
	// An empty pattern matches all files.
	List(path, pattern string) []FileInfo
}

type WriteFilesystem interface {
	// WriteFileReader adds a file to the filesystem. Returns the size of
	// the data that has been stored in bytes and whether the file is new.
	// The size is negative if there was an error adding the file and
	// error is not nil.
	WriteFileReader(path string, r io.Reader) (int64, bool, error)

	// WriteFile adds a file to the filesystem. Returns the size of the
	// data that has been stored in bytes and whether the file is new.
	// The size is negative if there was an error adding the file and
	// error is not nil.
	WriteFile(path string, data []byte) (int64, bool, error)

	// OpenAppend creates the file at path, truncating it if it already
	// exists, and returns a handle for incremental writes. The handle
	// may also implement RandomAccessFile.
	OpenAppend(path string) (AppendFile, error)

	// MkdirAll creates a directory named path, along with any necessary
	// parents. If path is already a directory, MkdirAll does nothing.
	MkdirAll(path string, perm os.FileMode) error

	// Remove removes a file at the given path from the filesystem.
	// Returns the size of the removed file in bytes. The size is
	// negative if the file doesn't exist.
	Remove(path string) int64

	// RemoveAll removes all files from the filesystem. Returns the size
	// of the removed files in bytes.
	RemoveAll() int64
}

// Filesystem is an interface that provides access to a filesystem.
type Filesystem interface {
	ReadFilesystem
	WriteFilesystem

	// Name returns the name of the filesystem.
	Name() string

	// Type returns the type of the filesystem, e.g. disk, mem, s3.
	Type() string

	Metadata(key string) string
	SetMetadata(key string, data string)
}
