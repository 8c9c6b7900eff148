package fs

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lightsheet/acquire/glob"
	"github.com/lightsheet/acquire/log"
)

// DiskConfig is the config required to create a new disk filesystem.
type DiskConfig struct {
	// Dir is the path all file paths are resolved against. An empty
	// dir resolves paths against the process working directory.
	Dir string

	// For logging, optional
	Logger log.Logger
}

type diskFileInfo struct {
	name  string
	finfo os.FileInfo
}

func (fi *diskFileInfo) Name() string {
	return fi.name
}

func (fi *diskFileInfo) Size() int64 {
	return fi.finfo.Size()
}

func (fi *diskFileInfo) ModTime() time.Time {
	return fi.finfo.ModTime()
}

func (fi *diskFileInfo) IsDir() bool {
	return fi.finfo.IsDir()
}

type diskFile struct {
	name string
	file *os.File
}

func (f *diskFile) Name() string {
	return f.name
}

func (f *diskFile) Stat() (FileInfo, error) {
	finfo, err := f.file.Stat()
	if err != nil {
		return nil, err
	}

	return &diskFileInfo{
		name:  f.name,
		finfo: finfo,
	}, nil
}

func (f *diskFile) Read(p []byte) (int, error) {
	return f.file.Read(p)
}

func (f *diskFile) Close() error {
	return f.file.Close()
}

type diskAppendFile struct {
	name string
	file *os.File
}

func (f *diskAppendFile) Name() string { return f.name }

func (f *diskAppendFile) Write(p []byte) (int, error) {
	return f.file.Write(p)
}

func (f *diskAppendFile) WriteAt(p []byte, off int64) (int, error) {
	return f.file.WriteAt(p, off)
}

func (f *diskAppendFile) Close() error {
	return f.file.Close()
}

type diskFilesystem struct {
	metadata map[string]string
	metaLock sync.RWMutex

	dir string

	logger log.Logger
}

// NewDiskFilesystem returns a new filesystem that is backed by the disk.
func NewDiskFilesystem(config DiskConfig) (Filesystem, error) {
	fs := &diskFilesystem{
		metadata: make(map[string]string),
		dir:      config.Dir,
		logger:   config.Logger,
	}

	if fs.logger == nil {
		fs.logger = log.New("")
	}

	if len(fs.dir) != 0 {
		dir, err := filepath.Abs(fs.dir)
		if err != nil {
			return nil, err
		}

		fs.dir = dir

		finfo, err := os.Stat(fs.dir)
		if err != nil {
			return nil, err
		}

		if !finfo.IsDir() {
			return nil, fmt.Errorf("%s is not a directory", fs.dir)
		}
	}

	fs.logger = fs.logger.WithFields(log.Fields{
		"type": "disk",
		"dir":  fs.dir,
	})

	return fs, nil
}

func (fs *diskFilesystem) Name() string {
	return "disk"
}

func (fs *diskFilesystem) Type() string {
	return "disk"
}

func (fs *diskFilesystem) Metadata(key string) string {
	fs.metaLock.RLock()
	defer fs.metaLock.RUnlock()

	return fs.metadata[key]
}

func (fs *diskFilesystem) SetMetadata(key, data string) {
	fs.metaLock.Lock()
	defer fs.metaLock.Unlock()

	fs.metadata[key] = data
}

func (fs *diskFilesystem) resolve(path string) string {
	if len(fs.dir) == 0 || filepath.IsAbs(path) {
		return path
	}

	return filepath.Join(fs.dir, path)
}

func (fs *diskFilesystem) Files() int64 {
	nfiles := int64(0)

	root := fs.dir
	if len(root) == 0 {
		root = "."
	}

	filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}

		if info.IsDir() {
			return nil
		}

		nfiles++

		return nil
	})

	return nfiles
}

func (fs *diskFilesystem) Open(path string) File {
	path = fs.resolve(path)

	f, err := os.Open(path)
	if err != nil {
		return nil
	}

	return &diskFile{
		name: path,
		file: f,
	}
}

func (fs *diskFilesystem) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(fs.resolve(path))
}

func (fs *diskFilesystem) Stat(path string) (FileInfo, error) {
	path = fs.resolve(path)

	finfo, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	return &diskFileInfo{
		name:  path,
		finfo: finfo,
	}, nil
}

func (fs *diskFilesystem) List(path, pattern string) []FileInfo {
	path = fs.resolve(path)

	files := []FileInfo{}

	entries, err := os.ReadDir(path)
	if err != nil {
		return files
	}

	var compiled glob.Glob
	if len(pattern) != 0 {
		compiled, err = glob.Compile(pattern, '/')
		if err != nil {
			return files
		}
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		if compiled != nil && !compiled.Match(entry.Name()) {
			continue
		}

		finfo, err := entry.Info()
		if err != nil {
			continue
		}

		files = append(files, &diskFileInfo{
			name:  filepath.Join(path, entry.Name()),
			finfo: finfo,
		})
	}

	return files
}

func (fs *diskFilesystem) WriteFileReader(path string, r io.Reader) (int64, bool, error) {
	path = fs.resolve(path)

	replace := true
	if _, err := os.Stat(path); err != nil {
		replace = false
	}

	f, err := os.Create(path)
	if err != nil {
		return -1, false, fmt.Errorf("creating file failed: %w", err)
	}

	defer f.Close()

	size, err := f.ReadFrom(r)
	if err != nil {
		return -1, false, fmt.Errorf("reading data failed: %w", err)
	}

	return size, !replace, nil
}

func (fs *diskFilesystem) WriteFile(path string, data []byte) (int64, bool, error) {
	return fs.WriteFileReader(path, bytes.NewReader(data))
}

func (fs *diskFilesystem) OpenAppend(path string) (AppendFile, error) {
	path = fs.resolve(path)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating file failed: %w", err)
	}

	return &diskAppendFile{
		name: path,
		file: f,
	}, nil
}

func (fs *diskFilesystem) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(fs.resolve(path), perm)
}

func (fs *diskFilesystem) Remove(path string) int64 {
	path = fs.resolve(path)

	finfo, err := os.Stat(path)
	if err != nil {
		return -1
	}

	size := finfo.Size()

	if err := os.Remove(path); err != nil {
		return -1
	}

	return size
}

func (fs *diskFilesystem) RemoveAll() int64 {
	// Unrooted disk filesystems refuse a sweep.
	if len(fs.dir) == 0 {
		return 0
	}

	size := int64(0)

	for _, finfo := range fs.List("", "") {
		if n := fs.Remove(finfo.Name()); n > 0 {
			size += n
		}
	}

	return size
}
