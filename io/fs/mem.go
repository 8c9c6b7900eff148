package fs

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lightsheet/acquire/glob"
	"github.com/lightsheet/acquire/log"
	"github.com/lightsheet/acquire/mem"
)

// MemConfig is the config that is required for creating a new memory
// filesystem.
type MemConfig struct {
	// For logging, optional
	Logger log.Logger
}

type memFileInfo struct {
	name    string
	size    int64
	dir     bool
	lastMod time.Time
}

func (f *memFileInfo) Name() string {
	return f.name
}

func (f *memFileInfo) Size() int64 {
	return f.size
}

func (f *memFileInfo) ModTime() time.Time {
	return f.lastMod
}

func (f *memFileInfo) IsDir() bool {
	return f.dir
}

type memFile struct {
	memFileInfo
	data *mem.Buffer
	r    io.Reader
}

func (f *memFile) Name() string {
	return f.name
}

func (f *memFile) Stat() (FileInfo, error) {
	info := &memFileInfo{
		name:    f.name,
		size:    f.size,
		dir:     f.dir,
		lastMod: f.lastMod,
	}

	return info, nil
}

func (f *memFile) Read(p []byte) (int, error) {
	if f.r == nil {
		if f.data == nil {
			return 0, io.EOF
		}

		f.r = f.data.Reader()
	}

	return f.r.Read(p)
}

func (f *memFile) Close() error {
	f.r = nil

	return nil
}

type memAppendFile struct {
	fs   *memFilesystem
	name string
	data *mem.Buffer

	lock sync.Mutex
}

func (f *memAppendFile) Name() string { return f.name }

func (f *memAppendFile) Write(p []byte) (int, error) {
	f.lock.Lock()
	defer f.lock.Unlock()

	return f.data.Write(p)
}

func (f *memAppendFile) WriteAt(p []byte, off int64) (int, error) {
	f.lock.Lock()
	defer f.lock.Unlock()

	b := f.data.Bytes()
	if off < 0 || off+int64(len(p)) > int64(len(b)) {
		return 0, fmt.Errorf("write at %d is out of bounds", off)
	}

	copy(b[off:], p)

	return len(p), nil
}

func (f *memAppendFile) Close() error {
	f.lock.Lock()
	defer f.lock.Unlock()

	f.fs.publish(f.name, f.data)

	return nil
}

type memFilesystem struct {
	metadata map[string]string
	metaLock sync.RWMutex

	files     map[string]*memFile
	dirs      map[string]struct{}
	filesLock sync.RWMutex

	logger log.Logger
}

// NewMemFilesystem creates a new filesystem in memory.
func NewMemFilesystem(config MemConfig) (Filesystem, error) {
	fs := &memFilesystem{
		metadata: make(map[string]string),
		files:    make(map[string]*memFile),
		dirs:     make(map[string]struct{}),
		logger:   config.Logger,
	}

	if fs.logger == nil {
		fs.logger = log.New("")
	}

	fs.logger = fs.logger.WithField("type", "mem")

	fs.logger.Debug().Log("Created")

	return fs, nil
}

func (fs *memFilesystem) Name() string {
	return "mem"
}

func (fs *memFilesystem) Type() string {
	return "mem"
}

func (fs *memFilesystem) Metadata(key string) string {
	fs.metaLock.RLock()
	defer fs.metaLock.RUnlock()

	return fs.metadata[key]
}

func (fs *memFilesystem) SetMetadata(key, data string) {
	fs.metaLock.Lock()
	defer fs.metaLock.Unlock()

	fs.metadata[key] = data
}

func (fs *memFilesystem) clean(path string) string {
	return filepath.Clean("/" + path)
}

func (fs *memFilesystem) Files() int64 {
	fs.filesLock.RLock()
	defer fs.filesLock.RUnlock()

	return int64(len(fs.files))
}

func (fs *memFilesystem) Open(path string) File {
	path = fs.clean(path)

	fs.filesLock.RLock()
	file, ok := fs.files[path]
	fs.filesLock.RUnlock()

	if !ok {
		return nil
	}

	newFile := &memFile{
		memFileInfo: memFileInfo{
			name:    file.name,
			size:    file.size,
			lastMod: file.lastMod,
		},
		data: file.data,
	}

	return newFile
}

func (fs *memFilesystem) ReadFile(path string) ([]byte, error) {
	file := fs.Open(path)
	if file == nil {
		return nil, os.ErrNotExist
	}

	defer file.Close()

	return io.ReadAll(file)
}

func (fs *memFilesystem) Stat(path string) (FileInfo, error) {
	path = fs.clean(path)

	fs.filesLock.RLock()
	defer fs.filesLock.RUnlock()

	if path == "/" {
		return &memFileInfo{
			name: path,
			dir:  true,
		}, nil
	}

	if _, ok := fs.dirs[path]; ok {
		return &memFileInfo{
			name: path,
			dir:  true,
		}, nil
	}

	file, ok := fs.files[path]
	if !ok {
		return nil, os.ErrNotExist
	}

	return &memFileInfo{
		name:    file.name,
		size:    file.size,
		lastMod: file.lastMod,
	}, nil
}

func (fs *memFilesystem) List(path, pattern string) []FileInfo {
	path = fs.clean(path)

	var compiled glob.Glob
	if len(pattern) != 0 {
		var err error
		compiled, err = glob.Compile(pattern, '/')
		if err != nil {
			return nil
		}
	}

	files := []FileInfo{}

	fs.filesLock.RLock()
	defer fs.filesLock.RUnlock()

	for name, file := range fs.files {
		if path != "/" && !strings.HasPrefix(name, path+"/") {
			continue
		}

		if compiled != nil && !compiled.Match(filepath.Base(name)) {
			continue
		}

		files = append(files, &memFileInfo{
			name:    file.name,
			size:    file.size,
			lastMod: file.lastMod,
		})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Name() < files[j].Name() })

	return files
}

func (fs *memFilesystem) WriteFileReader(path string, r io.Reader) (int64, bool, error) {
	path = fs.clean(path)

	data := mem.Get()

	size, err := data.ReadFrom(r)
	if err != nil {
		mem.Put(data)
		return -1, false, fmt.Errorf("reading data failed: %w", err)
	}

	isNew := fs.publish(path, data)

	return size, isNew, nil
}

func (fs *memFilesystem) WriteFile(path string, data []byte) (int64, bool, error) {
	buf := mem.Get()
	buf.Write(data)

	isNew := fs.publish(fs.clean(path), buf)

	return int64(len(data)), isNew, nil
}

// publish installs the buffer as the file's content. Returns whether the
// file is new.
func (fs *memFilesystem) publish(path string, data *mem.Buffer) bool {
	newFile := &memFile{
		memFileInfo: memFileInfo{
			name:    path,
			size:    int64(data.Len()),
			lastMod: time.Now(),
		},
		data: data,
	}

	fs.filesLock.Lock()
	file, replace := fs.files[path]
	fs.files[path] = newFile
	fs.filesLock.Unlock()

	if replace {
		mem.Put(file.data)
	}

	return !replace
}

func (fs *memFilesystem) OpenAppend(path string) (AppendFile, error) {
	return &memAppendFile{
		fs:   fs,
		name: fs.clean(path),
		data: mem.Get(),
	}, nil
}

func (fs *memFilesystem) MkdirAll(path string, _ os.FileMode) error {
	path = fs.clean(path)

	fs.filesLock.Lock()
	defer fs.filesLock.Unlock()

	for path != "/" {
		fs.dirs[path] = struct{}{}
		path = filepath.Dir(path)
	}

	return nil
}

func (fs *memFilesystem) Remove(path string) int64 {
	path = fs.clean(path)

	fs.filesLock.Lock()
	defer fs.filesLock.Unlock()

	file, ok := fs.files[path]
	if !ok {
		return -1
	}

	delete(fs.files, path)

	size := file.size
	mem.Put(file.data)

	return size
}

func (fs *memFilesystem) RemoveAll() int64 {
	fs.filesLock.Lock()
	defer fs.filesLock.Unlock()

	size := int64(0)

	for _, file := range fs.files {
		size += file.size
		mem.Put(file.data)
	}

	fs.files = make(map[string]*memFile)
	fs.dirs = make(map[string]struct{})

	return size
}
