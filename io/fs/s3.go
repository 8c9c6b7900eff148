package fs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/lightsheet/acquire/glob"
	"github.com/lightsheet/acquire/log"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Config is the config that is required for creating a new S3 filesystem.
type S3Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Bucket          string
	UseSSL          bool

	// For logging, optional
	Logger log.Logger
}

type s3Filesystem struct {
	metadata map[string]string
	metaLock sync.RWMutex

	endpoint string
	bucket   string

	client *minio.Client

	logger log.Logger
}

// NewS3Filesystem returns a filesystem backed by an S3 bucket. Frame sinks
// use it when the destination URI carries an s3:// scheme.
func NewS3Filesystem(config S3Config) (Filesystem, error) {
	fs := &s3Filesystem{
		metadata: make(map[string]string),
		endpoint: config.Endpoint,
		bucket:   config.Bucket,
		logger:   config.Logger,
	}

	if fs.logger == nil {
		fs.logger = log.New("")
	}

	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKeyID, config.SecretAccessKey, ""),
		Region: config.Region,
		Secure: config.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("can't connect to s3 endpoint %s: %w", config.Endpoint, err)
	}

	fs.client = client

	fs.logger = fs.logger.WithFields(log.Fields{
		"type":     "s3",
		"bucket":   fs.bucket,
		"endpoint": fs.endpoint,
	})

	fs.logger.Debug().Log("Connected")

	return fs, nil
}

func (fs *s3Filesystem) Name() string {
	return "s3"
}

func (fs *s3Filesystem) Type() string {
	return "s3"
}

func (fs *s3Filesystem) Metadata(key string) string {
	fs.metaLock.RLock()
	defer fs.metaLock.RUnlock()

	return fs.metadata[key]
}

func (fs *s3Filesystem) SetMetadata(key, data string) {
	fs.metaLock.Lock()
	defer fs.metaLock.Unlock()

	fs.metadata[key] = data
}

func (fs *s3Filesystem) key(path string) string {
	return strings.TrimPrefix(filepath.Clean("/"+path), "/")
}

func (fs *s3Filesystem) Files() int64 {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	nfiles := int64(0)

	for object := range fs.client.ListObjects(ctx, fs.bucket, minio.ListObjectsOptions{Recursive: true}) {
		if object.Err != nil {
			continue
		}

		nfiles++
	}

	return nfiles
}

type s3FileInfo struct {
	name    string
	size    int64
	lastMod time.Time
}

func (fi *s3FileInfo) Name() string       { return fi.name }
func (fi *s3FileInfo) Size() int64        { return fi.size }
func (fi *s3FileInfo) ModTime() time.Time { return fi.lastMod }
func (fi *s3FileInfo) IsDir() bool        { return false }

type s3File struct {
	name   string
	object *minio.Object
}

func (f *s3File) Name() string {
	return f.name
}

func (f *s3File) Stat() (FileInfo, error) {
	stat, err := f.object.Stat()
	if err != nil {
		return nil, err
	}

	return &s3FileInfo{
		name:    f.name,
		size:    stat.Size,
		lastMod: stat.LastModified,
	}, nil
}

func (f *s3File) Read(p []byte) (int, error) {
	return f.object.Read(p)
}

func (f *s3File) Close() error {
	return f.object.Close()
}

func (fs *s3Filesystem) Open(path string) File {
	key := fs.key(path)

	object, err := fs.client.GetObject(context.Background(), fs.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil
	}

	if _, err := object.Stat(); err != nil {
		object.Close()
		return nil
	}

	return &s3File{
		name:   "/" + key,
		object: object,
	}
}

func (fs *s3Filesystem) ReadFile(path string) ([]byte, error) {
	file := fs.Open(path)
	if file == nil {
		return nil, os.ErrNotExist
	}

	defer file.Close()

	return io.ReadAll(file)
}

func (fs *s3Filesystem) Stat(path string) (FileInfo, error) {
	key := fs.key(path)

	stat, err := fs.client.StatObject(context.Background(), fs.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return nil, err
	}

	return &s3FileInfo{
		name:    "/" + key,
		size:    stat.Size,
		lastMod: stat.LastModified,
	}, nil
}

func (fs *s3Filesystem) List(path, pattern string) []FileInfo {
	prefix := fs.key(path)

	var compiled glob.Glob
	if len(pattern) != 0 {
		var err error
		compiled, err = glob.Compile(pattern, '/')
		if err != nil {
			return nil
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	files := []FileInfo{}

	for object := range fs.client.ListObjects(ctx, fs.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if object.Err != nil {
			fs.logger.WithError(object.Err).Error().Log("Listing object failed")
			continue
		}

		if compiled != nil && !compiled.Match(filepath.Base(object.Key)) {
			continue
		}

		files = append(files, &s3FileInfo{
			name:    "/" + object.Key,
			size:    object.Size,
			lastMod: object.LastModified,
		})
	}

	return files
}

func (fs *s3Filesystem) WriteFileReader(path string, r io.Reader) (int64, bool, error) {
	key := fs.key(path)

	replace := true
	if _, err := fs.client.StatObject(context.Background(), fs.bucket, key, minio.StatObjectOptions{}); err != nil {
		replace = false
	}

	info, err := fs.client.PutObject(context.Background(), fs.bucket, key, r, -1, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return -1, false, fmt.Errorf("uploading object failed: %w", err)
	}

	return info.Size, !replace, nil
}

func (fs *s3Filesystem) WriteFile(path string, data []byte) (int64, bool, error) {
	return fs.WriteFileReader(path, bytes.NewReader(data))
}

type s3AppendFile struct {
	name   string
	writer *io.PipeWriter

	done chan error
}

func (f *s3AppendFile) Name() string { return f.name }

func (f *s3AppendFile) Write(p []byte) (int, error) {
	return f.writer.Write(p)
}

func (f *s3AppendFile) Close() error {
	f.writer.Close()

	return <-f.done
}

// OpenAppend streams all written bytes into one object. The returned file
// does not support WriteAt; sinks that patch earlier offsets cannot target
// S3 and have to reject the URI at configuration time.
func (fs *s3Filesystem) OpenAppend(path string) (AppendFile, error) {
	key := fs.key(path)

	r, w := io.Pipe()

	file := &s3AppendFile{
		name:   "/" + key,
		writer: w,
		done:   make(chan error, 1),
	}

	go func() {
		_, err := fs.client.PutObject(context.Background(), fs.bucket, key, r, -1, minio.PutObjectOptions{
			ContentType: "application/octet-stream",
		})

		r.CloseWithError(err)

		file.done <- err
	}()

	return file, nil
}

func (fs *s3Filesystem) MkdirAll(_ string, _ os.FileMode) error {
	// Buckets have no directories.
	return nil
}

func (fs *s3Filesystem) Remove(path string) int64 {
	key := fs.key(path)

	stat, err := fs.client.StatObject(context.Background(), fs.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return -1
	}

	if err := fs.client.RemoveObject(context.Background(), fs.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return -1
	}

	return stat.Size
}

func (fs *s3Filesystem) RemoveAll() int64 {
	size := int64(0)

	for _, file := range fs.List("/", "") {
		if n := fs.Remove(file.Name()); n > 0 {
			size += n
		}
	}

	return size
}
