// Package sink provides the built-in storage devices: a raw frame-stream
// writer, a BigTIFF writer, a side-by-side TIFF writer that keeps the
// external metadata next to the frame data, and a trash sink that
// discards everything.
//
// Sinks write through the io/fs abstraction. A destination URI may be a
// plain path, a path with a file:// prefix (which is stripped on
// ingestion), or an s3://endpoint/bucket/key URI backed by the S3
// filesystem using the access key and secret from the storage
// properties.
package sink

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/lightsheet/acquire/device"
	"github.com/lightsheet/acquire/io/fs"
	"github.com/lightsheet/acquire/log"
	"github.com/lightsheet/acquire/props"
)

var sinkNames = []string{"raw", "tiff", "tiff-json", "trash"}

// Config is the configuration for the storage driver.
type Config struct {
	// Filesystem overrides the backend all file sinks write to. When
	// nil, paths go to the local disk and s3:// URIs to the S3
	// backend.
	Filesystem fs.Filesystem

	// For logging, optional
	Logger log.Logger
}

// Driver is the built-in storage driver.
type Driver struct {
	fsys   fs.Filesystem
	logger log.Logger
}

// New returns the storage driver.
func New(config Config) *Driver {
	logger := config.Logger
	if logger == nil {
		logger = log.New("")
	}

	return &Driver{
		fsys:   config.Filesystem,
		logger: logger.WithComponent("Storage"),
	}
}

func (d *Driver) Name() string {
	return "common"
}

func (d *Driver) DeviceCount() int {
	return len(sinkNames)
}

func (d *Driver) Describe(index int) (device.Identifier, error) {
	if index < 0 || index >= len(sinkNames) {
		return device.Identifier{}, fmt.Errorf("no device at index %d", index)
	}

	return device.Identifier{
		Kind: device.KindStorage,
		Name: sinkNames[index],
	}, nil
}

func (d *Driver) Open(index int) (device.Device, error) {
	id, err := d.Describe(index)
	if err != nil {
		return nil, err
	}

	base := base{
		id:     id,
		logger: d.logger.WithField("device", id.Name),
		fsys:   d.fsys,
		state:  device.StateAwaitingConfiguration,
	}

	switch id.Name {
	case "raw":
		return &rawSink{base: base}, nil
	case "tiff":
		return &tiffSink{base: base}, nil
	case "tiff-json":
		return &sideBySideSink{base: base}, nil
	case "trash":
		return &trashSink{base: base}, nil
	}

	return nil, fmt.Errorf("no such sink %s", id.Name)
}

func (d *Driver) Close(dev device.Device) error {
	s, ok := dev.(device.Storage)
	if !ok {
		return fmt.Errorf("not a storage sink")
	}

	s.Destroy()

	return nil
}

func (d *Driver) Shutdown() error {
	return nil
}

// base carries the state shared by all sinks.
type base struct {
	id     device.Identifier
	logger log.Logger

	state device.State
	props props.StorageProperties
	fsys  fs.Filesystem
}

func (b *base) Identifier() device.Identifier {
	return b.id
}

func (b *base) Properties() props.StorageProperties {
	return b.props
}

func (b *base) fail(format string, args ...interface{}) device.State {
	b.logger.Error().Log(format, args...)
	b.state = device.StateAwaitingConfiguration

	return b.state
}

// stripFileScheme removes a leading file:// from the URI. The sink
// reports the stripped form.
func stripFileScheme(uri string) string {
	return strings.TrimPrefix(uri, "file://")
}

// ingest validates the properties common to all file sinks, strips the
// URI scheme, copies everything into owned storage, and resolves the
// filesystem the sink writes to. Returns the resolved path within that
// filesystem.
func (b *base) ingest(p *props.StorageProperties) (string, error) {
	if err := p.URI.Validate(); err != nil {
		return "", fmt.Errorf("storage URI: %w", err)
	}

	if err := props.CopyStorageProperties(&b.props, p); err != nil {
		return "", err
	}

	uri := stripFileScheme(b.props.URI.Str())

	if strings.HasPrefix(uri, "s3://") {
		target, err := b.resolveS3(uri)
		if err != nil {
			return "", err
		}

		b.props.SetURI(append([]byte(uri), 0))

		return target, nil
	}

	if b.fsys == nil {
		fsys, err := fs.NewDiskFilesystem(fs.DiskConfig{
			Logger: b.logger,
		})
		if err != nil {
			return "", err
		}

		b.fsys = fsys
	}

	b.props.SetURI(append([]byte(uri), 0))

	return uri, nil
}

// resolveS3 connects the sink to the bucket named by an
// s3://endpoint/bucket/key URI, using the credentials from the
// properties. Returns the object key.
func (b *base) resolveS3(uri string) (string, error) {
	rest := strings.TrimPrefix(uri, "s3://")

	parts := strings.SplitN(rest, "/", 3)
	if len(parts) < 3 {
		return "", fmt.Errorf("s3 URI %q needs endpoint, bucket, and key", uri)
	}

	if b.props.AccessKeyID.NBytes() == 0 || b.props.SecretAccessKey.NBytes() == 0 {
		return "", errors.New("s3 URIs require an access key and secret")
	}

	fsys, err := fs.NewS3Filesystem(fs.S3Config{
		Endpoint:        parts[0],
		Bucket:          parts[1],
		AccessKeyID:     b.props.AccessKeyID.Str(),
		SecretAccessKey: b.props.SecretAccessKey.Str(),
		UseSSL:          true,
		Logger:          b.logger,
	})
	if err != nil {
		return "", err
	}

	b.fsys = fsys

	return parts[2], nil
}

// requireWritableFile checks that the parent directory of a single-file
// target exists.
func requireWritableFile(fsys fs.Filesystem, target string) error {
	dir := path.Dir(target)

	if dir == "." || dir == "/" || dir == "" {
		return nil
	}

	info, err := fsys.Stat(dir)
	if err != nil {
		return fmt.Errorf("parent directory %s does not exist: %w", dir, err)
	}

	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}

	return nil
}
