// Package storage is a small key/value file store over viant/afs. Keys are slash-separated
// paths below a base URL (file://, mem:// or s3://).
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/edgeflare/mimir/pkg/config"
	"github.com/viant/afs"
	"github.com/viant/afs/file"
	afsstorage "github.com/viant/afs/storage"
	"github.com/viant/afs/url"
	_ "github.com/viant/afsc/s3"
)

var (
	ErrUnsupportedStorage = errors.New("unsupported storage type")
	ErrNotFound           = errors.New("object not found")
	ErrInvalidKey         = errors.New("invalid storage key")
)

// Storage reads and writes objects below Base.
type Storage struct {
	Base string

	fs      afs.Service
	options []afsstorage.Option
}

// New builds the storage selected by STORAGE_TYPE.
func New(cfg config.StorageConfig) (*Storage, error) {
	switch strings.ToLower(cfg.Type) {
	case "opendal":
		return newOpenDAL(cfg)
	case "local":
		return NewFile(cfg.OpenDALFSRoot)
	case "s3":
		return newS3(cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedStorage, cfg.Type)
	}
}

func newOpenDAL(cfg config.StorageConfig) (*Storage, error) {
	switch strings.ToLower(cfg.OpenDALScheme) {
	case "fs", "":
		return NewFile(cfg.OpenDALFSRoot)
	case "memory":
		return NewWithBase("mem://localhost/" + strings.Trim(cfg.OpenDALFSRoot, "/")), nil
	default:
		return nil, fmt.Errorf("%w: opendal scheme %q", ErrUnsupportedStorage, cfg.OpenDALScheme)
	}
}

// NewFile stores objects in the local directory root.
func NewFile(root string) (*Storage, error) {
	if root == "" {
		root = "storage"
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	return NewWithBase("file://" + filepath.ToSlash(abs)), nil
}

func newS3(cfg config.StorageConfig) (*Storage, error) {
	if cfg.S3BucketName == "" {
		return nil, errors.New("S3_BUCKET_NAME must be set when STORAGE_TYPE is s3")
	}

	awsCfg := &aws.Config{S3ForcePathStyle: aws.Bool(cfg.S3AddressStyle == "path")}
	if cfg.S3Region != "" {
		awsCfg.Region = aws.String(cfg.S3Region)
	}
	if cfg.S3Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.S3Endpoint)
	}
	if !cfg.S3UseAWSManagedIAM && cfg.S3AccessKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.S3AccessKey, cfg.S3SecretKey, "")
	}
	return NewWithBase("s3://"+cfg.S3BucketName, awsCfg), nil
}

// NewWithBase returns a storage rooted at base. options are handed to every afs call.
func NewWithBase(base string, options ...afsstorage.Option) *Storage {
	return &Storage{
		Base:    strings.TrimRight(base, "/"),
		fs:      afs.New(),
		options: options,
	}
}

// URL returns the absolute URL for key.
func (s *Storage) URL(key string) (string, error) {
	clean := strings.Trim(key, "/")
	if clean == "" {
		return "", ErrInvalidKey
	}
	for _, part := range strings.Split(clean, "/") {
		if part == ".." {
			return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return url.Join(s.Base, clean), nil
}

// resolve accepts an absolute URL as is, otherwise treats location as a key.
func (s *Storage) resolve(location string) (string, error) {
	if strings.Contains(location, "://") {
		return location, nil
	}
	return s.URL(location)
}

func (s *Storage) Save(ctx context.Context, key string, data []byte) error {
	u, err := s.URL(key)
	if err != nil {
		return err
	}
	if err := s.fs.Upload(ctx, u, file.DefaultFileOsMode, bytes.NewReader(data), s.options...); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

// Load reads key, or an absolute URL such as file:///tmp/doc.txt.
func (s *Storage) Load(ctx context.Context, location string) ([]byte, error) {
	u, err := s.resolve(location)
	if err != nil {
		return nil, err
	}
	ok, err := s.fs.Exists(ctx, u, s.options...)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", location, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, location)
	}
	data, err := s.fs.DownloadWithURL(ctx, u, s.options...)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", location, err)
	}
	return data, nil
}

func (s *Storage) Exists(ctx context.Context, key string) (bool, error) {
	u, err := s.resolve(key)
	if err != nil {
		return false, err
	}
	return s.fs.Exists(ctx, u, s.options...)
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Storage) Delete(ctx context.Context, key string) error {
	u, err := s.URL(key)
	if err != nil {
		return err
	}
	ok, err := s.fs.Exists(ctx, u, s.options...)
	if err != nil || !ok {
		return err
	}
	return s.fs.Delete(ctx, u, s.options...)
}

// List returns the keys of files directly below prefix, sorted. An empty prefix lists the base.
func (s *Storage) List(ctx context.Context, prefix string) ([]string, error) {
	dir := s.Base
	if p := strings.Trim(prefix, "/"); p != "" {
		var err error
		if dir, err = s.URL(p); err != nil {
			return nil, err
		}
	}
	ok, err := s.fs.Exists(ctx, dir, s.options...)
	if err != nil || !ok {
		return nil, err
	}

	objects, err := s.fs.List(ctx, dir, s.options...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	var keys []string
	for _, o := range objects {
		if o.IsDir() {
			continue
		}
		keys = append(keys, s.key(o.URL()))
	}
	sort.Strings(keys)
	return keys, nil
}

// key maps an object URL back to its key. afs rewrites hosts (file:/// becomes
// file://localhost/), so only the paths are compared.
func (s *Storage) key(objectURL string) string {
	base := strings.TrimRight(url.Path(s.Base), "/")
	return strings.TrimPrefix(strings.TrimPrefix(url.Path(objectURL), base), "/")
}
