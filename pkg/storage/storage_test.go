package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/edgeflare/mimir/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	root := t.TempDir()
	tests := []struct {
		name       string
		cfg        config.StorageConfig
		wantPrefix string
		wantErr    error
	}{
		{name: "opendal fs", cfg: config.StorageConfig{Type: "opendal", OpenDALScheme: "fs", OpenDALFSRoot: root}, wantPrefix: "file://"},
		{name: "local", cfg: config.StorageConfig{Type: "local", OpenDALFSRoot: root}, wantPrefix: "file://"},
		{name: "opendal memory", cfg: config.StorageConfig{Type: "opendal", OpenDALScheme: "memory", OpenDALFSRoot: "t"}, wantPrefix: "mem://localhost/t"},
		{name: "s3", cfg: config.StorageConfig{Type: "s3", S3BucketName: "docs", S3AddressStyle: "path"}, wantPrefix: "s3://docs"},
		{name: "aliyun oss", cfg: config.StorageConfig{Type: "aliyun-oss"}, wantErr: ErrUnsupportedStorage},
		{name: "opendal s3 scheme", cfg: config.StorageConfig{Type: "opendal", OpenDALScheme: "s3"}, wantErr: ErrUnsupportedStorage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(tt.cfg)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(s.Base, tt.wantPrefix), s.Base)
		})
	}

	_, err := New(config.StorageConfig{Type: "s3"})
	assert.Error(t, err)
}

func TestFileStorage(t *testing.T) {
	root := t.TempDir()
	s, err := NewFile(root)
	require.NoError(t, err)
	ctx := t.Context()

	require.NoError(t, s.Save(ctx, "docs/a.txt", []byte("alpha")))
	require.NoError(t, s.Save(ctx, "docs/b.txt", []byte("beta")))

	onDisk, err := os.ReadFile(filepath.Join(root, "docs", "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "alpha", string(onDisk))

	data, err := s.Load(ctx, "docs/b.txt")
	require.NoError(t, err)
	assert.Equal(t, "beta", string(data))

	ok, err := s.Exists(ctx, "docs/a.txt")
	require.NoError(t, err)
	assert.True(t, ok)

	keys, err := s.List(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, []string{"docs/a.txt", "docs/b.txt"}, keys)

	require.NoError(t, s.Delete(ctx, "docs/a.txt"))
	require.NoError(t, s.Delete(ctx, "docs/a.txt"))
	ok, err = s.Exists(ctx, "docs/a.txt")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Load(ctx, "docs/missing.txt")
	assert.ErrorIs(t, err, ErrNotFound)

	keys, err = s.List(ctx, "nothing-here")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestLoadAbsoluteURL(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "outside.txt")
	require.NoError(t, os.WriteFile(path, []byte("outside"), 0o600))

	s, err := NewFile(t.TempDir())
	require.NoError(t, err)
	data, err := s.Load(t.Context(), "file://"+filepath.ToSlash(path))
	require.NoError(t, err)
	assert.Equal(t, "outside", string(data))
}

func TestKeyFromObjectURL(t *testing.T) {
	tests := []struct {
		base string
		url  string
		want string
	}{
		{base: "file:///tmp/root", url: "file://localhost/tmp/root/docs/a.txt", want: "docs/a.txt"},
		{base: "file:///tmp/root", url: "file:///tmp/root/a.txt", want: "a.txt"},
		{base: "mem://localhost/t", url: "mem://localhost/t/x/y.txt", want: "x/y.txt"},
		{base: "s3://docs", url: "s3://docs/reports/q1.txt", want: "reports/q1.txt"},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, NewWithBase(tt.base).key(tt.url))
		})
	}
}

func TestMemStorageList(t *testing.T) {
	s := NewWithBase("mem://localhost/mimir-list")
	ctx := t.Context()

	require.NoError(t, s.Save(ctx, "docs/b.txt", []byte("b")))
	require.NoError(t, s.Save(ctx, "docs/a.txt", []byte("a")))

	keys, err := s.List(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, []string{"docs/a.txt", "docs/b.txt"}, keys)
}

func TestInvalidKeys(t *testing.T) {
	s := NewWithBase("mem://localhost/keys")
	for _, key := range []string{"", "/", "../escape", "a/../../b"} {
		t.Run(key, func(t *testing.T) {
			_, err := s.URL(key)
			assert.ErrorIs(t, err, ErrInvalidKey)
		})
	}
}

func TestMemStorage(t *testing.T) {
	s := NewWithBase("mem://localhost/mimir-test")
	ctx := t.Context()

	require.NoError(t, s.Save(ctx, "x.txt", []byte("x")))
	data, err := s.Load(ctx, "x.txt")
	require.NoError(t, err)
	assert.Equal(t, "x", string(data))
}
