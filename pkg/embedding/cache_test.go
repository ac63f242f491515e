package embedding

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestCachedEncoder(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	inner := &stubEncoder{}
	enc := NewCachedEncoder(inner, rdb, "m", time.Minute, nil)

	first, err := enc.Encode(t.Context(), []string{"aa", "bbb"}, EncodeOptions{})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{2, 0}, {3, 1}}, first)
	assert.True(t, mr.Exists(CacheKey("m", "aa")))
	assert.Equal(t, time.Minute, mr.TTL(CacheKey("m", "aa")))

	// only "c" reaches the inner encoder
	second, err := enc.Encode(t.Context(), []string{"bbb", "c", "aa"}, EncodeOptions{})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{3, 1}, {1, 0}, {2, 0}}, second)
	assert.Equal(t, []int{2, 1}, inner.batches)

	_, err = enc.Encode(t.Context(), []string{"aa", "c"}, EncodeOptions{})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 1}, inner.batches, "fully cached request skips the encoder")
}

func TestCachedEncoderRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	mr.Close()

	core, logs := observer.New(zap.WarnLevel)
	inner := &stubEncoder{}
	enc := NewCachedEncoder(inner, rdb, "m", 0, zap.New(core))

	vectors, err := enc.Encode(t.Context(), []string{"xyz"}, EncodeOptions{})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{3, 0}}, vectors)
	assert.NotZero(t, logs.FilterMessage("redis operation failed").Len())
}

func TestCachingFactory(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	inner := &stubEncoder{}
	factory := CachingFactory(func(string, string, map[string]any) (Encoder, error) {
		return inner, nil
	}, rdb, 0, nil)

	enc, err := factory("bge", "/embeddings/bge", nil)
	require.NoError(t, err)
	require.IsType(t, &CachedEncoder{}, enc)

	_, err = enc.Encode(t.Context(), []string{"x"}, EncodeOptions{})
	require.NoError(t, err)
	assert.True(t, mr.Exists(CacheKey("bge", "x")))
	assert.Zero(t, mr.TTL(CacheKey("bge", "x")))

	failing := CachingFactory(func(string, string, map[string]any) (Encoder, error) {
		return nil, ErrModelNotFound
	}, rdb, 0, nil)
	_, err = failing("bge", "", nil)
	assert.ErrorIs(t, err, ErrModelNotFound)
}

func TestCacheKey(t *testing.T) {
	k := CacheKey("bge", "hello")
	assert.Equal(t, "emb:bge:2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", k)
}

func TestVectorCodec(t *testing.T) {
	v := []float32{1.5, -2, 0}
	got, ok := decodeVector(encodeVector(v))
	require.True(t, ok)
	assert.Equal(t, v, got)

	_, ok = decodeVector([]byte{1, 2, 3})
	assert.False(t, ok)
}
