package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/edgeflare/mimir/pkg/metrics"
	"github.com/edgeflare/mimir/pkg/redisx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// CachedEncoder keeps raw vectors in Redis under emb:<model>:<sha256(text)>. Redis failures
// fall back to the wrapped encoder.
type CachedEncoder struct {
	inner  Encoder
	rdb    redis.UniversalClient
	model  string
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedEncoder wraps inner. A zero ttl keeps entries forever.
func NewCachedEncoder(inner Encoder, rdb redis.UniversalClient, model string, ttl time.Duration, logger *zap.Logger) *CachedEncoder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedEncoder{inner: inner, rdb: rdb, model: model, ttl: ttl, logger: logger}
}

// CachingFactory wraps every encoder built by inner in a CachedEncoder keyed by model name.
func CachingFactory(inner EncoderFactory, rdb redis.UniversalClient, ttl time.Duration, logger *zap.Logger) EncoderFactory {
	return func(name, path string, modelKwargs map[string]any) (Encoder, error) {
		enc, err := inner(name, path, modelKwargs)
		if err != nil {
			return nil, err
		}
		return NewCachedEncoder(enc, rdb, name, ttl, logger), nil
	}
}

// CacheKey returns the Redis key for text under model.
func CacheKey(model, text string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("emb:%s:%s", model, hex.EncodeToString(sum[:]))
}

func (c *CachedEncoder) Encode(ctx context.Context, texts []string, opts EncodeOptions) ([][]float32, error) {
	out := c.lookup(ctx, texts)

	var missIdx []int
	var missTexts []string
	for i, v := range out {
		if v == nil {
			missIdx = append(missIdx, i)
			missTexts = append(missTexts, texts[i])
		}
	}
	if hits := len(texts) - len(missIdx); hits > 0 {
		metrics.EmbeddingCacheHits.WithLabelValues(c.model).Add(float64(hits))
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	fresh, err := c.inner.Encode(ctx, missTexts, opts)
	if err != nil {
		return nil, err
	}
	if len(fresh) != len(missTexts) {
		return nil, fmt.Errorf("encoder returned %d vectors for %d texts", len(fresh), len(missTexts))
	}
	for j, i := range missIdx {
		out[i] = fresh[j]
	}
	c.store(ctx, missTexts, fresh)
	return out, nil
}

// lookup returns one slot per text; misses and failures are nil.
func (c *CachedEncoder) lookup(ctx context.Context, texts []string) [][]float32 {
	return redisx.Fallback(c.logger, "embedding cache get", make([][]float32, len(texts)), func() ([][]float32, error) {
		pipe := c.rdb.Pipeline()
		cmds := make([]*redis.StringCmd, len(texts))
		for i, t := range texts {
			cmds[i] = pipe.Get(ctx, CacheKey(c.model, t))
		}
		if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
			return nil, err
		}

		out := make([][]float32, len(texts))
		for i, cmd := range cmds {
			b, err := cmd.Bytes()
			if err != nil {
				continue
			}
			if v, ok := decodeVector(b); ok {
				out[i] = v
			}
		}
		return out, nil
	})
}

func (c *CachedEncoder) store(ctx context.Context, texts []string, vectors [][]float32) {
	redisx.Fallback(c.logger, "embedding cache set", struct{}{}, func() (struct{}, error) {
		pipe := c.rdb.Pipeline()
		for i, t := range texts {
			pipe.Set(ctx, CacheKey(c.model, t), encodeVector(vectors[i]), c.ttl)
		}
		_, err := pipe.Exec(ctx)
		return struct{}{}, err
	})
}

func encodeVector(v []float32) []byte {
	b := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(x))
	}
	return b
}

func decodeVector(b []byte) ([]float32, bool) {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil, false
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, true
}
