package pitch

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/OneOfOne/xxhash"
	"github.com/dgraph-io/badger/v3"

	"github.com/MikeSquared-Agency/antiphon/internal/contour"
	"github.com/MikeSquared-Agency/antiphon/internal/section"
)

// Cache memoizes a Provider in badger, keyed by a hash of the audio,
// the requested range and the provider's parameters.
type Cache struct {
	db     *badger.DB
	next   Provider
	logger *slog.Logger
}

// OpenCache opens a badger store in dir, or an in-memory one when dir is empty.
func OpenCache(dir string, next Provider, logger *slog.Logger) (*Cache, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open contour cache: %w", err)
	}
	return &Cache{db: db, next: next, logger: logger}, nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}

func (c *Cache) Contour(ctx context.Context, audio Audio, rng *section.Range) (contour.Contour, error) {
	key := c.key(audio, rng)

	var cached contour.Contour
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &cached)
		})
	})
	switch {
	case err == nil:
		c.logger.Debug("contour cache hit", "frames", cached.Len())
		return cached, nil
	case !errors.Is(err, badger.ErrKeyNotFound):
		c.logger.Warn("contour cache read failed", "error", err)
	}

	fresh, err := c.next.Contour(ctx, audio, rng)
	if err != nil {
		return contour.Contour{}, err
	}
	val, err := json.Marshal(fresh)
	if err != nil {
		return fresh, nil
	}
	if err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, val)
	}); err != nil {
		c.logger.Warn("contour cache write failed", "error", err)
	}
	return fresh, nil
}

func (c *Cache) key(audio Audio, rng *section.Range) []byte {
	h := xxhash.New64()
	if k, ok := c.next.(interface{ CacheKey() string }); ok {
		h.Write([]byte(k.CacheKey()))
	}
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(audio.SampleRate))
	h.Write(buf)
	if rng != nil {
		binary.LittleEndian.PutUint64(buf, math.Float64bits(rng.Start))
		h.Write(buf)
		binary.LittleEndian.PutUint64(buf, math.Float64bits(rng.End))
		h.Write(buf)
	}
	for _, s := range audio.Samples {
		binary.LittleEndian.PutUint64(buf, math.Float64bits(s))
		h.Write(buf)
	}

	key := make([]byte, 0, 16)
	key = append(key, "contour:"...)
	return binary.BigEndian.AppendUint64(key, h.Sum64())
}
