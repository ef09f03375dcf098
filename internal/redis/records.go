package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/drug-speak/internal/config"
	"github.com/drug-speak/internal/domain"
)

// ErrCacheMiss is returned when the requested data is not cached
var ErrCacheMiss = errors.New("cache miss")

// Cache keys. The staging pair is filled by a reload and renamed over the
// live pair on commit.
const (
	recordsKey        = "study_records:data"
	scoresKey         = "study_records:scores"
	warmKey           = "study_records:warm"
	stagingRecordsKey = "study_records:staging:data"
	stagingScoresKey  = "study_records:staging:scores"
)

// RecordCache caches study records: a hash of JSON records keyed by user ID
// and a sorted set of total scores
type RecordCache struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRecordCache creates a new Redis study-record cache
func NewRecordCache(ctx context.Context, cfg *config.RedisConfig, logger *slog.Logger) (*RecordCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &RecordCache{
		client: client,
		logger: logger,
	}, nil
}

// Close closes the Redis connection
func (c *RecordCache) Close() error {
	return c.client.Close()
}

// Ping checks Redis connectivity
func (c *RecordCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func encodeRecord(rec domain.UserStudyRecord) (string, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("encoding study record: %w", err)
	}
	return string(data), nil
}

func decodeRecord(data string) (domain.UserStudyRecord, error) {
	var rec domain.UserStudyRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return rec, fmt.Errorf("decoding study record: %w", err)
	}
	return rec, nil
}

// SetRecord writes one record. It is a no-op for the listing until the
// cache has been warmed by a full reload.
func (c *RecordCache) SetRecord(ctx context.Context, rec domain.UserStudyRecord) error {
	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, recordsKey, rec.UserID, data)
	pipe.ZAdd(ctx, scoresKey, redis.Z{Score: float64(rec.TotalScore), Member: rec.UserID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("setting study record: %w", err)
	}
	return nil
}

// SetRecords writes many records in one pipeline
func (c *RecordCache) SetRecords(ctx context.Context, records []domain.UserStudyRecord) error {
	return c.writeRecords(ctx, recordsKey, scoresKey, records)
}

func (c *RecordCache) writeRecords(ctx context.Context, dataKey, zKey string, records []domain.UserStudyRecord) error {
	if len(records) == 0 {
		return nil
	}

	fields := make([]any, 0, 2*len(records))
	members := make([]redis.Z, 0, len(records))
	for _, rec := range records {
		data, err := encodeRecord(rec)
		if err != nil {
			return err
		}
		fields = append(fields, rec.UserID, data)
		members = append(members, redis.Z{Score: float64(rec.TotalScore), Member: rec.UserID})
	}

	pipe := c.client.Pipeline()
	pipe.HSet(ctx, dataKey, fields...)
	pipe.ZAdd(ctx, zKey, members...)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("batch setting study records: %w", err)
	}
	return nil
}

// GetRecord returns one cached record
func (c *RecordCache) GetRecord(ctx context.Context, userID string) (*domain.UserStudyRecord, error) {
	data, err := c.client.HGet(ctx, recordsKey, userID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("getting study record: %w", err)
	}
	rec, err := decodeRecord(data)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListRecords returns every cached record. ErrCacheMiss means the cache has
// not been warmed and may be incomplete.
func (c *RecordCache) ListRecords(ctx context.Context) ([]domain.UserStudyRecord, error) {
	pipe := c.client.Pipeline()
	warmCmd := pipe.Exists(ctx, warmKey)
	valsCmd := pipe.HVals(ctx, recordsKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("listing study records: %w", err)
	}
	if warmCmd.Val() == 0 {
		return nil, ErrCacheMiss
	}

	values := valsCmd.Val()
	records := make([]domain.UserStudyRecord, 0, len(values))
	for _, v := range values {
		rec, err := decodeRecord(v)
		if err != nil {
			c.logger.Warn("skipping corrupt cached study record", "error", err)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// Count returns the number of cached records
func (c *RecordCache) Count(ctx context.Context) (int64, error) {
	count, err := c.client.ZCard(ctx, scoresKey).Result()
	if err != nil {
		return 0, fmt.Errorf("getting count: %w", err)
	}
	return count, nil
}

// ScoreBounds returns the highest and lowest cached total scores
func (c *RecordCache) ScoreBounds(ctx context.Context) (top, lowest int, err error) {
	pipe := c.client.Pipeline()
	topCmd := pipe.ZRevRangeWithScores(ctx, scoresKey, 0, 0)
	lowCmd := pipe.ZRangeWithScores(ctx, scoresKey, 0, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, fmt.Errorf("getting score bounds: %w", err)
	}
	if t := topCmd.Val(); len(t) > 0 {
		top = int(t[0].Score)
	}
	if l := lowCmd.Val(); len(l) > 0 {
		lowest = int(l[0].Score)
	}
	return top, lowest, nil
}

// ResetStaging clears any leftover staging data before a reload
func (c *RecordCache) ResetStaging(ctx context.Context) error {
	if err := c.client.Del(ctx, stagingRecordsKey, stagingScoresKey).Err(); err != nil {
		return fmt.Errorf("resetting staging: %w", err)
	}
	return nil
}

// StageRecords adds a batch of records to the staging set
func (c *RecordCache) StageRecords(ctx context.Context, records []domain.UserStudyRecord) error {
	return c.writeRecords(ctx, stagingRecordsKey, stagingScoresKey, records)
}

// CommitStaged atomically replaces the live records with the staged ones and
// marks the cache warm. staged is the number of records staged.
func (c *RecordCache) CommitStaged(ctx context.Context, staged int) error {
	pipe := c.client.TxPipeline()
	if staged == 0 {
		pipe.Del(ctx, recordsKey, scoresKey)
	} else {
		pipe.Rename(ctx, stagingRecordsKey, recordsKey)
		pipe.Rename(ctx, stagingScoresKey, scoresKey)
	}
	pipe.Set(ctx, warmKey, 1, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("committing staged records: %w", err)
	}
	return nil
}

// ReplaceAll swaps the whole cache for records and marks it warm
func (c *RecordCache) ReplaceAll(ctx context.Context, records []domain.UserStudyRecord) error {
	if err := c.ResetStaging(ctx); err != nil {
		return err
	}
	if err := c.StageRecords(ctx, records); err != nil {
		return err
	}
	return c.CommitStaged(ctx, len(records))
}

// Invalidate drops every cached record so reads fall back to the database
func (c *RecordCache) Invalidate(ctx context.Context) error {
	if err := c.client.Del(ctx, warmKey, recordsKey, scoresKey).Err(); err != nil {
		return fmt.Errorf("invalidating cache: %w", err)
	}
	return nil
}
