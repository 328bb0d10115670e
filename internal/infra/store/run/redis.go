package runstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/you-humble/apsplot/internal/domain"
)

// expiryGrace keeps the hash around a little longer than the index so the
// cleanup loop, not redis, decides when a run disappears.
const expiryGrace = time.Hour

type redisRunStore struct {
	rdb redis.Cmdable
	now func() time.Time
}

func NewRedisRunStore(rdb redis.Cmdable) *redisRunStore {
	return &redisRunStore{rdb: rdb, now: time.Now}
}

func (s *redisRunStore) Create(ctx context.Context, p domain.CreateRunParams) (domain.Run, error) {
	now := s.now()
	r := domain.Run{
		ID:         uuid.NewString(),
		Kind:       p.Kind,
		Status:     domain.RunPending,
		SourceName: p.SourceName,
		OutputName: p.OutputName,
		Bucket:     p.Bucket,
		CreatedAt:  now,
		UpdatedAt:  now,
		ExpiresAt:  now.Add(p.TTL),
	}

	hk := runKey(r.ID)
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, hk, map[string]any{
		"id":          r.ID,
		"kind":        string(r.Kind),
		"status":      string(r.Status),
		"source_name": r.SourceName,
		"output_name": r.OutputName,
		"bucket":      r.Bucket,
		"created_at":  r.CreatedAt.UnixNano(),
		"updated_at":  r.UpdatedAt.UnixNano(),
		"expires_at":  r.ExpiresAt.UnixNano(),
	})
	pipe.ExpireAt(ctx, hk, r.ExpiresAt.Add(expiryGrace))
	pipe.ZAdd(ctx, runsByExpiryKey(), redis.Z{
		Score:  float64(r.ExpiresAt.Unix()),
		Member: r.ID,
	})

	if _, err := pipe.Exec(ctx); err != nil {
		return domain.Run{}, fmt.Errorf("redis pipeline create run: %w", err)
	}
	return r, nil
}

func (s *redisRunStore) Update(ctx context.Context, id string, u domain.RunUpdate) error {
	hk := runKey(id)

	exists, err := s.rdb.Exists(ctx, hk).Result()
	if err != nil {
		return fmt.Errorf("redis exists run %s: %w", id, err)
	}
	if exists == 0 {
		return fmt.Errorf("update run %s: %w", id, domain.ErrRunNotFound)
	}

	fields := map[string]any{"updated_at": s.now().UnixNano()}
	setString := func(key, v string) {
		if v != "" {
			fields[key] = v
		}
	}
	setString("status", string(u.Status))
	setString("urn", u.URN)
	setString("work_item_id", u.WorkItemID)
	setString("translation_status", u.TranslationStatus)
	setString("work_item_status", u.WorkItemStatus)
	setString("output_path", u.OutputPath)
	setString("error", u.Error)
	if u.OutputSize > 0 {
		fields["output_size"] = u.OutputSize
	}
	if u.PageCount > 0 {
		fields["page_count"] = u.PageCount
	}

	if err := s.rdb.HSet(ctx, hk, fields).Err(); err != nil {
		return fmt.Errorf("redis update run %s: %w", id, err)
	}
	return nil
}

func (s *redisRunStore) Run(ctx context.Context, id string) (domain.Run, error) {
	res, err := s.rdb.HGetAll(ctx, runKey(id)).Result()
	if err != nil {
		return domain.Run{}, fmt.Errorf("redis get run %s: %w", id, err)
	}
	if len(res) == 0 {
		return domain.Run{}, domain.ErrRunNotFound
	}

	r := domain.Run{
		ID:                id,
		Kind:              domain.RunKind(res["kind"]),
		Status:            domain.RunStatus(res["status"]),
		SourceName:        res["source_name"],
		OutputName:        res["output_name"],
		Bucket:            res["bucket"],
		URN:               res["urn"],
		WorkItemID:        res["work_item_id"],
		TranslationStatus: res["translation_status"],
		WorkItemStatus:    res["work_item_status"],
		OutputPath:        res["output_path"],
		Error:             res["error"],
		OutputSize:        parseInt(res["output_size"]),
		PageCount:         int(parseInt(res["page_count"])),
		CreatedAt:         parseTime(res["created_at"]),
		UpdatedAt:         parseTime(res["updated_at"]),
		ExpiresAt:         parseTime(res["expires_at"]),
	}
	return r, nil
}

// DeleteExpired removes every run whose expiry is not after now.
func (s *redisRunStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	ids, err := s.rdb.ZRangeByScore(ctx, runsByExpiryKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.Unix(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("redis range expired runs: %w", err)
	}

	var errs []error
	deleted := 0
	for _, id := range ids {
		pipe := s.rdb.TxPipeline()
		pipe.Del(ctx, runKey(id))
		pipe.ZRem(ctx, runsByExpiryKey(), id)
		if _, err := pipe.Exec(ctx); err != nil {
			errs = append(errs, fmt.Errorf("delete run %s: %w", id, err))
			continue
		}
		deleted++
	}
	return deleted, errors.Join(errs...)
}

func parseInt(v string) int64 {
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func parseTime(v string) time.Time {
	n := parseInt(v)
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func runKey(id string) string {
	return "run:" + id
}

func runsByExpiryKey() string {
	return "runs:by_expiry"
}
