package counter

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/PayGuard/app/repository"
)

const (
	apiKeyUsageKey  = "apikey:counters:usage"
	apiKeyMetaKeyFn = "apikey:counters:meta:%s"

	metaLastUsed  = "last_used"
	metaIP        = "ip"
	metaUserAgent = "ua"
)

// APIKeyUsage buffers per-key request counts in Redis and periodically drains
// them into the api_key_usages table.
type APIKeyUsage struct {
	rdb  redis.Cmdable
	repo repository.APIKeyUsageRepository
	now  func() time.Time
}

func NewAPIKeyUsage(rdb redis.Cmdable, repo repository.APIKeyUsageRepository) *APIKeyUsage {
	return &APIKeyUsage{rdb: rdb, repo: repo, now: time.Now}
}

// Record increments the pending counter for keyID and stores last-seen metadata
func (c *APIKeyUsage) Record(ctx context.Context, keyID, ip, userAgent string) error {
	if keyID == "" {
		return nil
	}
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, apiKeyUsageKey, keyID, 1)
		pipe.HSet(ctx, fmt.Sprintf(apiKeyMetaKeyFn, keyID),
			metaLastUsed, c.now().UTC().Format(time.RFC3339),
			metaIP, ip,
			metaUserAgent, truncate(userAgent, 255),
		)
		return nil
	})
	return err
}

// Flush drains the pending counters into the repository.
// Uses RENAME to a temporary key so increments arriving during the flush land
// in a fresh hash.
func (c *APIKeyUsage) Flush(ctx context.Context) (int, error) {
	tmpKey := fmt.Sprintf("%s:tmp:%d", apiKeyUsageKey, c.now().UnixNano())
	if err := c.rdb.Rename(ctx, apiKeyUsageKey, tmpKey).Err(); err != nil {
		if isNoSuchKey(err) {
			return 0, nil
		}
		return 0, err
	}
	defer c.rdb.Del(ctx, tmpKey)

	data, err := c.rdb.HGetAll(ctx, tmpKey).Result()
	if err != nil {
		return 0, err
	}

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	flushed := 0
	var errs []error
	for _, keyID := range keys {
		inc, perr := strconv.ParseInt(data[keyID], 10, 64)
		if perr != nil || inc == 0 {
			continue
		}

		var lastUsed *time.Time
		var ip, ua string
		meta, merr := c.rdb.HGetAll(ctx, fmt.Sprintf(apiKeyMetaKeyFn, keyID)).Result()
		if merr == nil {
			if ts, terr := time.Parse(time.RFC3339, meta[metaLastUsed]); terr == nil {
				lastUsed = &ts
			}
			ip = meta[metaIP]
			ua = meta[metaUserAgent]
		}

		if err := c.repo.AddUsage(ctx, keyID, inc, lastUsed, ip, ua); err != nil {
			errs = append(errs, fmt.Errorf("flush %s: %w", keyID, err))
			// put the increment back so it is retried on the next flush
			c.rdb.HIncrBy(ctx, apiKeyUsageKey, keyID, inc)
			continue
		}
		flushed++
	}
	return flushed, errors.Join(errs...)
}

func isNoSuchKey(err error) bool {
	if errors.Is(err, redis.Nil) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "no such key")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
