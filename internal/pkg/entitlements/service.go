package entitlements

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/ManuelReschke/PayGuard/app/repository"
	"github.com/ManuelReschke/PayGuard/internal/pkg/logger"
)

const (
	DefaultCacheTTL = 5 * time.Minute
	cacheKeyPrefix  = "entitlements:"
)

// Service loads and changes a user's entitlement set. Reads go through a
// short-lived cache which is dropped on every change.
type Service struct {
	repo  repository.EntitlementRepository
	cache fiber.Storage
	ttl   time.Duration
}

// NewService creates the service. cache may be nil.
func NewService(repo repository.EntitlementRepository, cache fiber.Storage) *Service {
	return &Service{repo: repo, cache: cache, ttl: DefaultCacheTTL}
}

func cacheKey(userID string) string {
	return cacheKeyPrefix + userID
}

// ForUser returns the user's entitlement strings.
func (s *Service) ForUser(ctx context.Context, userID string) ([]string, error) {
	if userID == "" {
		return nil, nil
	}
	if s.cache != nil {
		if raw, err := s.cache.Get(cacheKey(userID)); err == nil && raw != nil {
			var cached []string
			if json.Unmarshal(raw, &cached) == nil {
				return cached, nil
			}
		} else if err != nil {
			logger.Warn(ctx, "entitlement cache read failed", zap.Error(err))
		}
	}

	ents, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load entitlements: %w", err)
	}
	if ents == nil {
		ents = []string{}
	}
	if s.cache != nil {
		if raw, err := json.Marshal(ents); err == nil {
			if err := s.cache.Set(cacheKey(userID), raw, s.ttl); err != nil {
				logger.Warn(ctx, "entitlement cache write failed", zap.Error(err))
			}
		}
	}
	return ents, nil
}

// TierForUser resolves the user's current tier.
func (s *Service) TierForUser(ctx context.Context, userID string) (Tier, []string, error) {
	ents, err := s.ForUser(ctx, userID)
	if err != nil {
		return TierFree, nil, err
	}
	return TierFor(ents), ents, nil
}

func (s *Service) Grant(ctx context.Context, userID string, ents []string) error {
	if err := s.repo.Grant(ctx, userID, ents); err != nil {
		return fmt.Errorf("grant entitlements: %w", err)
	}
	s.Invalidate(ctx, userID)
	return nil
}

func (s *Service) Revoke(ctx context.Context, userID string, ents []string) error {
	if err := s.repo.Revoke(ctx, userID, ents); err != nil {
		return fmt.Errorf("revoke entitlements: %w", err)
	}
	s.Invalidate(ctx, userID)
	return nil
}

// Invalidate drops the cached set for userID.
func (s *Service) Invalidate(ctx context.Context, userID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(cacheKey(userID)); err != nil {
		logger.Warn(ctx, "entitlement cache invalidation failed", zap.String("user_id", userID), zap.Error(err))
	}
}
