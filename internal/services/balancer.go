package services

import (
	"context"

	"gorm.io/gorm"

	"github.com/artistbot/logostudy-backend/internal/conditions"
	"github.com/artistbot/logostudy-backend/internal/logger"
	"github.com/artistbot/logostudy-backend/internal/repos"
)

// BalancerService keeps assignment counts roughly equal across the
// personalized condition variants.
type BalancerService interface {
	// Assign picks the least-used personalized variant (declaration order
	// breaks ties), increments its counter and returns it. When the counter
	// store is unreachable it degrades to conditions.DefaultPersonalized
	// instead of blocking the caller.
	Assign(ctx context.Context) conditions.Condition
	// InitializeCounters seeds zero-count rows for every variant.
	InitializeCounters(ctx context.Context) error
}

type balancerService struct {
	db       *gorm.DB
	log      *logger.Logger
	counters repos.ConditionCounterRepo
}

func NewBalancerService(db *gorm.DB, baseLog *logger.Logger, counterRepo repos.ConditionCounterRepo) BalancerService {
	return &balancerService{
		db:       db,
		log:      baseLog.With("service", "BalancerService"),
		counters: counterRepo,
	}
}

func (bs *balancerService) Assign(ctx context.Context) conditions.Condition {
	counts, err := bs.counters.GetCounts(ctx, nil, conditions.PersonalizedVariants)
	if err != nil {
		bs.log.ForRequest(ctx).Warn("Counter store unreachable, falling back to default personalized variant",
			"fallback", conditions.DefaultPersonalized,
			"error", err,
		)
		return conditions.DefaultPersonalized
	}

	// Strictly lowest count wins; the declaration order of
	// PersonalizedVariants decides ties deterministically.
	selected := conditions.PersonalizedVariants[0]
	lowest := counts[selected]
	for _, variant := range conditions.PersonalizedVariants[1:] {
		if counts[variant] < lowest {
			selected = variant
			lowest = counts[variant]
		}
	}

	newCount, err := bs.counters.Increment(ctx, nil, selected)
	if err != nil {
		bs.log.ForRequest(ctx).Warn("Counter increment failed, falling back to default personalized variant",
			"fallback", conditions.DefaultPersonalized,
			"error", err,
		)
		return conditions.DefaultPersonalized
	}

	bs.log.Info("Assigned balanced condition", "condition", selected, "count", newCount)
	return selected
}

func (bs *balancerService) InitializeCounters(ctx context.Context) error {
	for _, variant := range conditions.PersonalizedVariants {
		if err := bs.counters.EnsureExists(ctx, nil, variant); err != nil {
			return err
		}
		bs.log.Info("Initialized counter", "condition", variant)
	}
	return nil
}
