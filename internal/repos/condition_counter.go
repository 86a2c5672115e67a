package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/artistbot/logostudy-backend/internal/conditions"
	"github.com/artistbot/logostudy-backend/internal/logger"
	"github.com/artistbot/logostudy-backend/internal/types"
)

type ConditionCounterRepo interface {
	// GetCounts returns the stored count per variant; variants without a row
	// are simply absent from the map (treated as zero by callers).
	GetCounts(ctx context.Context, tx *gorm.DB, variants []conditions.Condition) (map[conditions.Condition]int64, error)
	// Increment atomically bumps the variant's counter, creating the row on
	// first use, and returns the post-increment count.
	Increment(ctx context.Context, tx *gorm.DB, variant conditions.Condition) (int64, error)
	EnsureExists(ctx context.Context, tx *gorm.DB, variant conditions.Condition) error
}

type conditionCounterRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewConditionCounterRepo(db *gorm.DB, baseLog *logger.Logger) ConditionCounterRepo {
	return &conditionCounterRepo{db: db, log: baseLog.With("repo", "ConditionCounterRepo")}
}

func (cr *conditionCounterRepo) GetCounts(ctx context.Context, tx *gorm.DB, variants []conditions.Condition) (map[conditions.Condition]int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = cr.db
	}

	counts := make(map[conditions.Condition]int64, len(variants))
	if len(variants) == 0 {
		return counts, nil
	}

	var rows []*types.ConditionCounter
	if err := transaction.WithContext(ctx).
		Where("condition IN ?", variants).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		counts[row.Condition] = row.Count
	}
	return counts, nil
}

func (cr *conditionCounterRepo) Increment(ctx context.Context, tx *gorm.DB, variant conditions.Condition) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = cr.db
	}

	now := time.Now().UTC()
	row := &types.ConditionCounter{
		ID:        uuid.New(),
		Condition: variant,
		Count:     1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "condition"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"count":      gorm.Expr("condition_counter.count + 1"),
				"updated_at": now,
			}),
		}).
		Create(row).Error; err != nil {
		return 0, err
	}

	var stored types.ConditionCounter
	if err := transaction.WithContext(ctx).
		Where("condition = ?", variant).
		First(&stored).Error; err != nil {
		return 0, err
	}
	return stored.Count, nil
}

func (cr *conditionCounterRepo) EnsureExists(ctx context.Context, tx *gorm.DB, variant conditions.Condition) error {
	transaction := tx
	if transaction == nil {
		transaction = cr.db
	}

	now := time.Now().UTC()
	row := &types.ConditionCounter{
		ID:        uuid.New(),
		Condition: variant,
		Count:     0,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "condition"}},
			DoNothing: true,
		}).
		Create(row).Error
}
