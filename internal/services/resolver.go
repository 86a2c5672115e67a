package services

import (
	"context"

	"gorm.io/gorm"

	"github.com/artistbot/logostudy-backend/internal/apperr"
	"github.com/artistbot/logostudy-backend/internal/conditions"
	"github.com/artistbot/logostudy-backend/internal/logger"
	"github.com/artistbot/logostudy-backend/internal/repos"
)

// ResolverService maps an inbound condition parameter plus the participant's
// stored assignment to a single internal condition. A stored assignment always
// wins: once a participant is assigned, no later parameter re-resolves them.
type ResolverService interface {
	Resolve(ctx context.Context, urlCondition string, responseID string) (conditions.Condition, error)
}

type resolverService struct {
	db           *gorm.DB
	log          *logger.Logger
	participants repos.ParticipantRepo
	balancer     BalancerService
}

func NewResolverService(db *gorm.DB, baseLog *logger.Logger, participantRepo repos.ParticipantRepo, balancer BalancerService) ResolverService {
	return &resolverService{
		db:           db,
		log:          baseLog.With("service", "ResolverService"),
		participants: participantRepo,
		balancer:     balancer,
	}
}

func (rs *resolverService) Resolve(ctx context.Context, urlCondition string, responseID string) (conditions.Condition, error) {
	param, explicit := conditions.ParseURLParam(urlCondition)

	// The general alias short-circuits: no lookup, no write.
	if param == conditions.ParamGeneralAlias {
		return conditions.General, nil
	}

	participant, err := rs.participants.GetByResponseID(ctx, nil, responseID)
	if err != nil {
		return "", apperr.Persistence(err, "failed to look up participant %s", responseID)
	}

	// Unknown participants are never personalized.
	if participant == nil {
		return conditions.General, nil
	}

	if participant.AssignedCondition != nil {
		return *participant.AssignedCondition, nil
	}

	if param == conditions.ParamPersonalizedAlias {
		assigned := rs.balancer.Assign(ctx)
		effective, err := rs.participants.AssignConditionIfUnset(ctx, nil, responseID, assigned)
		if err != nil {
			return "", apperr.Persistence(err, "failed to persist condition for participant %s", responseID)
		}
		if effective != assigned {
			rs.log.ForRequest(ctx).Info("Lost first-assignment race, keeping stored condition",
				"response_id", responseID,
				"assigned", assigned,
				"stored", effective,
			)
		}
		return effective, nil
	}

	// An explicit internal condition passes through without persistence.
	if param == conditions.ParamExplicit {
		return explicit, nil
	}

	return conditions.General, nil
}
