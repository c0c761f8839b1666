package service

import (
	"bytes"
	"context"
	"log"
	"sort"

	"github.com/google/uuid"

	errorvalues "github.com/limbo/stakepool/internal/error_values"
	"github.com/limbo/stakepool/internal/repository"
	"github.com/limbo/stakepool/pkg/entity"
)

type LeaderboardService struct {
	pools    repository.PoolsRepositoryI
	profiles repository.ProfilesRepositoryI
}

func NewLeaderboardService(pools repository.PoolsRepositoryI, profiles repository.ProfilesRepositoryI) *LeaderboardService {
	if pools == nil || profiles == nil {
		log.Fatal("on leaderboard service provided nil repos")
	}
	return &LeaderboardService{
		pools:    pools,
		profiles: profiles,
	}
}

// Rank orders profiles by current streak, best streak and accepted proofs,
// all descending, with user id as the final tie breaker. Nothing is cached.
func (ls *LeaderboardService) Rank(ctx context.Context, scope entity.LeaderboardScope, poolID uuid.UUID, limit int) ([]entity.LeaderboardEntry, error) {
	var (
		profiles []*entity.Profile
		err      error
	)
	switch scope {
	case entity.ScopeGlobal:
		profiles, err = ls.profiles.List(ctx)
	case entity.ScopePool:
		if _, err = ls.pools.GetByID(ctx, poolID); err != nil {
			return nil, repoErr(err)
		}
		profiles, err = ls.profiles.ListByPool(ctx, poolID)
	default:
		return nil, errorvalues.ErrValidation
	}
	if err != nil {
		return nil, repoErr(err)
	}
	sort.Slice(profiles, func(i, j int) bool {
		return rankedBefore(profiles[i], profiles[j])
	})
	if limit > 0 && len(profiles) > limit {
		profiles = profiles[:limit]
	}
	result := make([]entity.LeaderboardEntry, 0, len(profiles))
	for i, p := range profiles {
		result = append(result, entity.LeaderboardEntry{Rank: i + 1, Profile: *p})
	}
	return result, nil
}

func rankedBefore(a, b *entity.Profile) bool {
	if a.CurrentStreak != b.CurrentStreak {
		return a.CurrentStreak > b.CurrentStreak
	}
	if a.BestStreak != b.BestStreak {
		return a.BestStreak > b.BestStreak
	}
	if a.TotalProofsAccepted != b.TotalProofsAccepted {
		return a.TotalProofsAccepted > b.TotalProofsAccepted
	}
	return bytes.Compare(a.UserID[:], b.UserID[:]) < 0
}
