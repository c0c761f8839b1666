package api

import (
	"context"
	"math/big"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/limbo/stakepool/internal/service"
	"github.com/limbo/stakepool/pkg/entity"
)

type PoolsServiceI interface {
	CreatePool(ctx context.Context, creatorID uuid.UUID, req *service.CreatePoolRequest) (*entity.Pool, error)
	GetPool(ctx context.Context, id uuid.UUID) (*entity.PoolSummary, error)
	Join(ctx context.Context, poolID, userID uuid.UUID, req *service.JoinRequest) (*entity.Participant, error)
	Forfeit(ctx context.Context, poolID, userID uuid.UUID) error
	Advance(ctx context.Context, poolID uuid.UUID) (*entity.Pool, error)
}

type ProofsServiceI interface {
	Submit(ctx context.Context, poolID, userID uuid.UUID, req *service.SubmitProofRequest) (*entity.Proof, error)
	Resolve(ctx context.Context, proofID uuid.UUID, accepted bool) (*entity.Proof, error)
	Unresolved(ctx context.Context, poolID uuid.UUID) ([]*entity.Proof, error)
}

type SettlementServiceI interface {
	Repair(ctx context.Context, poolID uuid.UUID) error
}

type LeaderboardServiceI interface {
	Rank(ctx context.Context, scope entity.LeaderboardScope, poolID uuid.UUID, limit int) ([]entity.LeaderboardEntry, error)
}

// BalanceReaderI is satisfied by every chain bridge.
type BalanceReaderI interface {
	GetBalance(ctx context.Context, address string) (*big.Int, error)
}

type JWTServiceI interface {
	ParseToken(tokenString string) (*JWTClaims, error)
}

const (
	RoleMember   = "member"
	RoleReviewer = "reviewer"
	RoleOperator = "operator"
)

type JWTClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}
