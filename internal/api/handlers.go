package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/limbo/stakepool/internal/service"
	"github.com/limbo/stakepool/pkg/entity"
	"github.com/limbo/stakepool/pkg/httputil"
)

const (
	requestTimeout = 10 * time.Second
	// Settlement may submit one transfer per participant
	settleTimeout = time.Minute
)

type ResolveProofRequest struct {
	Accepted *bool `json:"accepted"`
}

type LeaderboardResponse struct {
	Scope   entity.LeaderboardScope   `json:"scope"`
	PoolID  string                    `json:"pool_id,omitempty"`
	Entries []entity.LeaderboardEntry `json:"entries"`
}

type BalanceResponse struct {
	Address string `json:"address"`
	Raw     string `json:"raw"`
	Balance string `json:"balance"`
}

func pathID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "id"))
}

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONResponse(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) CreatePool(w http.ResponseWriter, r *http.Request) {
	logger := GetLoggerFromCtx(r.Context())
	uid, err := GetUIDFromContext(r)
	if err != nil {
		logger.Error("create pool error: unauthorized")
		httputil.WriteErrorResponse(w, http.StatusUnauthorized, "no authorization", nil)
		return
	}
	var req service.CreatePoolRequest
	if err := httputil.ReadJSON(w, r, &req); err != nil {
		logger.Error("create pool error: invalid request body", slog.String("error", err.Error()))
		httputil.WriteErrorResponse(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	pool, err := s.pools.CreatePool(ctx, uid, &req)
	if err != nil {
		writeServiceError(w, logger, "create pool", err)
		return
	}
	httputil.WriteJSONResponse(w, http.StatusCreated, map[string]any{"pool_id": pool.ID.String()})
	logger.Info("pool created", slog.String("pool_id", pool.ID.String()))
}

func (s *Server) GetPool(w http.ResponseWriter, r *http.Request) {
	logger := GetLoggerFromCtx(r.Context())
	id, err := pathID(r)
	if err != nil {
		logger.Error("get pool error: invalid id in path value")
		httputil.WriteErrorResponse(w, http.StatusBadRequest, "invalid pool id in path value", nil)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	summary, err := s.pools.GetPool(ctx, id)
	if err != nil {
		writeServiceError(w, logger, "get pool", err)
		return
	}
	httputil.WriteJSONResponse(w, http.StatusOK, summary)
}

func (s *Server) JoinPool(w http.ResponseWriter, r *http.Request) {
	logger := GetLoggerFromCtx(r.Context())
	uid, err := GetUIDFromContext(r)
	if err != nil {
		logger.Error("join error: unauthorized")
		httputil.WriteErrorResponse(w, http.StatusUnauthorized, "no authorization", nil)
		return
	}
	id, err := pathID(r)
	if err != nil {
		logger.Error("join error: invalid id in path value")
		httputil.WriteErrorResponse(w, http.StatusBadRequest, "invalid pool id in path value", nil)
		return
	}
	var req service.JoinRequest
	if err := httputil.ReadJSON(w, r, &req); err != nil {
		logger.Error("join error: invalid request body")
		httputil.WriteErrorResponse(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	participant, err := s.pools.Join(ctx, id, uid, &req)
	if err != nil {
		writeServiceError(w, logger, "join", err)
		return
	}
	httputil.WriteJSONResponse(w, http.StatusCreated, participant)
	logger.Info("joined pool", slog.String("pool_id", id.String()))
}

func (s *Server) ForfeitPool(w http.ResponseWriter, r *http.Request) {
	logger := GetLoggerFromCtx(r.Context())
	uid, err := GetUIDFromContext(r)
	if err != nil {
		logger.Error("forfeit error: unauthorized")
		httputil.WriteErrorResponse(w, http.StatusUnauthorized, "no authorization", nil)
		return
	}
	id, err := pathID(r)
	if err != nil {
		logger.Error("forfeit error: invalid id in path value")
		httputil.WriteErrorResponse(w, http.StatusBadRequest, "invalid pool id in path value", nil)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	if err := s.pools.Forfeit(ctx, id, uid); err != nil {
		writeServiceError(w, logger, "forfeit", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
	logger.Info("forfeited pool", slog.String("pool_id", id.String()))
}

func (s *Server) SubmitProof(w http.ResponseWriter, r *http.Request) {
	logger := GetLoggerFromCtx(r.Context())
	uid, err := GetUIDFromContext(r)
	if err != nil {
		logger.Error("submit proof error: unauthorized")
		httputil.WriteErrorResponse(w, http.StatusUnauthorized, "no authorization", nil)
		return
	}
	id, err := pathID(r)
	if err != nil {
		logger.Error("submit proof error: invalid id in path value")
		httputil.WriteErrorResponse(w, http.StatusBadRequest, "invalid pool id in path value", nil)
		return
	}
	var req service.SubmitProofRequest
	if err := httputil.ReadJSON(w, r, &req); err != nil {
		logger.Error("submit proof error: invalid request body")
		httputil.WriteErrorResponse(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	proof, err := s.proofs.Submit(ctx, id, uid, &req)
	if err != nil {
		writeServiceError(w, logger, "submit proof", err)
		return
	}
	httputil.WriteJSONResponse(w, http.StatusCreated, proof)
}

func (s *Server) PendingProofs(w http.ResponseWriter, r *http.Request) {
	logger := GetLoggerFromCtx(r.Context())
	id, err := pathID(r)
	if err != nil {
		logger.Error("pending proofs error: invalid id in path value")
		httputil.WriteErrorResponse(w, http.StatusBadRequest, "invalid pool id in path value", nil)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	proofs, err := s.proofs.Unresolved(ctx, id)
	if err != nil {
		writeServiceError(w, logger, "pending proofs", err)
		return
	}
	httputil.WriteJSONResponse(w, http.StatusOK, proofs)
}

func (s *Server) ResolveProof(w http.ResponseWriter, r *http.Request) {
	logger := GetLoggerFromCtx(r.Context())
	id, err := pathID(r)
	if err != nil {
		logger.Error("resolve proof error: invalid id in path value")
		httputil.WriteErrorResponse(w, http.StatusBadRequest, "invalid proof id in path value", nil)
		return
	}
	var req ResolveProofRequest
	if err := httputil.ReadJSON(w, r, &req); err != nil || req.Accepted == nil {
		logger.Error("resolve proof error: invalid request body")
		httputil.WriteErrorResponse(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	proof, err := s.proofs.Resolve(ctx, id, *req.Accepted)
	if err != nil {
		writeServiceError(w, logger, "resolve proof", err)
		return
	}
	httputil.WriteJSONResponse(w, http.StatusOK, proof)
	logger.Info("proof resolved", slog.String("proof_id", id.String()), slog.Bool("accepted", *req.Accepted))
}

func (s *Server) AdvancePool(w http.ResponseWriter, r *http.Request) {
	logger := GetLoggerFromCtx(r.Context())
	id, err := pathID(r)
	if err != nil {
		logger.Error("advance error: invalid id in path value")
		httputil.WriteErrorResponse(w, http.StatusBadRequest, "invalid pool id in path value", nil)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), settleTimeout)
	defer cancel()
	pool, err := s.pools.Advance(ctx, id)
	if err != nil {
		writeServiceError(w, logger, "advance", err)
		return
	}
	httputil.WriteJSONResponse(w, http.StatusOK, pool)
}

func (s *Server) RepairPool(w http.ResponseWriter, r *http.Request) {
	logger := GetLoggerFromCtx(r.Context())
	id, err := pathID(r)
	if err != nil {
		logger.Error("repair error: invalid id in path value")
		httputil.WriteErrorResponse(w, http.StatusBadRequest, "invalid pool id in path value", nil)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), settleTimeout)
	defer cancel()
	if err := s.settlement.Repair(ctx, id); err != nil {
		writeServiceError(w, logger, "repair", err)
		return
	}
	summary, err := s.pools.GetPool(ctx, id)
	if err != nil {
		writeServiceError(w, logger, "repair", err)
		return
	}
	httputil.WriteJSONResponse(w, http.StatusOK, summary)
	logger.Warn("pool repaired", slog.String("pool_id", id.String()))
}

func (s *Server) Leaderboard(w http.ResponseWriter, r *http.Request) {
	logger := GetLoggerFromCtx(r.Context())
	query := r.URL.Query()
	scope := entity.LeaderboardScope(query.Get("scope"))
	if scope == "" {
		scope = entity.ScopeGlobal
	}
	var poolID uuid.UUID
	if scope == entity.ScopePool {
		id, err := uuid.Parse(query.Get("pool_id"))
		if err != nil {
			logger.Error("leaderboard error: invalid pool id")
			httputil.WriteErrorResponse(w, http.StatusBadRequest, "invalid pool_id", nil)
			return
		}
		poolID = id
	}
	limit, err := strconv.Atoi(query.Get("limit"))
	if err != nil || limit < 1 || limit > 500 {
		limit = 50
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	entries, err := s.leaderboard.Rank(ctx, scope, poolID, limit)
	if err != nil {
		writeServiceError(w, logger, "leaderboard", err)
		return
	}
	resp := LeaderboardResponse{Scope: scope, Entries: entries}
	if poolID != uuid.Nil {
		resp.PoolID = poolID.String()
	}
	httputil.WriteJSONResponse(w, http.StatusOK, resp)
}

func (s *Server) Balance(w http.ResponseWriter, r *http.Request) {
	logger := GetLoggerFromCtx(r.Context())
	address := chi.URLParam(r, "address")
	if !common.IsHexAddress(address) {
		logger.Error("balance error: invalid address")
		httputil.WriteErrorResponse(w, http.StatusBadRequest, "invalid address", nil)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	balance, err := s.balances.GetBalance(ctx, address)
	if err != nil {
		logger.Error("balance error: chain error", slog.String("error", err.Error()))
		httputil.WriteErrorResponse(w, http.StatusBadGateway, "chain unavailable", nil)
		return
	}
	httputil.WriteJSONResponse(w, http.StatusOK, BalanceResponse{
		Address: address,
		Raw:     balance.String(),
		Balance: decimal.NewFromBigInt(balance, -s.decimals).String(),
	})
}
