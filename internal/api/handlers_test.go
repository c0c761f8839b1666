package api_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/limbo/stakepool/internal/api"
	"github.com/limbo/stakepool/internal/chain"
	"github.com/limbo/stakepool/internal/lock"
	"github.com/limbo/stakepool/internal/metrics"
	"github.com/limbo/stakepool/internal/repository/memory"
	"github.com/limbo/stakepool/internal/service"
	"github.com/limbo/stakepool/pkg/entity"
	"github.com/limbo/stakepool/pkg/httputil"
	jwtservice "github.com/limbo/stakepool/pkg/jwt_service"
)

const secret = "test_secret"

var (
	day   = 24 * time.Hour
	start = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
)

func TestMain(m *testing.M) {
	service.InitValidator()
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
	os.Exit(m.Run())
}

type testServer struct {
	*api.Server
	sim    *chain.SimulatedBridge
	clock  *service.ManualClock
	ledger *service.StakeLedgerService
	jwt    *jwtservice.JWTService
}

type testOpts struct {
	pools     api.PoolsServiceI
	balances  api.BalanceReaderI
	proofRate int
	decimals  int32
}

func newTestServer(t *testing.T, opts testOpts) *testServer {
	t.Helper()
	store := memory.New()
	repos := service.Repositories{
		Pools:        store.Pools(),
		Participants: store.Participants(),
		Ledger:       store.Ledger(),
		Proofs:       store.Proofs(),
		Profiles:     store.Profiles(),
		Payouts:      store.Payouts(),
	}
	ts := &testServer{
		sim:   chain.NewSimulatedBridge(),
		clock: service.NewManualClock(start.Add(-2 * time.Hour)),
		jwt:   jwtservice.New(secret),
	}
	logger := slog.Default()
	locker := lock.NewMemoryLocker()
	m := metrics.New()
	ts.ledger = service.NewStakeLedgerService(store.Ledger(), ts.sim, logger)
	settlement := service.NewSettlementService(repos, ts.sim, locker, ts.clock, logger, m)
	var pools api.PoolsServiceI = service.NewPoolsService(repos, ts.ledger, settlement, locker, ts.clock, logger, m)
	if opts.pools != nil {
		pools = opts.pools
	}
	var balances api.BalanceReaderI = ts.sim
	if opts.balances != nil {
		balances = opts.balances
	}
	ts.Server = api.New(&api.ServicesList{
		PoolsService:       pools,
		ProofsService:      service.NewProofTrackerService(repos, locker, ts.clock, logger, m),
		SettlementService:  settlement,
		LeaderboardService: service.NewLeaderboardService(store.Pools(), store.Profiles()),
		Balances:           balances,
		JwtService:         ts.jwt,
		Metrics:            m,
		ProofRatePerMinute: opts.proofRate,
		BalanceDecimals:    opts.decimals,
	})
	return ts
}

func (ts *testServer) token(t *testing.T, uid uuid.UUID, role string) string {
	t.Helper()
	token, err := ts.jwt.GenerateToken(uid, role)
	require.NoError(t, err)
	return token
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := sonic.ConfigDefault.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	ts.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, sonic.ConfigDefault.NewDecoder(rr.Body).Decode(&v))
	return v
}

func poolBody() *service.CreatePoolRequest {
	return &service.CreatePoolRequest{
		Title:           "run every morning",
		Category:        string(entity.CategoryFitness),
		StakeAmount:     10,
		MinParticipants: 2,
		StartTime:       start,
		EndTime:         start.Add(3 * day),
		JoinDeadline:    start,
		PeriodSeconds:   int64(day / time.Second),
		GraceSeconds:    3600,
		AutoVerify:      true,
	}
}

func TestPoolFlow(t *testing.T) {
	ts := newTestServer(t, testOpts{})
	ctx := context.Background()
	creator := ts.token(t, uuid.New(), api.RoleMember)
	operator := ts.token(t, uuid.New(), api.RoleOperator)
	users := []uuid.UUID{uuid.New(), uuid.New()}

	rr := ts.do(t, http.MethodPost, "/api/v1/pools", creator, poolBody())
	require.Equal(t, http.StatusCreated, rr.Code)
	poolID := decode[map[string]string](t, rr)["pool_id"]
	require.NotEmpty(t, poolID)
	poolPath := "/api/v1/pools/" + poolID

	invalid := poolBody()
	invalid.Category = "gardening"
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/api/v1/pools", creator, invalid).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/api/v1/pools", creator, "corrupted").Code)

	for i, uid := range users {
		ref := fmt.Sprintf("0xstake-%d", i)
		ts.sim.Deposit(ref, 10, entity.TransferConfirmed)
		rr := ts.do(t, http.MethodPost, poolPath+"/join", ts.token(t, uid, api.RoleMember),
			service.JoinRequest{TransferRef: ref, WalletAddress: fmt.Sprintf("0x%040x", i+1)})
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	}
	member := ts.token(t, users[0], api.RoleMember)
	rr = ts.do(t, http.MethodPost, poolPath+"/join", member, service.JoinRequest{TransferRef: "0xagain", WalletAddress: fmt.Sprintf("0x%040x", 1)})
	assert.Equal(t, http.StatusConflict, rr.Code)
	rr = ts.do(t, http.MethodPost, poolPath+"/join", ts.token(t, uuid.New(), api.RoleMember), service.JoinRequest{TransferRef: "0x1", WalletAddress: "nope"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr = ts.do(t, http.MethodPost, poolPath+"/forfeit", ts.token(t, uuid.New(), api.RoleMember), nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	_, err := ts.ledger.ReconcileStakes(ctx, 10)
	require.NoError(t, err)
	ts.clock.Set(start)

	assert.Equal(t, http.StatusForbidden, ts.do(t, http.MethodPost, poolPath+"/advance", member, nil).Code)
	rr = ts.do(t, http.MethodPost, poolPath+"/advance", operator, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "active", decode[map[string]any](t, rr)["status"])

	ts.clock.Set(start.Add(time.Hour))
	proof := service.SubmitProofRequest{Period: 0, EvidenceRef: "https://proofs.example.com/0"}
	assert.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, poolPath+"/proofs", member, proof).Code)
	assert.Equal(t, http.StatusConflict, ts.do(t, http.MethodPost, poolPath+"/proofs", member, proof).Code)
	proof.Period = 1
	assert.Equal(t, http.StatusUnprocessableEntity, ts.do(t, http.MethodPost, poolPath+"/proofs", member, proof).Code)

	rr = ts.do(t, http.MethodGet, poolPath, "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	summary := decode[map[string]any](t, rr)
	assert.Equal(t, "active", summary["status"])
	assert.EqualValues(t, 2, summary["participants"])
	assert.EqualValues(t, 20, summary["confirmed_pot"])

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/v1/pools/"+uuid.NewString(), "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/api/v1/pools/not-an-id", "", nil).Code)
}

func TestLeaderboard(t *testing.T) {
	ts := newTestServer(t, testOpts{})
	testCases := []struct {
		Desc         string
		Query        string
		ExpectedCode int
	}{
		{Desc: "global by default", Query: "", ExpectedCode: http.StatusOK},
		{Desc: "pool scope needs pool id", Query: "?scope=pool", ExpectedCode: http.StatusBadRequest},
		{Desc: "unknown pool", Query: "?scope=pool&pool_id=" + uuid.NewString(), ExpectedCode: http.StatusNotFound},
		{Desc: "unknown scope", Query: "?scope=weekly", ExpectedCode: http.StatusBadRequest},
	}
	for _, tc := range testCases {
		t.Run(tc.Desc, func(t *testing.T) {
			rr := ts.do(t, http.MethodGet, "/api/v1/leaderboard"+tc.Query, "", nil)
			assert.Equal(t, tc.ExpectedCode, rr.Code)
		})
	}
}

func TestAuth(t *testing.T) {
	ts := newTestServer(t, testOpts{})
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &api.JWTClaims{
		UserID: uuid.NewString(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}).SignedString([]byte(secret))
	require.NoError(t, err)
	badSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &api.JWTClaims{
		UserID: "someone",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}).SignedString([]byte(secret))
	require.NoError(t, err)

	testCases := []struct {
		Desc         string
		Header       string
		ExpectedCode int
	}{
		{Desc: "no header", Header: "", ExpectedCode: http.StatusUnauthorized},
		{Desc: "not bearer", Header: "Basic abc", ExpectedCode: http.StatusUnauthorized},
		{Desc: "garbage token", Header: "Bearer abc", ExpectedCode: http.StatusUnauthorized},
		{Desc: "expired", Header: "Bearer " + expired, ExpectedCode: http.StatusUnauthorized},
		{Desc: "subject is not a uuid", Header: "Bearer " + badSubject, ExpectedCode: http.StatusUnauthorized},
		{Desc: "member may not resolve", Header: "Bearer " + ts.token(t, uuid.New(), api.RoleMember), ExpectedCode: http.StatusForbidden},
		{Desc: "reviewer reaches the handler", Header: "Bearer " + ts.token(t, uuid.New(), api.RoleReviewer), ExpectedCode: http.StatusNotFound},
	}
	for _, tc := range testCases {
		t.Run(tc.Desc, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/proofs/"+uuid.NewString()+"/resolve", bytes.NewReader([]byte(`{"accepted":true}`)))
			if tc.Header != "" {
				req.Header.Set("Authorization", tc.Header)
			}
			rr := httptest.NewRecorder()
			ts.ServeHTTP(rr, req)
			assert.Equal(t, tc.ExpectedCode, rr.Code)
		})
	}
}

func TestResolveNeedsDecision(t *testing.T) {
	ts := newTestServer(t, testOpts{})
	reviewer := ts.token(t, uuid.New(), api.RoleReviewer)
	rr := ts.do(t, http.MethodPost, "/api/v1/proofs/"+uuid.NewString()+"/resolve", reviewer, `{}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestProofRateLimit(t *testing.T) {
	ts := newTestServer(t, testOpts{proofRate: 1})
	uid := uuid.New()
	path := "/api/v1/pools/" + uuid.NewString() + "/proofs"
	body := service.SubmitProofRequest{Period: 0, EvidenceRef: "https://proofs.example.com/0"}

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodPost, path, ts.token(t, uid, api.RoleMember), body).Code)
	rr := ts.do(t, http.MethodPost, path, ts.token(t, uid, api.RoleMember), body)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "60", rr.Header().Get("Retry-After"))
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodPost, path, ts.token(t, uuid.New(), api.RoleMember), body).Code)
}

type balanceStub struct {
	balance *big.Int
	err     error
}

func (b balanceStub) GetBalance(context.Context, string) (*big.Int, error) {
	return b.balance, b.err
}

func TestBalance(t *testing.T) {
	wei, ok := new(big.Int).SetString("1500000000000000000", 10)
	require.True(t, ok)
	address := "0x00000000000000000000000000000000000000aa"
	testCases := []struct {
		Desc         string
		Stub         balanceStub
		Address      string
		ExpectedCode int
		Expected     string
	}{
		{Desc: "formatted", Stub: balanceStub{balance: wei}, Address: address, ExpectedCode: http.StatusOK, Expected: "1.5"},
		{Desc: "invalid address", Stub: balanceStub{balance: wei}, Address: "0x123", ExpectedCode: http.StatusBadRequest},
		{Desc: "chain error", Stub: balanceStub{err: errors.New("rpc down")}, Address: address, ExpectedCode: http.StatusBadGateway},
	}
	for _, tc := range testCases {
		t.Run(tc.Desc, func(t *testing.T) {
			ts := newTestServer(t, testOpts{balances: tc.Stub, decimals: 18})
			rr := ts.do(t, http.MethodGet, "/api/v1/balance/"+tc.Address, "", nil)
			require.Equal(t, tc.ExpectedCode, rr.Code)
			if tc.Expected != "" {
				resp := decode[api.BalanceResponse](t, rr)
				assert.Equal(t, tc.Expected, resp.Balance)
				assert.Equal(t, wei.String(), resp.Raw)
			}
		})
	}
}

type failingPools struct {
	api.PoolsServiceI
	err error
}

func (f failingPools) GetPool(context.Context, uuid.UUID) (*entity.PoolSummary, error) {
	return nil, f.err
}

func TestInternalErrorsHideDetails(t *testing.T) {
	ts := newTestServer(t, testOpts{pools: failingPools{err: errors.New("connection refused to 10.0.0.5")}})
	rr := ts.do(t, http.MethodGet, "/api/v1/pools/"+uuid.NewString(), "", nil)
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	resp := decode[httputil.ErrorResponse](t, rr)
	assert.Empty(t, resp.Details)
	assert.Equal(t, http.StatusInternalServerError, resp.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t, testOpts{})
	rr := ts.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))

	rr = ts.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `stakepool_http_requests_total{method="GET",route="/healthz",status="200"} 1`)
}
