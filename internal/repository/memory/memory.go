// Package memory keeps every repository in process memory. It mirrors the
// constraints enforced by the postgres schema and is used by tests and by the
// memory storage backend.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	errorvalues "github.com/limbo/stakepool/internal/error_values"
	"github.com/limbo/stakepool/internal/repository"
	"github.com/limbo/stakepool/pkg/entity"
)

type memberKey struct {
	pool uuid.UUID
	user uuid.UUID
}

// Store is the shared state behind the repository views. It is safe for
// concurrent use.
type Store struct {
	mu           sync.RWMutex
	pools        map[uuid.UUID]entity.Pool
	participants map[memberKey]entity.Participant
	entries      map[memberKey]entity.StakeLedgerEntry
	proofs       map[uuid.UUID]entity.Proof
	profiles     map[uuid.UUID]entity.Profile
	payouts      map[uuid.UUID]entity.Payout
	payoutByKey  map[memberKey]uuid.UUID
}

var (
	_ repository.PoolsRepositoryI        = (*PoolsRepo)(nil)
	_ repository.ParticipantsRepositoryI = (*ParticipantsRepo)(nil)
	_ repository.LedgerRepositoryI       = (*LedgerRepo)(nil)
	_ repository.ProofsRepositoryI       = (*ProofsRepo)(nil)
	_ repository.ProfilesRepositoryI     = (*ProfilesRepo)(nil)
	_ repository.PayoutsRepositoryI      = (*PayoutsRepo)(nil)
)

func New() *Store {
	return &Store{
		pools:        make(map[uuid.UUID]entity.Pool),
		participants: make(map[memberKey]entity.Participant),
		entries:      make(map[memberKey]entity.StakeLedgerEntry),
		proofs:       make(map[uuid.UUID]entity.Proof),
		profiles:     make(map[uuid.UUID]entity.Profile),
		payouts:      make(map[uuid.UUID]entity.Payout),
		payoutByKey:  make(map[memberKey]uuid.UUID),
	}
}

func (s *Store) Pools() *PoolsRepo               { return &PoolsRepo{s} }
func (s *Store) Participants() *ParticipantsRepo { return &ParticipantsRepo{s} }
func (s *Store) Ledger() *LedgerRepo             { return &LedgerRepo{s} }
func (s *Store) Proofs() *ProofsRepo             { return &ProofsRepo{s} }
func (s *Store) Profiles() *ProfilesRepo         { return &ProfilesRepo{s} }
func (s *Store) Payouts() *PayoutsRepo           { return &PayoutsRepo{s} }

// Pools ----------------------------------------------------------------------

type PoolsRepo struct{ s *Store }

func (r *PoolsRepo) Create(_ context.Context, pool *entity.Pool) (uuid.UUID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored := *pool
	stored.ID = uuid.New()
	stored.Status = entity.PoolStatusFilling
	stored.FailureKind = entity.FailureNone
	stored.FailureReason = ""
	stored.CreatedAt = time.Now().UTC()
	stored.UpdatedAt = stored.CreatedAt
	r.s.pools[stored.ID] = stored
	return stored.ID, nil
}

func (r *PoolsRepo) GetByID(_ context.Context, id uuid.UUID) (*entity.Pool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	pool, ok := r.s.pools[id]
	if !ok {
		return nil, errorvalues.ErrPoolNotFound
	}
	return &pool, nil
}

func (r *PoolsRepo) ListByStatus(_ context.Context, statuses ...entity.PoolStatus) ([]*entity.Pool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	wanted := make(map[entity.PoolStatus]bool, len(statuses))
	for _, st := range statuses {
		wanted[st] = true
	}
	result := make([]*entity.Pool, 0)
	for _, pool := range r.s.pools {
		if wanted[pool.Status] {
			p := pool
			result = append(result, &p)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID.String() < result[j].ID.String()
	})
	return result, nil
}

func (r *PoolsRepo) UpdateStatus(_ context.Context, id uuid.UUID, from, to entity.PoolStatus, kind entity.FailureKind, reason string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	pool, ok := r.s.pools[id]
	if !ok || pool.Status != from {
		return errorvalues.ErrInvalidTransition
	}
	pool.Status = to
	pool.FailureKind = kind
	pool.FailureReason = reason
	pool.UpdatedAt = time.Now().UTC()
	r.s.pools[id] = pool
	return nil
}

func (r *PoolsRepo) CompleteSettlement(_ context.Context, id uuid.UUID, awards []entity.SettlementAward) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	pool, ok := r.s.pools[id]
	if !ok || pool.Status != entity.PoolStatusSettling {
		return errorvalues.ErrInvalidTransition
	}
	pool.Status = entity.PoolStatusSettled
	pool.FailureKind = entity.FailureNone
	pool.FailureReason = ""
	pool.UpdatedAt = time.Now().UTC()
	r.s.pools[id] = pool
	for _, award := range awards {
		profile, ok := r.s.profiles[award.UserID]
		if !ok {
			continue
		}
		profile.TotalPoolsWon++
		profile.TotalEarned += award.Amount
		r.s.profiles[award.UserID] = profile
	}
	return nil
}

// Participants ---------------------------------------------------------------

type ParticipantsRepo struct{ s *Store }

func (r *ParticipantsRepo) Create(_ context.Context, p *entity.Participant) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.pools[p.PoolID]; !ok {
		return errorvalues.ErrPoolNotFound
	}
	key := memberKey{p.PoolID, p.UserID}
	if _, ok := r.s.participants[key]; ok {
		return errorvalues.ErrAlreadyJoined
	}
	r.s.participants[key] = *p
	return nil
}

func (r *ParticipantsRepo) Get(_ context.Context, poolID, userID uuid.UUID) (*entity.Participant, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	p, ok := r.s.participants[memberKey{poolID, userID}]
	if !ok {
		return nil, errorvalues.ErrParticipantNotFound
	}
	return &p, nil
}

func (r *ParticipantsRepo) ListByPool(_ context.Context, poolID uuid.UUID) ([]*entity.Participant, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	result := make([]*entity.Participant, 0)
	for key, p := range r.s.participants {
		if key.pool == poolID {
			member := p
			result = append(result, &member)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].JoinedAt.Equal(result[j].JoinedAt) {
			return result[i].JoinedAt.Before(result[j].JoinedAt)
		}
		return result[i].UserID.String() < result[j].UserID.String()
	})
	return result, nil
}

func (r *ParticipantsRepo) UpdateTransferRef(_ context.Context, poolID, userID uuid.UUID, ref string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := memberKey{poolID, userID}
	p, ok := r.s.participants[key]
	if !ok {
		return errorvalues.ErrParticipantNotFound
	}
	p.TransferRef = ref
	r.s.participants[key] = p
	return nil
}

func (r *ParticipantsRepo) SetForfeited(_ context.Context, poolID, userID uuid.UUID) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := memberKey{poolID, userID}
	p, ok := r.s.participants[key]
	if !ok {
		return false, errorvalues.ErrParticipantNotFound
	}
	if p.Forfeited {
		return false, nil
	}
	p.Forfeited = true
	r.s.participants[key] = p
	return true, nil
}

func (r *ParticipantsRepo) MarkStreakChecked(_ context.Context, poolID, userID uuid.UUID, through int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := memberKey{poolID, userID}
	p, ok := r.s.participants[key]
	if !ok {
		return errorvalues.ErrParticipantNotFound
	}
	p.StreakCheckedThrough = max(p.StreakCheckedThrough, through)
	r.s.participants[key] = p
	return nil
}

func (r *ParticipantsRepo) SetStreak(_ context.Context, poolID, userID uuid.UUID, streak int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := memberKey{poolID, userID}
	p, ok := r.s.participants[key]
	if !ok {
		return errorvalues.ErrParticipantNotFound
	}
	p.CurrentStreak = streak
	r.s.participants[key] = p
	return nil
}

func (r *ParticipantsRepo) OpenStreaks(_ context.Context, userID uuid.UUID) ([]int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	result := make([]int, 0)
	for key, p := range r.s.participants {
		if key.user != userID || p.Forfeited || r.s.pools[key.pool].Status.IsTerminal() {
			continue
		}
		result = append(result, p.CurrentStreak)
	}
	return result, nil
}

// Ledger ---------------------------------------------------------------------

type LedgerRepo struct{ s *Store }

func (r *LedgerRepo) RecordStake(_ context.Context, entry *entity.StakeLedgerEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := memberKey{entry.PoolID, entry.UserID}
	if _, ok := r.s.participants[key]; !ok {
		return errorvalues.ErrParticipantNotFound
	}
	stored, exists := r.s.entries[key]
	if exists && stored.TransferStatus == entity.TransferConfirmed {
		return errorvalues.ErrDuplicateStake
	}
	if !exists {
		stored = entity.StakeLedgerEntry{PoolID: entry.PoolID, UserID: entry.UserID}
	}
	stored.StakedAmount = entry.StakedAmount
	stored.TransferRef = entry.TransferRef
	stored.TransferStatus = entity.TransferUnconfirmed
	stored.UpdatedAt = time.Now().UTC()
	r.s.entries[key] = stored
	return nil
}

func (r *LedgerRepo) Get(_ context.Context, poolID, userID uuid.UUID) (*entity.StakeLedgerEntry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	entry, ok := r.s.entries[memberKey{poolID, userID}]
	if !ok {
		return nil, errorvalues.ErrEntryNotFound
	}
	return &entry, nil
}

func (r *LedgerRepo) ListByPool(_ context.Context, poolID uuid.UUID) ([]*entity.StakeLedgerEntry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	result := make([]*entity.StakeLedgerEntry, 0)
	for key, entry := range r.s.entries {
		if key.pool == poolID {
			e := entry
			result = append(result, &e)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].UserID.String() < result[j].UserID.String()
	})
	return result, nil
}

func (r *LedgerRepo) ListUnconfirmed(_ context.Context, limit int) ([]*entity.StakeLedgerEntry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	result := make([]*entity.StakeLedgerEntry, 0)
	for _, entry := range r.s.entries {
		if entry.TransferStatus == entity.TransferUnconfirmed {
			e := entry
			result = append(result, &e)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.Before(result[j].UpdatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *LedgerRepo) SetTransferStatus(_ context.Context, poolID, userID uuid.UUID, status entity.TransferStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := memberKey{poolID, userID}
	entry, ok := r.s.entries[key]
	if !ok || entry.TransferStatus != entity.TransferUnconfirmed {
		return errorvalues.ErrEntryNotFound
	}
	entry.TransferStatus = status
	entry.UpdatedAt = time.Now().UTC()
	r.s.entries[key] = entry
	return nil
}

func (r *LedgerRepo) TotalConfirmed(_ context.Context, poolID uuid.UUID) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	total, _ := r.s.potLocked(poolID)
	return total, nil
}

func (r *LedgerRepo) MarkPaid(_ context.Context, poolID, userID uuid.UUID, amount int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := memberKey{poolID, userID}
	entry, ok := r.s.entries[key]
	switch {
	case !ok:
		return errorvalues.ErrEntryNotFound
	case entry.Paid:
		return errorvalues.ErrAlreadySettled
	case entry.TransferStatus != entity.TransferConfirmed:
		return errorvalues.ErrStakeNotConfirmed
	}
	pot, paid := r.s.potLocked(poolID)
	if paid+amount > pot {
		return errorvalues.ErrInsufficientPot
	}
	entry.Paid = true
	entry.PaidOut = amount
	entry.UpdatedAt = time.Now().UTC()
	r.s.entries[key] = entry
	return nil
}

func (s *Store) potLocked(poolID uuid.UUID) (confirmed, paid int64) {
	for key, entry := range s.entries {
		if key.pool != poolID {
			continue
		}
		if entry.TransferStatus == entity.TransferConfirmed {
			confirmed += entry.StakedAmount
		}
		if entry.Paid {
			paid += entry.PaidOut
		}
	}
	return confirmed, paid
}

// Proofs ---------------------------------------------------------------------

type ProofsRepo struct{ s *Store }

func (r *ProofsRepo) Create(_ context.Context, proof *entity.Proof) (uuid.UUID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.participants[memberKey{proof.PoolID, proof.UserID}]; !ok {
		return uuid.Nil, errorvalues.ErrParticipantNotFound
	}
	if proof.State == entity.ProofAccepted && r.s.acceptedExistsLocked(proof.PoolID, proof.UserID, proof.Period) {
		return uuid.Nil, errorvalues.ErrDuplicateSubmission
	}
	stored := *proof
	stored.ID = uuid.New()
	stored.ResolvedAt = time.Time{}
	if stored.State != entity.ProofPending {
		stored.ResolvedAt = stored.SubmittedAt
	}
	r.s.proofs[stored.ID] = stored
	return stored.ID, nil
}

func (r *ProofsRepo) GetByID(_ context.Context, id uuid.UUID) (*entity.Proof, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	proof, ok := r.s.proofs[id]
	if !ok {
		return nil, errorvalues.ErrProofNotFound
	}
	return &proof, nil
}

func (r *ProofsRepo) ListByParticipant(_ context.Context, poolID, userID uuid.UUID) ([]*entity.Proof, error) {
	result := r.filter(func(p *entity.Proof) bool { return p.PoolID == poolID && p.UserID == userID })
	sort.Slice(result, func(i, j int) bool {
		if result[i].Period != result[j].Period {
			return result[i].Period < result[j].Period
		}
		return result[i].SubmittedAt.Before(result[j].SubmittedAt)
	})
	return result, nil
}

func (r *ProofsRepo) ListAccepted(_ context.Context, poolID uuid.UUID) ([]*entity.Proof, error) {
	result := r.filter(func(p *entity.Proof) bool { return p.PoolID == poolID && p.State == entity.ProofAccepted })
	sort.Slice(result, func(i, j int) bool {
		if result[i].UserID != result[j].UserID {
			return result[i].UserID.String() < result[j].UserID.String()
		}
		return result[i].Period < result[j].Period
	})
	return result, nil
}

func (r *ProofsRepo) ListUnresolved(_ context.Context, poolID uuid.UUID) ([]*entity.Proof, error) {
	result := r.filter(func(p *entity.Proof) bool { return p.PoolID == poolID && p.State == entity.ProofPending })
	sort.Slice(result, func(i, j int) bool {
		return result[i].SubmittedAt.Before(result[j].SubmittedAt)
	})
	return result, nil
}

func (r *ProofsRepo) AcceptedExists(_ context.Context, poolID, userID uuid.UUID, period int) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.s.acceptedExistsLocked(poolID, userID, period), nil
}

func (r *ProofsRepo) Resolve(_ context.Context, id uuid.UUID, state entity.ProofState) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	proof, ok := r.s.proofs[id]
	if !ok {
		return errorvalues.ErrProofNotFound
	}
	if proof.State != entity.ProofPending {
		return errorvalues.ErrProofAlreadyResolved
	}
	if state == entity.ProofAccepted && r.s.acceptedExistsLocked(proof.PoolID, proof.UserID, proof.Period) {
		return errorvalues.ErrDuplicateSubmission
	}
	proof.State = state
	proof.ResolvedAt = time.Now().UTC()
	r.s.proofs[id] = proof
	return nil
}

func (r *ProofsRepo) filter(keep func(*entity.Proof) bool) []*entity.Proof {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	result := make([]*entity.Proof, 0)
	for _, proof := range r.s.proofs {
		p := proof
		if keep(&p) {
			result = append(result, &p)
		}
	}
	return result
}

func (s *Store) acceptedExistsLocked(poolID, userID uuid.UUID, period int) bool {
	for _, p := range s.proofs {
		if p.PoolID == poolID && p.UserID == userID && p.Period == period && p.State == entity.ProofAccepted {
			return true
		}
	}
	return false
}

// Profiles -------------------------------------------------------------------

type ProfilesRepo struct{ s *Store }

func (r *ProfilesRepo) Ensure(_ context.Context, userID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.profiles[userID]; !ok {
		r.s.profiles[userID] = entity.Profile{UserID: userID}
	}
	return nil
}

func (r *ProfilesRepo) GetByUserID(_ context.Context, userID uuid.UUID) (*entity.Profile, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	profile, ok := r.s.profiles[userID]
	if !ok {
		return nil, errorvalues.ErrProfileNotFound
	}
	return &profile, nil
}

func (r *ProfilesRepo) IncrementJoined(_ context.Context, userID uuid.UUID) error {
	return r.update(userID, func(p *entity.Profile) {
		p.TotalPoolsJoined++
	})
}

func (r *ProfilesRepo) RecordProof(_ context.Context, userID uuid.UUID, streak int) error {
	return r.update(userID, func(p *entity.Profile) {
		p.CurrentStreak = streak
		p.BestStreak = max(p.BestStreak, streak)
		p.TotalProofsAccepted++
	})
}

func (r *ProfilesRepo) SetStreak(_ context.Context, userID uuid.UUID, streak int) error {
	return r.update(userID, func(p *entity.Profile) {
		p.CurrentStreak = streak
		p.BestStreak = max(p.BestStreak, streak)
	})
}

func (r *ProfilesRepo) List(_ context.Context) ([]*entity.Profile, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	result := make([]*entity.Profile, 0, len(r.s.profiles))
	for _, profile := range r.s.profiles {
		p := profile
		result = append(result, &p)
	}
	return result, nil
}

func (r *ProfilesRepo) ListByPool(_ context.Context, poolID uuid.UUID) ([]*entity.Profile, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	result := make([]*entity.Profile, 0)
	for key := range r.s.participants {
		if key.pool != poolID {
			continue
		}
		if profile, ok := r.s.profiles[key.user]; ok {
			p := profile
			result = append(result, &p)
		}
	}
	return result, nil
}

func (r *ProfilesRepo) update(userID uuid.UUID, f func(*entity.Profile)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	profile, ok := r.s.profiles[userID]
	if !ok {
		return errorvalues.ErrProfileNotFound
	}
	f(&profile)
	r.s.profiles[userID] = profile
	return nil
}

// Payouts --------------------------------------------------------------------

type PayoutsRepo struct{ s *Store }

func (r *PayoutsRepo) GetOrCreate(_ context.Context, payout *entity.Payout) (*entity.Payout, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := memberKey{payout.PoolID, payout.UserID}
	if id, ok := r.s.payoutByKey[key]; ok {
		stored := r.s.payouts[id]
		return &stored, nil
	}
	if _, ok := r.s.entries[key]; !ok {
		return nil, errorvalues.ErrEntryNotFound
	}
	now := time.Now().UTC()
	stored := entity.Payout{
		ID:        uuid.New(),
		PoolID:    payout.PoolID,
		UserID:    payout.UserID,
		Kind:      payout.Kind,
		Amount:    payout.Amount,
		ToAddress: payout.ToAddress,
		Status:    entity.PayoutSubmitting,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.s.payouts[stored.ID] = stored
	r.s.payoutByKey[key] = stored.ID
	return &stored, nil
}

func (r *PayoutsRepo) BeginAttempt(_ context.Context, id uuid.UUID) (int, error) {
	attempts := 0
	err := r.update(id, func(p *entity.Payout) bool {
		if p.TransferRef != "" {
			return false
		}
		p.Attempts++
		attempts = p.Attempts
		return true
	})
	return attempts, err
}

func (r *PayoutsRepo) SetTransferRef(_ context.Context, id uuid.UUID, ref string) error {
	return r.update(id, func(p *entity.Payout) bool {
		if p.TransferRef != "" {
			return false
		}
		p.TransferRef = ref
		p.Status = entity.PayoutPending
		return true
	})
}

func (r *PayoutsRepo) SetStatus(_ context.Context, id uuid.UUID, status entity.PayoutStatus) error {
	return r.update(id, func(p *entity.Payout) bool {
		if p.Status == entity.PayoutConfirmed {
			return false
		}
		p.Status = status
		return true
	})
}

func (r *PayoutsRepo) ResetForRetry(_ context.Context, id uuid.UUID) error {
	return r.update(id, func(p *entity.Payout) bool {
		unsubmitted := p.Status == entity.PayoutSubmitting && p.TransferRef == ""
		if p.Status != entity.PayoutFailed && !unsubmitted {
			return false
		}
		if p.TransferRef != "" {
			p.Round++
		}
		p.Status = entity.PayoutSubmitting
		p.TransferRef = ""
		p.Attempts = 0
		return true
	})
}

func (r *PayoutsRepo) ListByPool(_ context.Context, poolID uuid.UUID) ([]*entity.Payout, error) {
	result := r.filter(func(p *entity.Payout) bool { return p.PoolID == poolID })
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].UserID.String() < result[j].UserID.String()
	})
	return result, nil
}

func (r *PayoutsRepo) ListPending(_ context.Context, limit int) ([]*entity.Payout, error) {
	result := r.filter(func(p *entity.Payout) bool { return p.Status == entity.PayoutPending })
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// update applies f under the write lock. f reports false when the row does
// not satisfy the update condition.
func (r *PayoutsRepo) update(id uuid.UUID, f func(*entity.Payout) bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	payout, ok := r.s.payouts[id]
	if !ok || !f(&payout) {
		return errorvalues.ErrPayoutNotFound
	}
	payout.UpdatedAt = time.Now().UTC()
	r.s.payouts[id] = payout
	return nil
}

func (r *PayoutsRepo) filter(keep func(*entity.Payout) bool) []*entity.Payout {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	result := make([]*entity.Payout, 0)
	for _, payout := range r.s.payouts {
		p := payout
		if keep(&p) {
			result = append(result, &p)
		}
	}
	return result
}
