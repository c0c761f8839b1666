package entity

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type PoolStatus string

// Wire vocabulary. Do not rename: presentation clients depend on these strings.
const (
	PoolStatusFilling   PoolStatus = "filling"
	PoolStatusActive    PoolStatus = "active"
	PoolStatusCompleted PoolStatus = "completed"
	PoolStatusSettling  PoolStatus = "settling"
	PoolStatusSettled   PoolStatus = "settled"
	PoolStatusFailed    PoolStatus = "failed"
)

var statusOrder = map[PoolStatus]int{
	PoolStatusFilling:   0,
	PoolStatusActive:    1,
	PoolStatusCompleted: 2,
	PoolStatusSettling:  3,
	PoolStatusSettled:   4,
}

func (s PoolStatus) IsTerminal() bool {
	return s == PoolStatusSettled || s == PoolStatusFailed
}

func (s PoolStatus) Valid() bool {
	_, ok := statusOrder[s]
	return ok || s == PoolStatusFailed
}

// CanTransitionTo reports whether next is the single forward step from s, or
// failed from a non-terminal status.
func (s PoolStatus) CanTransitionTo(next PoolStatus) bool {
	if s.IsTerminal() {
		return false
	}
	if next == PoolStatusFailed {
		return true
	}
	from, ok := statusOrder[s]
	if !ok {
		return false
	}
	to, ok := statusOrder[next]
	return ok && to == from+1
}

type Category string

const (
	CategoryFitness Category = "fitness"
	CategoryCoding  Category = "coding"
	CategoryReading Category = "reading"
	CategoryHealth  Category = "health"
	CategoryFinance Category = "finance"
	CategoryCustom  Category = "custom"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryFitness, CategoryCoding, CategoryReading, CategoryHealth, CategoryFinance, CategoryCustom:
		return true
	}
	return false
}

type FailureKind string

const (
	FailureNone            FailureKind = ""
	FailureUndersubscribed FailureKind = "undersubscribed"
	FailureTransfer        FailureKind = "transfer"
)

type Pool struct {
	ID              uuid.UUID     `json:"id"`
	CreatorID       uuid.UUID     `json:"creator_id"`
	Title           string        `json:"title"`
	Category        Category      `json:"category"`
	StakeAmount     int64         `json:"stake_amount"`
	MinParticipants int           `json:"min_participants"`
	StartTime       time.Time     `json:"start_time"`
	EndTime         time.Time     `json:"end_time"`
	JoinDeadline    time.Time     `json:"join_deadline"`
	PeriodLength    time.Duration `json:"period_length"`
	GracePeriod     time.Duration `json:"grace_period"`
	RequiredPeriods int           `json:"required_periods"`
	AutoVerify      bool          `json:"auto_verify"`
	Status          PoolStatus    `json:"status"`
	FailureKind     FailureKind   `json:"failure_kind,omitempty"`
	FailureReason   string        `json:"failure_reason,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// PeriodCount is the number of proof periods between start and end time. A
// trailing partial period counts as a full one.
func (p *Pool) PeriodCount() int {
	if p.PeriodLength <= 0 || !p.EndTime.After(p.StartTime) {
		return 0
	}
	total := p.EndTime.Sub(p.StartTime)
	n := int(total / p.PeriodLength)
	if total%p.PeriodLength != 0 {
		n++
	}
	return n
}

func (p *Pool) PeriodStart(period int) time.Time {
	return p.StartTime.Add(time.Duration(period) * p.PeriodLength)
}

func (p *Pool) PeriodEnd(period int) time.Time {
	end := p.PeriodStart(period + 1)
	if end.After(p.EndTime) {
		return p.EndTime
	}
	return end
}

// SubmissionWindow returns the interval in which proofs for period are
// accepted: the period itself plus the grace interval, never past end time.
func (p *Pool) SubmissionWindow(period int) (time.Time, time.Time) {
	closes := p.PeriodEnd(period).Add(p.GracePeriod)
	if closes.After(p.EndTime) {
		closes = p.EndTime
	}
	return p.PeriodStart(period), closes
}

// ClosedPeriods is the number of leading periods whose submission window has
// fully closed at now.
func (p *Pool) ClosedPeriods(now time.Time) int {
	count := p.PeriodCount()
	closed := 0
	for i := 0; i < count; i++ {
		_, closes := p.SubmissionWindow(i)
		if now.Before(closes) {
			break
		}
		closed++
	}
	return closed
}

// Requirement is the number of distinct accepted periods that makes a winner.
func (p *Pool) Requirement() int {
	if p.RequiredPeriods > 0 {
		return p.RequiredPeriods
	}
	return p.PeriodCount()
}

type Participant struct {
	PoolID        uuid.UUID `json:"pool_id"`
	UserID        uuid.UUID `json:"user_id"`
	StakedAmount  int64     `json:"staked_amount"`
	TransferRef   string    `json:"transfer_ref"`
	WalletAddress string    `json:"wallet_address"`
	Forfeited     bool      `json:"forfeited"`
	JoinedAt      time.Time `json:"joined_at"`
	// Consecutive accepted periods in this pool
	CurrentStreak int `json:"current_streak"`
	// Closed periods already checked for a missed proof
	StreakCheckedThrough int `json:"-"`
}

type ProofState string

const (
	ProofPending  ProofState = "pending"
	ProofAccepted ProofState = "accepted"
	ProofRejected ProofState = "rejected"
)

type Proof struct {
	ID          uuid.UUID  `json:"id"`
	PoolID      uuid.UUID  `json:"pool_id"`
	UserID      uuid.UUID  `json:"user_id"`
	Period      int        `json:"period"`
	EvidenceRef string     `json:"evidence_ref"`
	State       ProofState `json:"state"`
	SubmittedAt time.Time  `json:"submitted_at"`
	ResolvedAt  time.Time  `json:"resolved_at,omitempty"`
}

type Profile struct {
	UserID              uuid.UUID `json:"uid"`
	CurrentStreak       int       `json:"current_streak"`
	BestStreak          int       `json:"best_streak"`
	TotalPoolsJoined    int       `json:"total_pools_joined"`
	TotalPoolsWon       int       `json:"total_pools_won"`
	TotalEarned         int64     `json:"total_earned"`
	TotalProofsAccepted int       `json:"total_proofs_submitted"`
}

type TransferStatus string

const (
	TransferUnconfirmed TransferStatus = "unconfirmed"
	TransferConfirmed   TransferStatus = "confirmed"
	TransferFailed      TransferStatus = "failed"
)

type StakeLedgerEntry struct {
	PoolID         uuid.UUID      `json:"pool_id"`
	UserID         uuid.UUID      `json:"user_id"`
	StakedAmount   int64          `json:"staked_amount"`
	TransferRef    string         `json:"transfer_ref"`
	TransferStatus TransferStatus `json:"transfer_status"`
	Paid           bool           `json:"paid"`
	PaidOut        int64          `json:"paid_out"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

type PayoutKind string

const (
	PayoutWinnings PayoutKind = "payout"
	PayoutRefund   PayoutKind = "refund"
)

type PayoutStatus string

const (
	PayoutSubmitting PayoutStatus = "submitting"
	PayoutPending    PayoutStatus = "pending"
	PayoutConfirmed  PayoutStatus = "confirmed"
	PayoutFailed     PayoutStatus = "failed"
)

// Payout is the two-phase record of one outgoing escrow transfer.
type Payout struct {
	ID          uuid.UUID    `json:"id"`
	PoolID      uuid.UUID    `json:"pool_id"`
	UserID      uuid.UUID    `json:"user_id"`
	Kind        PayoutKind   `json:"kind"`
	Amount      int64        `json:"amount"`
	ToAddress   string       `json:"to_address"`
	TransferRef string       `json:"transfer_ref,omitempty"`
	Status      PayoutStatus `json:"status"`
	Attempts    int          `json:"attempts"`
	// Incremented by every manual retry. Part of the idempotency key
	Round     int       `json:"round"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func PayoutKey(poolID, userID uuid.UUID, amount int64) string {
	return fmt.Sprintf("%s:%s:%d", poolID, userID, amount)
}

func (p *Payout) IdempotencyKey() string {
	key := PayoutKey(p.PoolID, p.UserID, p.Amount)
	if p.Round > 0 {
		key = fmt.Sprintf("%s:r%d", key, p.Round)
	}
	return key
}

// SettlementAward is applied to a winner's profile when a pool settles.
type SettlementAward struct {
	UserID uuid.UUID
	Amount int64
}

type LeaderboardScope string

const (
	ScopeGlobal LeaderboardScope = "global"
	ScopePool   LeaderboardScope = "pool"
)

type LeaderboardEntry struct {
	Rank int `json:"rank"`
	Profile
}

type PoolSummary struct {
	Pool
	Participants  int   `json:"participants"`
	ConfirmedPot  int64 `json:"confirmed_pot"`
	PendingProofs int   `json:"pending_proofs"`
}
