package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/google/uuid"

	errorvalues "github.com/limbo/stakepool/internal/error_values"
	"github.com/limbo/stakepool/pkg/entity"
)

type simTransfer struct {
	to     string
	amount int64
	status entity.TransferStatus
	polls  int
}

// SimulatedBridge is an in-process chain used by tests and by local runs
// without an RPC endpoint. Transfers confirm after ConfirmAfter status polls.
type SimulatedBridge struct {
	// Number of status polls a transfer stays pending
	ConfirmAfter int
	// Report refs never seen before as confirmed deposits
	AutoConfirmUnknown bool

	mu        sync.Mutex
	transfers map[string]*simTransfer
	byKey     map[string]string
	balances  map[string]int64
	failNext  []error
	submits   int
}

var _ ChainBridge = (*SimulatedBridge)(nil)

func NewSimulatedBridge() *SimulatedBridge {
	return &SimulatedBridge{
		transfers: make(map[string]*simTransfer),
		byKey:     make(map[string]string),
		balances:  make(map[string]int64),
	}
}

// Deposit registers an incoming stake transfer with the given final status.
func (sb *SimulatedBridge) Deposit(ref string, amount int64, status entity.TransferStatus) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	sb.transfers[ref] = &simTransfer{amount: amount, status: status}
}

// FailNextSubmits makes the following submissions return errs in order.
func (sb *SimulatedBridge) FailNextSubmits(errs ...error) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	sb.failNext = append(sb.failNext, errs...)
}

// SetStatus overrides the status of a known transfer.
func (sb *SimulatedBridge) SetStatus(ref string, status entity.TransferStatus) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if t, ok := sb.transfers[ref]; ok {
		t.status = status
	}
}

// Submits counts accepted submissions, rebroadcasts included.
func (sb *SimulatedBridge) Submits() int {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return sb.submits
}

// Sent sums the amount of distinct transfers to address.
func (sb *SimulatedBridge) Sent(address string) int64 {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	var total int64
	for _, ref := range sb.byKey {
		if t := sb.transfers[ref]; t.to == address {
			total += t.amount
		}
	}
	return total
}

func (sb *SimulatedBridge) SubmitTransfer(_ context.Context, t Transfer) (string, error) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if len(sb.failNext) > 0 {
		err := sb.failNext[0]
		sb.failNext = sb.failNext[1:]
		return "", err
	}
	if t.To == "" || t.Amount <= 0 {
		return "", fmt.Errorf("%w: bad transfer to %q amount %d", errorvalues.ErrTransferRejected, t.To, t.Amount)
	}
	sb.submits++
	if ref, ok := sb.byKey[t.Key]; ok {
		return ref, nil
	}
	ref := "0x" + uuid.New().String()
	sb.transfers[ref] = &simTransfer{to: t.To, amount: t.Amount, status: entity.TransferUnconfirmed}
	sb.byKey[t.Key] = ref
	sb.balances[t.To] += t.Amount
	return ref, nil
}

func (sb *SimulatedBridge) GetTransferStatus(_ context.Context, ref string) (entity.TransferStatus, error) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	t, ok := sb.transfers[ref]
	if !ok {
		if sb.AutoConfirmUnknown {
			return entity.TransferConfirmed, nil
		}
		return "", errorvalues.ErrTransferNotFound
	}
	if t.status == entity.TransferUnconfirmed {
		t.polls++
		if t.polls > sb.ConfirmAfter {
			t.status = entity.TransferConfirmed
		}
	}
	return t.status, nil
}

func (sb *SimulatedBridge) GetBalance(_ context.Context, address string) (*big.Int, error) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return big.NewInt(sb.balances[address]), nil
}
