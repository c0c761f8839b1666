// Package chain moves escrow funds on the settlement blockchain and observes
// transfer finality.
package chain

import (
	"context"
	"math/big"

	"github.com/limbo/stakepool/pkg/entity"
)

// Transfer is an outgoing payment from the escrow account. Key identifies the
// logical transfer: submitting the same key twice never moves funds twice.
type Transfer struct {
	To     string
	Amount int64
	Key    string
}

//go:generate mockgen -source=chain.go -destination=mocks/chain_bridge.go -package=mocks
type ChainBridge interface {
	// Submits escrow transfer and returns its reference (tx hash)
	SubmitTransfer(ctx context.Context, t Transfer) (string, error)
	// Reports finality of a transfer. TransferUnconfirmed means still pending
	GetTransferStatus(ctx context.Context, ref string) (entity.TransferStatus, error)
	// Balance of address in chain base units
	GetBalance(ctx context.Context, address string) (*big.Int, error)
}
