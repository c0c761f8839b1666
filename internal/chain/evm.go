package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	errorvalues "github.com/limbo/stakepool/internal/error_values"
	"github.com/limbo/stakepool/pkg/entity"
)

const transferGasLimit = 21000

// RPCClient is the subset of ethclient.Client used by the bridge.
type RPCClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

type EVMConfig struct {
	RPCURL        string
	PrivateKeyHex string
	// Wei per ledger minor unit
	UnitScale     *big.Int
	Confirmations uint64
}

// EVMBridge pays out native coin from a single escrow key over JSON-RPC.
type EVMBridge struct {
	client        RPCClient
	key           *ecdsa.PrivateKey
	escrow        common.Address
	chainID       *big.Int
	scale         *big.Int
	confirmations uint64

	mu        sync.Mutex
	nextNonce uint64
	signed    map[string]*types.Transaction
}

var _ ChainBridge = (*EVMBridge)(nil)

// DialEVM connects to the RPC endpoint. The returned close function releases
// the connection.
func DialEVM(ctx context.Context, cfg EVMConfig) (*EVMBridge, func(), error) {
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, nil, fmt.Errorf("chain: dial %s: %w", cfg.RPCURL, err)
	}
	bridge, err := NewEVMBridge(ctx, client, cfg)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return bridge, client.Close, nil
}

func NewEVMBridge(ctx context.Context, client RPCClient, cfg EVMConfig) (*EVMBridge, error) {
	key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("chain: invalid escrow key: %w", err)
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain: chain id: %w", err)
	}
	scale := cfg.UnitScale
	if scale == nil || scale.Sign() <= 0 {
		scale = big.NewInt(1)
	}
	confirmations := cfg.Confirmations
	if confirmations == 0 {
		confirmations = 1
	}
	return &EVMBridge{
		client:        client,
		key:           key,
		escrow:        ethcrypto.PubkeyToAddress(key.PublicKey),
		chainID:       chainID,
		scale:         scale,
		confirmations: confirmations,
		signed:        make(map[string]*types.Transaction),
	}, nil
}

func (b *EVMBridge) EscrowAddress() string {
	return b.escrow.Hex()
}

// SubmitTransfer signs the transfer once per key and (re)broadcasts the same
// signed transaction on every call.
func (b *EVMBridge) SubmitTransfer(ctx context.Context, t Transfer) (string, error) {
	if !common.IsHexAddress(t.To) || t.Amount <= 0 {
		return "", fmt.Errorf("%w: bad transfer to %q amount %d", errorvalues.ErrTransferRejected, t.To, t.Amount)
	}
	tx, err := b.signedTx(ctx, t)
	if err != nil {
		return "", err
	}
	if err := b.client.SendTransaction(ctx, tx); err != nil && !alreadyKnown(err) {
		if rejectedByNode(err) {
			return "", fmt.Errorf("%w: %v", errorvalues.ErrTransferRejected, err)
		}
		return "", fmt.Errorf("chain: send transaction: %w", err)
	}
	return tx.Hash().Hex(), nil
}

func (b *EVMBridge) signedTx(ctx context.Context, t Transfer) (*types.Transaction, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if tx, ok := b.signed[t.Key]; ok {
		return tx, nil
	}
	nonce, err := b.client.PendingNonceAt(ctx, b.escrow)
	if err != nil {
		return nil, fmt.Errorf("chain: pending nonce: %w", err)
	}
	// Transactions signed but not yet seen by the node still hold their nonce
	nonce = max(nonce, b.nextNonce)
	gasPrice, err := b.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain: gas price: %w", err)
	}
	to := common.HexToAddress(t.To)
	value := new(big.Int).Mul(big.NewInt(t.Amount), b.scale)
	tx, err := types.SignTx(types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      transferGasLimit,
		GasPrice: gasPrice,
	}), types.LatestSignerForChainID(b.chainID), b.key)
	if err != nil {
		return nil, fmt.Errorf("chain: sign: %w", err)
	}
	b.signed[t.Key] = tx
	b.nextNonce = nonce + 1
	return tx, nil
}

func (b *EVMBridge) GetTransferStatus(ctx context.Context, ref string) (entity.TransferStatus, error) {
	receipt, err := b.client.TransactionReceipt(ctx, common.HexToHash(ref))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return entity.TransferUnconfirmed, nil
		}
		return "", fmt.Errorf("chain: receipt %s: %w", ref, err)
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return entity.TransferFailed, nil
	}
	head, err := b.client.BlockNumber(ctx)
	if err != nil {
		return "", fmt.Errorf("chain: block number: %w", err)
	}
	if receipt.BlockNumber == nil || head+1 < receipt.BlockNumber.Uint64()+b.confirmations {
		return entity.TransferUnconfirmed, nil
	}
	return entity.TransferConfirmed, nil
}

func (b *EVMBridge) GetBalance(ctx context.Context, address string) (*big.Int, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("chain: invalid address %q", address)
	}
	balance, err := b.client.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return nil, fmt.Errorf("chain: balance of %s: %w", address, err)
	}
	return balance, nil
}

// A rebroadcast of a mined transaction is reported as nonce too low; the
// receipt decides its outcome.
func alreadyKnown(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already known") || strings.Contains(msg, "nonce too low")
}

func rejectedByNode(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "insufficient funds") || strings.Contains(msg, "intrinsic gas too low")
}
