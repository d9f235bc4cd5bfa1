// Package evm implements domain.AssetTransfer against an EVM chain over
// JSON-RPC, signing treasury transactions locally.
package evm

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/openlaunch/saled/internal/crypto"
	"github.com/openlaunch/saled/internal/domain"
)

// erc20ABI covers the two ERC-20 methods the transfer layer needs.
const erc20ABI = `[
	{"inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"name":"transferFrom","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"}
]`

// receiptPollInterval is how often mined-receipt polling retries.
const receiptPollInterval = 2 * time.Second

// Config holds the transfer layer's connection parameters.
type Config struct {
	RPCURL  string
	ChainID int64
}

// Transfer signs and submits treasury transactions. Nonce assignment is
// serialized with a mutex; the engine only issues one transfer at a time but
// sweeps may run concurrently with purchases.
type Transfer struct {
	client  *ethclient.Client
	chainID *big.Int
	key     *crypto.TreasuryKey
	erc20   abi.ABI
	signer  types.Signer
	logger  *slog.Logger

	mu sync.Mutex
}

var _ domain.AssetTransfer = (*Transfer)(nil)

// New dials the chain RPC endpoint and returns a ready Transfer signing with
// the given treasury key.
func New(ctx context.Context, cfg Config, key *crypto.TreasuryKey, logger *slog.Logger) (*Transfer, error) {
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("evm: parse erc20 abi: %w", err)
	}

	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("evm: dial %s: %w", cfg.RPCURL, err)
	}

	chainID := big.NewInt(cfg.ChainID)
	return &Transfer{
		client:  client,
		chainID: chainID,
		key:     key,
		erc20:   parsed,
		signer:  types.LatestSignerForChainID(chainID),
		logger:  logger.With("component", "evm_transfer"),
	}, nil
}

// Close releases the underlying RPC connection.
func (t *Transfer) Close() {
	t.client.Close()
}

// Collect pulls amount of asset from payer to destination via transferFrom.
// The payer must have approved the treasury as spender beforehand. Native
// deposits are made out-of-band by the payer, so Collect only acknowledges
// them.
func (t *Transfer) Collect(ctx context.Context, payer, asset common.Address, amount *big.Int, destination common.Address) error {
	if asset == domain.NativeAsset {
		t.logger.Debug("native deposit acknowledged",
			"payer", payer.Hex(), "amount", amount.String())
		return nil
	}

	data, err := t.erc20.Pack("transferFrom", payer, destination, amount)
	if err != nil {
		return fmt.Errorf("evm: pack transferFrom: %w", err)
	}
	if err := t.submit(ctx, &asset, nil, data); err != nil {
		return fmt.Errorf("evm: collect %s from %s: %w", amount.String(), payer.Hex(), err)
	}
	return nil
}

// Disburse sends amount of asset from the treasury to recipient.
func (t *Transfer) Disburse(ctx context.Context, recipient, asset common.Address, amount *big.Int) error {
	data, err := t.erc20.Pack("transfer", recipient, amount)
	if err != nil {
		return fmt.Errorf("evm: pack transfer: %w", err)
	}
	if err := t.submit(ctx, &asset, nil, data); err != nil {
		return fmt.Errorf("evm: disburse %s to %s: %w", amount.String(), recipient.Hex(), err)
	}
	return nil
}

// DisburseNative sends amount of the native currency from the treasury to
// recipient.
func (t *Transfer) DisburseNative(ctx context.Context, recipient common.Address, amount *big.Int) error {
	if err := t.submit(ctx, &recipient, amount, nil); err != nil {
		return fmt.Errorf("evm: disburse native %s to %s: %w", amount.String(), recipient.Hex(), err)
	}
	return nil
}

// submit builds, signs, sends, and waits for one treasury transaction. The
// mutex covers nonce assignment through SendTransaction so concurrent callers
// cannot race on the same nonce.
func (t *Transfer) submit(ctx context.Context, to *common.Address, value *big.Int, data []byte) error {
	t.mu.Lock()

	nonce, err := t.client.PendingNonceAt(ctx, t.key.Address)
	if err != nil {
		t.mu.Unlock()
		return fmt.Errorf("pending nonce: %w", err)
	}

	gasPrice, err := t.client.SuggestGasPrice(ctx)
	if err != nil {
		t.mu.Unlock()
		return fmt.Errorf("suggest gas price: %w", err)
	}

	msg := ethereum.CallMsg{From: t.key.Address, To: to, Value: value, Data: data}
	gasLimit, err := t.client.EstimateGas(ctx, msg)
	if err != nil {
		t.mu.Unlock()
		return fmt.Errorf("estimate gas: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       to,
		Value:    value,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})

	signed, err := types.SignTx(tx, t.signer, t.key.PrivateKey)
	if err != nil {
		t.mu.Unlock()
		return fmt.Errorf("sign tx: %w", err)
	}

	if err := t.client.SendTransaction(ctx, signed); err != nil {
		t.mu.Unlock()
		return fmt.Errorf("send tx: %w", err)
	}
	t.mu.Unlock()

	t.logger.Info("transaction submitted",
		"hash", signed.Hash().Hex(), "nonce", nonce, "gas", gasLimit)

	receipt, err := t.waitMined(ctx, signed.Hash())
	if err != nil {
		return fmt.Errorf("wait mined %s: %w", signed.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("tx %s reverted", signed.Hash().Hex())
	}
	return nil
}

// waitMined polls for the transaction receipt until it appears or the context
// is cancelled.
func (t *Transfer) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := t.client.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
