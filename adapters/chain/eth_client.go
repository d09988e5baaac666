package chain

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/awnumar/memguard"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/log"
	"github.com/shopspring/decimal"

	"github.com/layer-3/otpwallet/core"
	"github.com/layer-3/otpwallet/ports"
)

var ErrInvalidKey = errors.New("invalid private key")

// Backend is the subset of the JSON-RPC client the wallet needs. *ethclient.Client satisfies it.
type Backend interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// EthClient implements ChainClient on top of an Ethereum JSON-RPC backend
type EthClient struct {
	backend Backend
	chainID *big.Int
	logger  log.Logger
}

var _ ports.ChainClient = (*EthClient)(nil)

// NewEthClient wraps a backend for the given chain
func NewEthClient(backend Backend, chainID int64) *EthClient {
	return &EthClient{
		backend: backend,
		chainID: big.NewInt(chainID),
		logger:  log.New("module", "chain"),
	}
}

// Dial connects to a JSON-RPC endpoint
func Dial(ctx context.Context, rpcURL string, chainID int64) (*EthClient, *ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to dial %s: %w", rpcURL, err)
	}
	return NewEthClient(client, chainID), client, nil
}

// GetBalance returns the latest balance in ETH
func (c *EthClient) GetBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	wei, err := c.backend.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("balance lookup failed: %w", err)
	}
	return core.WeiToEth(wei), nil
}

// GetGasPrice returns the suggested legacy gas price in wei
func (c *EthClient) GetGasPrice(ctx context.Context) (*big.Int, error) {
	return c.backend.SuggestGasPrice(ctx)
}

// IsValidAddressFormat reports whether address is a 0x-prefixed hex address
func (c *EthClient) IsValidAddressFormat(address string) bool {
	return core.IsValidAddress(address) && common.IsHexAddress(address)
}

// Submit signs an EIP-1559 value transfer and broadcasts it.
// The fee cap is twice the suggested gas price and the tip equals it.
func (c *EthClient) Submit(ctx context.Context, privateKey, to string, amountEth decimal.Decimal) (string, error) {
	key, err := decodeKey(privateKey)
	if err != nil {
		return "", err
	}
	from := crypto.PubkeyToAddress(key.PublicKey)

	nonce, err := c.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return "", err
	}
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return "", err
	}

	recipient := common.HexToAddress(to)
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: gasPrice,
		GasFeeCap: new(big.Int).Mul(gasPrice, big.NewInt(2)),
		Gas:       core.TransferGasLimit,
		To:        &recipient,
		Value:     core.EthToWei(amountEth),
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), key)
	if err != nil {
		return "", fmt.Errorf("signing failed: %w", err)
	}

	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return "", err
	}

	hash := signed.Hash().Hex()
	c.logger.Info("Transaction broadcast", "hash", hash, "from", from.Hex(), "to", recipient.Hex(), "nonce", nonce)
	return hash, nil
}

// decodeKey parses hex key material inside a locked buffer that is wiped afterwards
func decodeKey(privateKey string) (*ecdsa.PrivateKey, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(privateKey, "0x"))
	if err != nil || len(raw) != 32 {
		return nil, ErrInvalidKey
	}
	buf := memguard.NewBufferFromBytes(raw)
	defer buf.Destroy()

	key, err := crypto.ToECDSA(buf.Bytes())
	if err != nil {
		return nil, ErrInvalidKey
	}
	return key, nil
}
