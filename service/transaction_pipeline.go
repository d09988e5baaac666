package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/log"
	"github.com/shopspring/decimal"

	"github.com/layer-3/otpwallet/core"
	"github.com/layer-3/otpwallet/ports"
)

// TransactionPipeline validates, pre-flights and submits value transfers from the session wallet.
// It keeps no state between calls.
type TransactionPipeline struct {
	store   ports.SessionStore
	chain   ports.ChainClient
	events  ports.EventPublisher
	network core.Network
	logger  log.Logger
}

// NewTransactionPipeline creates a pipeline on Sepolia unless WithNetwork says otherwise
func NewTransactionPipeline(store ports.SessionStore, chain ports.ChainClient, opts ...PipelineOption) *TransactionPipeline {
	p := &TransactionPipeline{
		store:   store,
		chain:   chain,
		events:  nopEvents{},
		network: core.Sepolia,
		logger:  log.New("module", "pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Network returns the network transfers are submitted to
func (p *TransactionPipeline) Network() core.Network {
	return p.network
}

// ValidateRequest checks the recipient and amount without touching the session or the chain
func (p *TransactionPipeline) ValidateRequest(to, amountText string) (core.TransactionRequest, error) {
	if !core.IsValidAddress(to) || !p.chain.IsValidAddressFormat(to) {
		return core.TransactionRequest{}, core.NewError(core.KindInvalidAddress, "Invalid recipient address")
	}

	amount, err := core.ParseAmount(amountText)
	if err != nil {
		return core.TransactionRequest{}, core.WrapError(core.KindInvalidAmount, "Invalid amount", err)
	}
	if !amount.IsPositive() {
		return core.TransactionRequest{}, core.NewError(core.KindInvalidAmount, "Amount must be greater than zero")
	}
	if core.EthToWei(amount).Sign() == 0 {
		return core.TransactionRequest{}, core.NewError(core.KindInvalidAmount, "Amount is smaller than 1 wei")
	}
	return core.TransactionRequest{To: to, AmountEth: amount}, nil
}

// Submit sends amountText ETH to the recipient. Every failure is returned as a *core.Error.
func (p *TransactionPipeline) Submit(ctx context.Context, to, amountText string) (core.TransactionResult, error) {
	req, err := p.ValidateRequest(to, amountText)
	if err != nil {
		return core.TransactionResult{}, err
	}

	session, err := p.session(ctx)
	if err != nil {
		return core.TransactionResult{}, err
	}

	balance, err := p.chain.GetBalance(ctx, session.Address)
	if err != nil {
		p.logger.Warn("Balance lookup failed", "address", session.Address, "err", err)
		return core.TransactionResult{}, core.WrapError(core.KindNetworkFailed, "Could not fetch balance. Please try again.", err)
	}
	if balance.LessThan(req.AmountEth) {
		return core.TransactionResult{}, core.NewError(core.KindInsufficientBalance,
			fmt.Sprintf("Insufficient balance. Available: %s ETH", core.FormatBalance(balance)))
	}

	hash, err := p.chain.Submit(ctx, session.PrivateKey, req.To, req.AmountEth)
	if err != nil {
		classified := core.ClassifySubmitError(err)
		p.logger.Warn("Transaction submission failed", "kind", classified.Kind, "err", err)
		return core.TransactionResult{}, classified
	}

	result := core.TransactionResult{TransactionHash: hash, ExplorerURL: p.ExplorerURL(hash)}
	p.logger.Info("Transaction submitted", "hash", hash, "to", req.To, "amount", req.AmountEth.String())

	if err := p.events.PublishTransaction(ctx, session.Address, req.To, req.AmountEth.String(), hash); err != nil {
		p.logger.Warn("Failed to publish transaction event", "err", err)
	}
	return result, nil
}

// WalletInfo returns the session wallet with its current balance
func (p *TransactionPipeline) WalletInfo(ctx context.Context) (core.WalletInfo, error) {
	address, err := p.store.Address(ctx)
	if err != nil {
		return core.WalletInfo{}, core.WrapError(core.KindStoreFailed, "Could not read wallet", err)
	}
	if address == "" {
		return core.WalletInfo{}, noWallet()
	}

	balance, err := p.Balance(ctx, address)
	if err != nil {
		return core.WalletInfo{}, err
	}
	return core.WalletInfo{
		Address:    address,
		Network:    p.network.Name,
		ChainID:    p.network.ChainID,
		BalanceEth: balance,
	}, nil
}

// Balance returns the balance of address in ETH
func (p *TransactionPipeline) Balance(ctx context.Context, address string) (decimal.Decimal, error) {
	balance, err := p.chain.GetBalance(ctx, address)
	if err != nil {
		return decimal.Zero, core.WrapError(core.KindNetworkFailed, "Could not fetch balance. Please try again.", err)
	}
	return balance, nil
}

// EstimateFee returns the maximum fee of a plain transfer in ETH at the current gas price
func (p *TransactionPipeline) EstimateFee(ctx context.Context) (decimal.Decimal, error) {
	gasPrice, err := p.chain.GetGasPrice(ctx)
	if err != nil {
		return decimal.Zero, core.WrapError(core.KindNetworkFailed, "Could not fetch gas price. Please try again.", err)
	}
	maxFee := new(big.Int).Mul(gasPrice, big.NewInt(2))
	maxFee.Mul(maxFee, new(big.Int).SetUint64(core.TransferGasLimit))
	return core.WeiToEth(maxFee), nil
}

// ExplorerURL returns the block-explorer link for a transaction hash
func (p *TransactionPipeline) ExplorerURL(hash string) string {
	return p.network.TxURL(hash)
}

func (p *TransactionPipeline) session(ctx context.Context) (core.Session, error) {
	session, err := p.store.Read(ctx)
	if errors.Is(err, core.ErrSessionNotFound) {
		return core.Session{}, noWallet()
	}
	if err != nil {
		return core.Session{}, core.WrapError(core.KindStoreFailed, "Could not read wallet", err)
	}
	if !session.Valid() {
		return core.Session{}, noWallet()
	}
	return session, nil
}

func noWallet() error {
	return core.NewError(core.KindNoWallet, "No wallet found. Please login first.")
}
