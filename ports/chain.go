package ports

import (
	"context"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/layer-3/otpwallet/core"
)

// ChainClient is the remote chain. All calls may fail with network, timeout or chain errors.
type ChainClient interface {
	GetBalance(ctx context.Context, address string) (decimal.Decimal, error)
	GetGasPrice(ctx context.Context) (*big.Int, error)
	// Submit signs and broadcasts a value transfer and returns its hash
	Submit(ctx context.Context, privateKey, to string, amountEth decimal.Decimal) (string, error)
	IsValidAddressFormat(address string) bool
}

// KeyGenerator derives custodial credentials for a newly authenticated user
type KeyGenerator interface {
	GenerateKey(ctx context.Context) (core.Credentials, error)
}
