package core

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Network describes the chain the wallet transacts on
type Network struct {
	Name        string
	ChainID     int64
	ExplorerURL string
}

// Sepolia is the default test network
var Sepolia = Network{
	Name:        "Sepolia",
	ChainID:     11155111,
	ExplorerURL: "https://sepolia.etherscan.io",
}

// TxURL returns the block-explorer page for a transaction hash
func (n Network) TxURL(hash string) string {
	return fmt.Sprintf("%s/tx/%s", strings.TrimRight(n.ExplorerURL, "/"), hash)
}

// Display returns "<name> - <chain id>"
func (n Network) Display() string {
	return fmt.Sprintf("%s - %d", n.Name, n.ChainID)
}

// WalletInfo is a read projection of the custodial wallet. It is either fully populated or absent.
type WalletInfo struct {
	Address    string
	Network    string
	ChainID    int64
	BalanceEth decimal.Decimal
}

// FormattedBalance returns the balance truncated for display
func (w WalletInfo) FormattedBalance() string {
	return FormatBalance(w.BalanceEth)
}

// TransactionRequest is a validated transfer request. It is never persisted.
type TransactionRequest struct {
	To        string
	AmountEth decimal.Decimal
}

// TransactionResult is returned once per successful submission
type TransactionResult struct {
	TransactionHash string
	ExplorerURL     string
}

// TruncatedHash shortens the hash for display (0x12345678...abcdef)
func (r TransactionResult) TruncatedHash() string {
	if len(r.TransactionHash) <= 16 {
		return r.TransactionHash
	}
	return r.TransactionHash[:10] + "..." + r.TransactionHash[len(r.TransactionHash)-6:]
}
