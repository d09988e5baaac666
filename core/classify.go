package core

import (
	"errors"
	"strings"
)

// ClassifySubmitError maps a raw chain failure to a stable kind.
// Matching is case-insensitive and the first rule wins: insufficient funds, nonce, gas, generic.
func ClassifySubmitError(err error) *Error {
	if err == nil {
		return nil
	}
	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}

	raw := err.Error()
	msg := strings.ToLower(raw)
	switch {
	case strings.Contains(msg, "insufficient funds"):
		return WrapError(KindInsufficientFunds, "Insufficient funds for transaction and gas fees", err)
	case strings.Contains(msg, "nonce"):
		return WrapError(KindNonceConflict, "Transaction conflict. Please try again.", err)
	case strings.Contains(msg, "gas"):
		return WrapError(KindGasEstimationFailed, "Gas estimation failed. Please try again.", err)
	default:
		return WrapError(KindTransactionFailed, "Transaction failed: "+raw, err)
	}
}
