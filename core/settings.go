package core

import (
	"errors"
	"time"
)

const (
	// DefaultOTPLength is the number of digits in a one-time code
	DefaultOTPLength = 6

	// DefaultResendCooldown is how long a caller must wait before requesting a new code
	DefaultResendCooldown = 60 * time.Second

	// EthDecimals is the number of fractional digits between ETH and wei
	EthDecimals = 18

	// DisplayDecimals is the number of fractional digits shown for balances
	DisplayDecimals = 8

	// TransferGasLimit is the gas limit of a plain value transfer
	TransferGasLimit = 21000
)

// Settings holds the tunables consumed by the auth flow and the transaction pipeline
type Settings struct {
	OTPLength      int
	ResendCooldown time.Duration
	Network        Network
}

// DefaultSettings returns the settings used when nothing is configured
func DefaultSettings() Settings {
	return Settings{
		OTPLength:      DefaultOTPLength,
		ResendCooldown: DefaultResendCooldown,
		Network:        Sepolia,
	}
}

// CooldownSeconds returns the resend cooldown in whole seconds
func (s Settings) CooldownSeconds() int {
	return int(s.ResendCooldown / time.Second)
}

// Validate checks that the settings are usable
func (s Settings) Validate() error {
	if s.OTPLength <= 0 {
		return errors.New("otp length must be positive")
	}
	if s.ResendCooldown < time.Second {
		return errors.New("resend cooldown must be at least one second")
	}
	if s.Network.ChainID <= 0 {
		return errors.New("chain id must be positive")
	}
	if s.Network.ExplorerURL == "" {
		return errors.New("explorer url is required")
	}
	return nil
}
