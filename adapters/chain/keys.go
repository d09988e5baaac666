package chain

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/layer-3/otpwallet/core"
	"github.com/layer-3/otpwallet/ports"
)

// KeyGenerator derives a fresh secp256k1 key per session
type KeyGenerator struct{}

var _ ports.KeyGenerator = KeyGenerator{}

// GenerateKey returns a checksummed address and the hex private key
func (KeyGenerator) GenerateKey(ctx context.Context) (core.Credentials, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return core.Credentials{}, fmt.Errorf("failed to generate key: %w", err)
	}
	return core.Credentials{
		Address:    crypto.PubkeyToAddress(key.PublicKey).Hex(),
		PrivateKey: hex.EncodeToString(crypto.FromECDSA(key)),
	}, nil
}
