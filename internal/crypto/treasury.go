package crypto

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// TreasuryKey is the resolved secp256k1 signing key for treasury operations:
// collecting stable-asset payments, disbursing claims, and sweeps.
type TreasuryKey struct {
	PrivateKey *ecdsa.PrivateKey
	Address    common.Address
}

// LoadTreasuryKey resolves the treasury key from cfg (raw hex or an encrypted
// key file, see LoadKey) and parses it into a usable ECDSA key.
func LoadTreasuryKey(cfg KeyConfig) (*TreasuryKey, error) {
	keyHex, err := LoadKey(cfg)
	if err != nil {
		return nil, err
	}

	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid treasury key: %w", err)
	}

	return &TreasuryKey{
		PrivateKey: pk,
		Address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}
