package crypto

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// AddressFromKey derives the Ethereum address controlled by the given
// hex-encoded private key (with or without 0x prefix).
func AddressFromKey(privateKeyHex string) (common.Address, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	key, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto: parsing private key: %w", err)
	}
	return ethcrypto.PubkeyToAddress(key.PublicKey), nil
}

// ResolveAddress resolves the requester's identity. A literal address takes
// precedence; otherwise the key is loaded per cfg (raw hex or encrypted file)
// and its address derived.
func ResolveAddress(address string, cfg KeyConfig) (common.Address, error) {
	if address != "" {
		if !common.IsHexAddress(address) {
			return common.Address{}, fmt.Errorf("crypto: %q is not a valid address", address)
		}
		return common.HexToAddress(address), nil
	}

	keyHex, err := LoadKey(cfg)
	if err != nil {
		return common.Address{}, err
	}
	return AddressFromKey(keyHex)
}
