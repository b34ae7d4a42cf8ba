package core

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Identity is the validator's signing keypair. The hotkey string is derived
// from the public key and is what peers and the config service see.
type Identity struct {
	key    *ecdsa.PrivateKey
	hotkey string
}

// NewIdentity derives the keypair from the wallet secret seed. When the seed
// is empty a hotkey override must be supplied for read-only operation.
func NewIdentity(secretSeed, hotkeyOverride string) (*Identity, error) {
	if secretSeed == "" {
		if hotkeyOverride == "" {
			return nil, fmt.Errorf("no wallet seed and no hotkey override")
		}
		return &Identity{hotkey: hotkeyOverride}, nil
	}

	seed := strings.TrimPrefix(secretSeed, "0x")
	key, err := crypto.HexToECDSA(seed)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key from wallet seed: %w", err)
	}

	id := &Identity{key: key}
	if hotkeyOverride != "" {
		id.hotkey = hotkeyOverride
	} else {
		id.hotkey = crypto.PubkeyToAddress(key.PublicKey).Hex()
	}
	return id, nil
}

// Hotkey returns the validator's public identity string.
func (id *Identity) Hotkey() string { return id.hotkey }

// Sign signs a 32-byte digest with the hotkey.
func (id *Identity) Sign(digest []byte) ([]byte, error) {
	if id.key == nil {
		return nil, fmt.Errorf("identity has no signing key")
	}
	sig, err := crypto.Sign(digest, id.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign digest: %w", err)
	}
	return sig, nil
}

// SignMessage hashes an arbitrary message and signs it.
func (id *Identity) SignMessage(msg []byte) (string, error) {
	sig, err := id.Sign(crypto.Keccak256(msg))
	if err != nil {
		return "", err
	}
	return hexutil.Encode(sig), nil
}
