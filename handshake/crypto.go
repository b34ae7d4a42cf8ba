// Package handshake maintains the symmetric session keys the dispatcher
// uses to seal payloads to miners. A handshake fetches the miner's public
// encryption key, generates a fresh symmetric key, and posts it back
// ECIES-encrypted together with the validator's signature.
package handshake

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/crypto/ecies"
	"github.com/google/uuid"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/asiatensor/soulx-validator/core"
)

type publicKeyResponse struct {
	PublicKey string `json:"public_key"`
	Timestamp int64  `json:"timestamp"`
}

type keyExchangeRequest struct {
	EncryptedSymmetricKey string `json:"encrypted_symmetric_key"`
	SymmetricKeyUID       string `json:"symmetric_key_uid"`
	Hotkey                string `json:"hotkey"`
	Timestamp             int64  `json:"timestamp"`
	Signature             string `json:"signature"`
}

// performHandshake negotiates a symmetric key with one miner. The returned
// key and uid are stored in the session map on success.
func performHandshake(ctx context.Context, client *http.Client, serverAddress string, identity *core.Identity) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", serverAddress+"/public-encryption-key", nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to build key request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch miner public key: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("miner public-key endpoint returned %d", resp.StatusCode)
	}

	var pk publicKeyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&pk); err != nil {
		return nil, "", fmt.Errorf("failed to decode miner public key: %w", err)
	}

	pubBytes, err := hexutil.Decode(pk.PublicKey)
	if err != nil {
		return nil, "", fmt.Errorf("miner public key is not valid hex: %w", err)
	}
	pub, err := crypto.UnmarshalPubkey(pubBytes)
	if err != nil {
		return nil, "", fmt.Errorf("failed to parse miner public key: %w", err)
	}

	symmetricKey := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(symmetricKey); err != nil {
		return nil, "", fmt.Errorf("failed to generate symmetric key: %w", err)
	}
	keyUID := uuid.New().String()

	encrypted, err := ecies.Encrypt(rand.Reader, ecies.ImportECDSAPublic(pub), symmetricKey, nil, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to encrypt symmetric key: %w", err)
	}

	now := time.Now().Unix()
	exchange := keyExchangeRequest{
		EncryptedSymmetricKey: hexutil.Encode(encrypted),
		SymmetricKeyUID:       keyUID,
		Hotkey:                identity.Hotkey(),
		Timestamp:             now,
	}
	sig, err := identity.SignMessage([]byte(fmt.Sprintf("%s:%s:%d", keyUID, identity.Hotkey(), now)))
	if err != nil {
		return nil, "", fmt.Errorf("failed to sign key exchange: %w", err)
	}
	exchange.Signature = sig

	body, err := json.Marshal(exchange)
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode key exchange: %w", err)
	}

	post, err := http.NewRequestWithContext(ctx, "POST", serverAddress+"/exchange-symmetric-key", bytes.NewReader(body))
	if err != nil {
		return nil, "", fmt.Errorf("failed to build key exchange request: %w", err)
	}
	post.Header.Set("Content-Type", "application/json")

	postResp, err := client.Do(post)
	if err != nil {
		return nil, "", fmt.Errorf("key exchange failed: %w", err)
	}
	defer postResp.Body.Close()
	if postResp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("key exchange returned %d", postResp.StatusCode)
	}

	return symmetricKey, keyUID, nil
}
