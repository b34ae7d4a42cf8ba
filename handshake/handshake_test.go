package handshake

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/crypto/ecies"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asiatensor/soulx-validator/chain"
	"github.com/asiatensor/soulx-validator/core"
)

func TestSealRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	plaintext := []byte(`{"messages":[{"role":"user","content":"hi"}]}`)

	sealed, err := Seal(key, plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, sealed)

	opened, err := Open(key, sealed)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}

func TestOpenRejectsTamperedPayload(t *testing.T) {
	key := make([]byte, 32)
	sealed, err := Seal(key, []byte("payload"))
	require.NoError(t, err)

	sealed[len(sealed)-1] ^= 0xff
	_, err = Open(key, sealed)
	assert.Error(t, err)
}

func TestOpenRejectsShortPayload(t *testing.T) {
	_, err := Open(make([]byte, 32), []byte("short"))
	assert.Error(t, err)
}

// fakeMiner implements the miner side of the key exchange.
type fakeMiner struct {
	priv        *ecies.PrivateKey
	pubHex      string
	receivedKey []byte
	receivedUID string
}

func newFakeMiner(t *testing.T) *fakeMiner {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return &fakeMiner{
		priv:   ecies.ImportECDSA(key),
		pubHex: hexutil.Encode(crypto.FromECDSAPub(&key.PublicKey)),
	}
}

func (m *fakeMiner) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/public-encryption-key", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"public_key": m.pubHex})
	})
	mux.HandleFunc("/exchange-symmetric-key", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			EncryptedSymmetricKey string `json:"encrypted_symmetric_key"`
			SymmetricKeyUID       string `json:"symmetric_key_uid"`
			Hotkey                string `json:"hotkey"`
			Signature             string `json:"signature"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotEmpty(t, req.Signature)

		encrypted, err := hexutil.Decode(req.EncryptedSymmetricKey)
		require.NoError(t, err)
		key, err := m.priv.Decrypt(encrypted, nil, nil)
		require.NoError(t, err)

		m.receivedKey = key
		m.receivedUID = req.SymmetricKeyUID
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func testIdentity(t *testing.T) *core.Identity {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	id, err := core.NewIdentity(hex.EncodeToString(crypto.FromECDSA(key)), "")
	require.NoError(t, err)
	return id
}

func serverNode(t *testing.T, url, hotkey string) chain.Neuron {
	hostPort := strings.TrimPrefix(url, "http://")
	parts := strings.Split(hostPort, ":")
	require.Len(t, parts, 2)
	port, err := strconv.Atoi(parts[1])
	require.NoError(t, err)
	return chain.Neuron{UID: 0, Hotkey: hotkey, IP: parts[0], Port: port, Active: true}
}

func TestRefreshAllNegotiatesSession(t *testing.T) {
	miner := newFakeMiner(t)
	server := httptest.NewServer(miner.handler(t))
	defer server.Close()

	mgr := NewManager(testIdentity(t), false)
	mgr.UpdateNodes([]chain.Neuron{serverNode(t, server.URL, "miner-hk")})
	mgr.RefreshAll(context.Background())

	session, ok := mgr.Get("miner-hk")
	require.True(t, ok)
	require.True(t, session.OK)
	assert.Equal(t, miner.receivedUID, session.SymmetricKeyUID)
	assert.Equal(t, miner.receivedKey, session.SymmetricKey)

	// both sides can use the negotiated key
	sealed, err := Seal(session.SymmetricKey, []byte("query payload"))
	require.NoError(t, err)
	opened, err := Open(miner.receivedKey, sealed)
	require.NoError(t, err)
	assert.Equal(t, []byte("query payload"), opened)
}

func TestRefreshAllRecordsFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	mgr := NewManager(testIdentity(t), false)
	mgr.UpdateNodes([]chain.Neuron{serverNode(t, server.URL, "broken-miner")})
	mgr.RefreshAll(context.Background())

	session, ok := mgr.Get("broken-miner")
	require.True(t, ok)
	assert.False(t, session.OK)
	assert.NotEmpty(t, session.Error)
}

func TestRefreshAllSkipsUnreachableNodes(t *testing.T) {
	mgr := NewManager(testIdentity(t), false)
	mgr.UpdateNodes([]chain.Neuron{{UID: 0, Hotkey: "no-axon", IP: "0.0.0.0", Port: 0}})
	mgr.RefreshAll(context.Background())

	_, ok := mgr.Get("no-axon")
	assert.False(t, ok)
}
