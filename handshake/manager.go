package handshake

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/semaphore"

	"github.com/asiatensor/soulx-validator/chain"
	"github.com/asiatensor/soulx-validator/core"
)

// Session is the negotiated binding to one miner. OK is false when the last
// refresh attempt against that miner failed.
type Session struct {
	MinerHotkey     string
	ServerAddress   string
	SymmetricKey    []byte
	SymmetricKeyUID string
	OK              bool
	Error           string
	LastRefreshedAt time.Time
}

// Manager keeps a fresh Session for every reachable miner. Refreshes run on
// a fixed interval; readers get the current map by pointer swap.
type Manager struct {
	identity         *core.Identity
	client           *http.Client
	sem              *semaphore.Weighted
	interval         time.Duration
	replaceLocalhost bool
	log              log.Logger

	mu       sync.RWMutex
	nodes    []chain.Neuron
	sessions map[string]*Session
}

// NewManager builds a manager around the validator identity.
func NewManager(identity *core.Identity, replaceLocalhost bool) *Manager {
	return &Manager{
		identity:         identity,
		client:           &http.Client{Timeout: core.HandshakeTimeout},
		sem:              semaphore.NewWeighted(core.MaxConcurrentHandshakes),
		interval:         core.HandshakeInterval,
		replaceLocalhost: replaceLocalhost,
		log:              log.New("module", "handshake"),
		sessions:         make(map[string]*Session),
	}
}

// UpdateNodes replaces the cached node snapshot. The next refresh tick
// handshakes against the new set.
func (m *Manager) UpdateNodes(nodes []chain.Neuron) {
	m.mu.Lock()
	m.nodes = append([]chain.Neuron(nil), nodes...)
	m.mu.Unlock()
}

// Get returns the session for a miner hotkey.
func (m *Manager) Get(hotkey string) (*Session, bool) {
	m.mu.RLock()
	sessions := m.sessions
	m.mu.RUnlock()
	s, ok := sessions[hotkey]
	return s, ok
}

// Run performs an immediate refresh and then ticks every interval until the
// context is cancelled.
func (m *Manager) Run(ctx context.Context) {
	m.RefreshAll(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.RefreshAll(ctx)
		}
	}
}

// RefreshAll handshakes every reachable node in the cached snapshot,
// bounded by the semaphore. Failures are recorded on the session and never
// propagate.
func (m *Manager) RefreshAll(ctx context.Context) {
	m.mu.RLock()
	nodes := m.nodes
	m.mu.RUnlock()

	fresh := make(map[string]*Session, len(nodes))
	var freshMu sync.Mutex
	var wg sync.WaitGroup

	attempted := 0
	for i := range nodes {
		node := nodes[i]
		if !node.HasAxon() {
			continue
		}
		attempted++

		if err := m.sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer m.sem.Release(1)

			session := m.handshakeNode(ctx, node)
			freshMu.Lock()
			fresh[node.Hotkey] = session
			freshMu.Unlock()
		}()
	}
	wg.Wait()

	ok := 0
	for _, s := range fresh {
		if s.OK {
			ok++
		}
	}

	m.mu.Lock()
	m.sessions = fresh
	m.mu.Unlock()

	m.log.Info("handshake refresh complete", "attempted", attempted, "ok", ok)
}

func (m *Manager) handshakeNode(ctx context.Context, node chain.Neuron) *Session {
	addr := m.serverAddress(node)
	session := &Session{
		MinerHotkey:     node.Hotkey,
		ServerAddress:   addr,
		LastRefreshedAt: time.Now(),
	}

	hctx, cancel := context.WithTimeout(ctx, core.HandshakeTimeout)
	defer cancel()

	key, keyUID, err := performHandshake(hctx, m.client, addr, m.identity)
	if err != nil {
		session.Error = err.Error()
		m.log.Debug("handshake failed", "miner", node.Hotkey, "addr", addr, "err", err)
		return session
	}

	session.SymmetricKey = key
	session.SymmetricKeyUID = keyUID
	session.OK = true
	return session
}

func (m *Manager) serverAddress(node chain.Neuron) string {
	if m.replaceLocalhost {
		return fmt.Sprintf("http://localhost:%d", node.Port)
	}
	return fmt.Sprintf("http://%s:%d", node.IP, node.Port)
}
