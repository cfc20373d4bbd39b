package issuer

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"remit/apps/remit/internal/assets"
	"remit/apps/remit/internal/confirmation"
)

// MockTx is a synthetic transaction recorded by MockChain.
type MockTx struct {
	Hash        string
	Kind        string
	Symbol      string
	Amount      string
	SubmittedAt time.Time
	checks      int
	reverted    bool
}

// MockChain stands in for the network in mock mode: it records synthetic
// submissions and reports them as confirmed.
type MockChain struct {
	mu           sync.RWMutex
	txs          map[string]*MockTx
	order        []string
	confirmAfter int
}

func NewMockChain() *MockChain {
	return &MockChain{txs: make(map[string]*MockTx)}
}

// SetConfirmAfter makes every transaction report pending for n status checks.
func (m *MockChain) SetConfirmAfter(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.confirmAfter = n
}

// Revert marks a recorded transaction as reverted.
func (m *MockChain) Revert(hash string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tx, exists := m.txs[hash]; exists {
		tx.reverted = true
	}
}

func (m *MockChain) Status(_ context.Context, txHash string) (confirmation.TxState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, exists := m.txs[strings.TrimPrefix(txHash, "0x")]
	if !exists {
		return confirmation.TxPending, nil
	}
	if tx.reverted {
		return confirmation.TxReverted, nil
	}

	tx.checks++
	if tx.checks > m.confirmAfter {
		return confirmation.TxConfirmed, nil
	}
	return confirmation.TxPending, nil
}

// Transactions returns recorded transactions in submission order.
func (m *MockChain) Transactions() []MockTx {
	m.mu.RLock()
	defer m.mu.RUnlock()

	txs := make([]MockTx, 0, len(m.order))
	for _, hash := range m.order {
		txs = append(txs, *m.txs[hash])
	}
	return txs
}

func (m *MockChain) record(tx *MockTx) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txs[tx.Hash] = tx
	m.order = append(m.order, tx.Hash)
}

type mockSubmitter struct {
	chain *MockChain
}

func (s *mockSubmitter) submit(_ context.Context, currency *assets.Currency, redeemer Redeemer) (string, error) {
	seed := uuid.New()
	hash := crypto.Keccak256Hash(seed[:], []byte(currency.TokenUnit()), []byte{redeemer.Selector()}, redeemer.Amount().Bytes())
	txHash := strings.TrimPrefix(hash.Hex(), "0x")

	s.chain.record(&MockTx{
		Hash:        txHash,
		Kind:        redeemer.Kind(),
		Symbol:      currency.TokenSymbol,
		Amount:      redeemer.Amount().String(),
		SubmittedAt: time.Now(),
	})

	return txHash, nil
}
