package app

import (
	"strings"
	"sync"

	"github.com/dkeye/roomlink/internal/protocol"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const tokenLen = 12

// TxnHandler consumes a frame that carries the transaction token it was
// registered under. It reports whether the frame was handled.
type TxnHandler func(token string, f *protocol.Frame) bool

// TransactionRegistry maps pending transaction tokens to their handlers.
// It is the only app structure touched from transport goroutines, so it
// keeps its own lock; handlers always run with the lock released.
type TransactionRegistry struct {
	mu      sync.Mutex
	pending map[string]TxnHandler
	gen     func() string
}

func NewTransactionRegistry() *TransactionRegistry {
	return &TransactionRegistry{
		pending: make(map[string]TxnHandler),
		gen:     randomToken,
	}
}

// randomToken returns 12 lowercase hex characters.
func randomToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:tokenLen]
}

// NewToken returns a token that differs from every pending one and, when
// h is non-nil, registers h under it.
func (r *TransactionRegistry) NewToken(h TxnHandler) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	for {
		token := r.gen()
		if _, taken := r.pending[token]; taken {
			continue
		}
		if h != nil {
			r.pending[token] = h
		}
		return token
	}
}

// Dispatch hands f to the handler registered under token. Unknown tokens
// are not handled. Dispatch never removes the entry.
func (r *TransactionRegistry) Dispatch(token string, f *protocol.Frame) bool {
	if token == "" {
		return false
	}
	r.mu.Lock()
	h, ok := r.pending[token]
	r.mu.Unlock()
	if !ok {
		return false
	}
	return h(token, f)
}

func (r *TransactionRegistry) Remove(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, token)
}

func (r *TransactionRegistry) Clear() {
	r.mu.Lock()
	n := len(r.pending)
	r.pending = make(map[string]TxnHandler)
	r.mu.Unlock()
	log.Debug().Str("module", "app.registry").Int("dropped", n).Msg("cleared transactions")
}

func (r *TransactionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
