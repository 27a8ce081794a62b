// internal/state/token.go
package state

import (
	"errors"
	"fmt"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

var (
	ErrTokenExists   = errors.New("token already exists")
	ErrTokenNotFound = errors.New("token not found")
	ErrInvalidToken  = errors.New("invalid token")
)

// Provenance records who created a token or pool. It has no effect on pricing.
type Provenance string

const (
	ProvenanceSystem Provenance = "system"
	ProvenancePlayer Provenance = "player"
)

// Token is immutable once registered.
type Token struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Symbol    string     `json:"symbol"`
	IsBase    bool       `json:"is_base"`
	CreatedBy Provenance `json:"created_by"`
}

// TokenIDFromSymbol derives the canonical token id.
func TokenIDFromSymbol(symbol string) string {
	return strings.ToLower(strings.TrimSpace(symbol))
}

// TokenRegistry holds every token known to the simulation, in creation order.
// Not thread-safe; owned by the engine.
type TokenRegistry struct {
	tokens map[string]*Token
	order  []string
	seeds  mapset.Set[string]
}

func NewTokenRegistry() *TokenRegistry {
	return &TokenRegistry{
		tokens: make(map[string]*Token),
		seeds:  mapset.NewThreadUnsafeSet[string](),
	}
}

// Register adds a token. seed marks tokens supplied by the startup configuration.
func (tr *TokenRegistry) Register(tok Token, seed bool) error {
	if tok.ID == "" {
		tok.ID = TokenIDFromSymbol(tok.Symbol)
	}
	if tok.ID == "" || strings.TrimSpace(tok.Symbol) == "" {
		return fmt.Errorf("%w: symbol is required", ErrInvalidToken)
	}
	if strings.Contains(tok.ID, poolIDSeparator) {
		return fmt.Errorf("%w: symbol %q may not contain %q", ErrInvalidToken, tok.Symbol, poolIDSeparator)
	}
	if _, exists := tr.tokens[tok.ID]; exists {
		return fmt.Errorf("%w: %s", ErrTokenExists, tok.ID)
	}

	t := tok
	tr.tokens[t.ID] = &t
	tr.order = append(tr.order, t.ID)
	if seed {
		tr.seeds.Add(t.ID)
	}
	return nil
}

// Get returns a copy of the token.
func (tr *TokenRegistry) Get(id string) (Token, bool) {
	t, ok := tr.tokens[id]
	if !ok {
		return Token{}, false
	}
	return *t, true
}

// All returns every token in creation order.
func (tr *TokenRegistry) All() []Token {
	out := make([]Token, 0, len(tr.order))
	for _, id := range tr.order {
		out = append(out, *tr.tokens[id])
	}
	return out
}

// BaseToken returns the numéraire token.
func (tr *TokenRegistry) BaseToken() (Token, bool) {
	for _, id := range tr.order {
		if tr.tokens[id].IsBase {
			return *tr.tokens[id], true
		}
	}
	return Token{}, false
}

func (tr *TokenRegistry) IsSeed(id string) bool {
	return tr.seeds.Contains(id)
}

// SeedIDs returns the seed token ids in creation order.
func (tr *TokenRegistry) SeedIDs() []string {
	out := make([]string, 0, tr.seeds.Cardinality())
	for _, id := range tr.order {
		if tr.seeds.Contains(id) {
			out = append(out, id)
		}
	}
	return out
}

// NonSeed returns tokens created after startup, oldest first.
func (tr *TokenRegistry) NonSeed() []Token {
	var out []Token
	for _, id := range tr.order {
		if !tr.seeds.Contains(id) {
			out = append(out, *tr.tokens[id])
		}
	}
	return out
}

func (tr *TokenRegistry) Len() int {
	return len(tr.order)
}

// Restore replaces the registry contents.
func (tr *TokenRegistry) Restore(tokens []Token, seedIDs []string) {
	tr.tokens = make(map[string]*Token, len(tokens))
	tr.order = tr.order[:0]
	tr.seeds = mapset.NewThreadUnsafeSet[string](seedIDs...)
	for _, tok := range tokens {
		t := tok
		tr.tokens[t.ID] = &t
		tr.order = append(tr.order, t.ID)
	}
}
