package core_test

import (
	"errors"
	"testing"

	"ammsim/internal/core"

	"github.com/stretchr/testify/assert"
)

type fakeDBChecker struct {
	known map[string]bool
	err   error
	calls int
}

func (f *fakeDBChecker) IsDuplicate(eventType, key string) (bool, error) {
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	return f.known[eventType+"/"+key], nil
}

func TestIdempotency_LRUTier(t *testing.T) {
	ic := core.NewIdempotencyChecker(2, nil)

	dup, _ := ic.IsDuplicate("swap", "a")
	assert.False(t, dup)

	ic.MarkProcessed("swap", "a")
	dup, tier := ic.IsDuplicate("swap", "a")
	assert.True(t, dup)
	assert.Equal(t, "lru", tier)

	// Same key under another intent type is distinct.
	dup, _ = ic.IsDuplicate("add_liquidity", "a")
	assert.False(t, dup)

	ic.MarkProcessed("swap", "b")
	ic.MarkProcessed("swap", "c")
	assert.Equal(t, 2, ic.Size())
	assert.Equal(t, []string{"swap:b", "swap:c"}, ic.Keys())
	assert.Equal(t, int64(1), ic.Duplicates("lru"))
}

func TestIdempotency_PostgresTier(t *testing.T) {
	db := &fakeDBChecker{known: map[string]bool{"swap/old": true}}
	ic := core.NewIdempotencyChecker(10, db)

	dup, tier := ic.IsDuplicate("swap", "old")
	assert.True(t, dup)
	assert.Equal(t, "postgres", tier)

	// Promoted into the LRU; the database is not asked again.
	dup, tier = ic.IsDuplicate("swap", "old")
	assert.True(t, dup)
	assert.Equal(t, "lru", tier)
	assert.Equal(t, 1, db.calls)
}

func TestIdempotency_DBErrorDoesNotBlock(t *testing.T) {
	ic := core.NewIdempotencyChecker(10, &fakeDBChecker{err: errors.New("connection refused")})

	dup, _ := ic.IsDuplicate("swap", "x")
	assert.False(t, dup)
	assert.Equal(t, int64(1), ic.Tier2Errors())
}

func TestStateHasher_Chain(t *testing.T) {
	h1 := core.NewStateHasher()
	h2 := core.NewStateHasher()
	assert.Equal(t, h1.GetPrevHash(), h2.GetPrevHash())

	a := h1.ComputeHash(1, []byte("digest"))
	b := h2.ComputeHash(1, []byte("digest"))
	assert.Equal(t, a, b)
	assert.Equal(t, a, h1.GetPrevHash())

	c := h1.ComputeHash(2, []byte("digest"))
	assert.NotEqual(t, a, c, "chain folds in the previous hash and sequence")

	decoded, err := core.DecodeHash(core.EncodeHash(c))
	assert.NoError(t, err)
	assert.Equal(t, c, decoded)

	_, err = core.DecodeHash("abcd")
	assert.Error(t, err)
}

func TestRejectReason(t *testing.T) {
	assert.Equal(t, "insufficient_balance", core.RejectReason(core.ErrInsufficientBalance))
	assert.Equal(t, "duplicate", core.RejectReason(core.ErrDuplicateIntent))
}
