package core

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultIdempotencyCapacity bounds the in-memory dedup window.
const DefaultIdempotencyCapacity = 100_000

// IdempotencyChecker implements two-tier deduplication
type IdempotencyChecker struct {
	// Tier 1: In-memory LRU
	lru *lru.Cache[string, struct{}]

	// Tier 2: Postgres (injected via interface, optional)
	dbChecker DBIdempotencyChecker

	duplicates  map[string]int64 // tier -> count
	tier2Errors int64
}

// DBIdempotencyChecker is the interface for Postgres dedup lookup
type DBIdempotencyChecker interface {
	IsDuplicate(eventType string, idempotencyKey string) (bool, error)
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker) *IdempotencyChecker {
	if capacity <= 0 {
		capacity = DefaultIdempotencyCapacity
	}
	cache, err := lru.New[string, struct{}](capacity)
	if err != nil {
		// Only returned for a non-positive size.
		panic(fmt.Sprintf("FATAL: idempotency lru: %v", err))
	}
	return &IdempotencyChecker{
		lru:        cache,
		dbChecker:  dbChecker,
		duplicates: make(map[string]int64),
	}
}

func compositeKey(eventType, idempotencyKey string) string {
	return eventType + ":" + idempotencyKey
}

// IsDuplicate checks if the intent has been processed. Returns the tier
// that matched ("lru" or "postgres") for duplicates.
func (ic *IdempotencyChecker) IsDuplicate(eventType string, idempotencyKey string) (bool, string) {
	key := compositeKey(eventType, idempotencyKey)

	// Get promotes the key; Contains would not.
	if _, ok := ic.lru.Get(key); ok {
		ic.duplicates["lru"]++
		return true, "lru"
	}

	if ic.dbChecker != nil {
		isDup, err := ic.dbChecker.IsDuplicate(eventType, idempotencyKey)
		if err != nil {
			// Conservative: a DB issue must not block processing.
			ic.tier2Errors++
			return false, ""
		}
		if isDup {
			ic.duplicates["postgres"]++
			ic.lru.Add(key, struct{}{})
			return true, "postgres"
		}
	}

	return false, ""
}

// MarkProcessed adds key to LRU after successful processing
func (ic *IdempotencyChecker) MarkProcessed(eventType string, idempotencyKey string) {
	ic.lru.Add(compositeKey(eventType, idempotencyKey), struct{}{})
}

// Warm loads composite keys (oldest first) into the LRU.
func (ic *IdempotencyChecker) Warm(keys []string) {
	for _, key := range keys {
		ic.lru.Add(key, struct{}{})
	}
}

// Keys returns composite keys from oldest to newest.
func (ic *IdempotencyChecker) Keys() []string {
	return ic.lru.Keys()
}

func (ic *IdempotencyChecker) Size() int {
	return ic.lru.Len()
}

// Duplicates returns the number of duplicates caught by a tier.
func (ic *IdempotencyChecker) Duplicates(tier string) int64 {
	return ic.duplicates[tier]
}

func (ic *IdempotencyChecker) Tier2Errors() int64 {
	return ic.tier2Errors
}
