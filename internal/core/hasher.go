package core

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"sort"

	"ammsim/internal/ledger"
	"ammsim/internal/state"
)

const GenesisHashSeed = "ammsim:genesis:v1"

// StateHasher chains state hashes across applied intents
type StateHasher struct {
	prevHash [32]byte
}

// NewStateHasher initializes with genesis hash
func NewStateHasher() *StateHasher {
	return &StateHasher{
		prevHash: sha256.Sum256([]byte(GenesisHashSeed)),
	}
}

// ComputeHash calculates state_hash[N] = SHA-256(prev_hash || sequence || state_digest)
// and advances the chain tip.
func (h *StateHasher) ComputeHash(sequence int64, stateDigest []byte) [32]byte {
	hasher := sha256.New()
	hasher.Write(h.prevHash[:])

	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(sequence))
	hasher.Write(seqBuf[:])

	hasher.Write(stateDigest)

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))
	h.prevHash = hash
	return hash
}

// GetPrevHash returns current chain tip
func (h *StateHasher) GetPrevHash() [32]byte {
	return h.prevHash
}

// SetPrevHash resets the chain tip (snapshot restore)
func (h *StateHasher) SetPrevHash(hash [32]byte) {
	h.prevHash = hash
}

// EncodeHash renders a hash for JSON and logs.
func EncodeHash(hash [32]byte) string {
	return hex.EncodeToString(hash[:])
}

// DecodeHash parses the output of EncodeHash.
func DecodeHash(s string) ([32]byte, error) {
	var hash [32]byte
	raw, err := hex.DecodeString(s)
	if err != nil {
		return hash, fmt.Errorf("decode state hash: %w", err)
	}
	if len(raw) != len(hash) {
		return hash, fmt.Errorf("decode state hash: got %d bytes, want %d", len(raw), len(hash))
	}
	copy(hash[:], raw)
	return hash, nil
}

// digestBuilder accumulates the canonical bytes of the state an intent touched.
type digestBuilder struct {
	buf []byte
}

func (d *digestBuilder) str(s string) {
	d.buf = append(d.buf, byte(len(s)))
	d.buf = append(d.buf, s...)
}

func (d *digestBuilder) f64(v float64) {
	d.buf = binary.LittleEndian.AppendUint64(d.buf, math.Float64bits(v))
}

func (d *digestBuilder) i64(v int64) {
	d.buf = binary.LittleEndian.AppendUint64(d.buf, uint64(v))
}

// accounts appends every account the batch touched, sorted by path.
func (d *digestBuilder) accounts(batch *ledger.Batch, tracker *ledger.BalanceTracker) {
	touched := make(map[ledger.AccountKey]struct{})
	for _, j := range batch.Journals {
		touched[j.DebitAccount] = struct{}{}
		touched[j.CreditAccount] = struct{}{}
	}

	keys := make([]ledger.AccountKey, 0, len(touched))
	for k := range touched {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].AccountPath() < keys[j].AccountPath()
	})

	for _, k := range keys {
		d.str(k.AccountPath())
		d.f64(tracker.GetBalance(k))
	}
}

func (d *digestBuilder) pool(p state.Pool) {
	d.str(p.ID)
	d.f64(p.ReserveA)
	d.f64(p.ReserveB)
	d.f64(p.TotalFeesCollected.A)
	d.f64(p.TotalFeesCollected.B)
}
