package core

import (
	"errors"

	"ammsim/internal/auction"
	"ammsim/internal/ledger"
	"ammsim/internal/state"
)

// Rejections. Every handler returns one of these (wrapped) and leaves state
// untouched.
var (
	ErrDuplicateIntent     = errors.New("duplicate intent")
	ErrUnstampedIntent     = errors.New("intent missing request id or timestamp")
	ErrUnknownIntent       = errors.New("unknown intent type")
	ErrInvalidAmount       = errors.New("amount must be a finite positive number")
	ErrInvalidSharePercent = errors.New("share percent must be in (0, 100]")
	ErrEmptyPool           = errors.New("pool has no liquidity")
	ErrSameToken           = errors.New("pool tokens must differ")
	ErrPositionNotFound    = state.ErrPositionNotFound
	ErrPoolNotFound        = state.ErrPoolNotFound
	ErrPoolExists          = state.ErrPoolExists
	ErrTokenNotFound       = state.ErrTokenNotFound
	ErrTokenExists         = state.ErrTokenExists
	ErrTokenNotInPool      = state.ErrTokenNotInPool
	ErrInsufficientBalance = ledger.ErrInsufficientBalance
	ErrNoEligibleToken     = errors.New("no player-created token to auction")
	ErrAuctionActive       = errors.New("an auction is already running")
	ErrAuctionInactive     = auction.ErrAuctionInactive
	ErrNoBaseToken         = errors.New("no base token configured")
	ErrUnknownNPC          = errors.New("npc name is required")
)

// RejectReason maps an error to a short metrics label.
func RejectReason(err error) string {
	switch {
	case errors.Is(err, ErrDuplicateIntent):
		return "duplicate"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrPoolNotFound), errors.Is(err, ErrTokenNotFound), errors.Is(err, ErrPositionNotFound):
		return "not_found"
	case errors.Is(err, ErrNoEligibleToken), errors.Is(err, ErrAuctionActive), errors.Is(err, ErrAuctionInactive):
		return "precondition"
	default:
		return "invalid"
	}
}
