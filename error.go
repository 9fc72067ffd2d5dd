package match

import (
	"errors"

	"github.com/0x5487/manifest-engine/structure"
)

var (
	ErrInvalidParam = errors.New("the param is invalid")
	ErrInternal     = errors.New("internal server error")
	ErrTimeout      = errors.New("timeout")
	ErrShutdown     = errors.New("engine is shutting down")

	ErrOutOfSpace           = structure.ErrOutOfSpace
	ErrInvalidIndex         = structure.ErrInvalidIndex
	ErrNotFound             = errors.New("not found")
	ErrAlreadyClaimed       = errors.New("seat already claimed")
	ErrSeatNotFound         = errors.New("seat not found")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrWouldCross           = errors.New("post only order would cross")
	ErrOrderExpired         = errors.New("order already expired")
	ErrGlobalPoolFull       = errors.New("global pool has no free seats")
	ErrGlobalEvict          = errors.New("invalid global eviction")
	ErrInvalidMarketParams  = errors.New("invalid market parameters")
	ErrInvalidCancel        = errors.New("order belongs to another trader")
	ErrInsufficientOut      = errors.New("swap output below minimum")
	ErrWrongIndexHint       = errors.New("index hint does not match")
	ErrPriceNotPositive     = errors.New("price must be positive")
	ErrOrderTooSmall        = errors.New("order too small")
	ErrOverflow             = errors.New("numeric overflow")
	ErrMissingGlobal        = errors.New("global account required but not supplied")
	ErrGlobalInsufficient   = errors.New("global balance insufficient for order")
	ErrInvalidMint          = errors.New("mint does not belong to the market")
	ErrInvalidClean         = errors.New("global order is still backed")
	ErrInvalidPrice         = errors.New("price is out of range")
	ErrInvalidDiscriminant  = errors.New("account discriminant mismatch")
	ErrInvalidAccount       = errors.New("account not found or of the wrong kind")
	ErrUnknownInstruction   = errors.New("unknown instruction")
	ErrAccountAlreadyExists = errors.New("account already exists")
	ErrDuplicateCommand     = errors.New("command already processed")
	ErrEngineStarted        = errors.New("engine already started")
	ErrSnapshotCorrupted    = errors.New("snapshot is corrupted")
)

// errorCodes maps sentinels to the numeric codes reported to callers.
var errorCodes = []struct {
	err  error
	code uint32
}{
	{ErrInvalidMarketParams, 0},
	{ErrInvalidCancel, 3},
	{ErrAlreadyClaimed, 5},
	{ErrWouldCross, 6},
	{ErrOrderExpired, 7},
	{ErrInsufficientOut, 8},
	{ErrWrongIndexHint, 10},
	{ErrPriceNotPositive, 11},
	{ErrOrderTooSmall, 13},
	{ErrOverflow, 14},
	{ErrMissingGlobal, 15},
	{ErrGlobalInsufficient, 16},
	{ErrInvalidAccount, 17},
	{ErrInvalidMint, 18},
	{ErrGlobalPoolFull, 19},
	{ErrGlobalEvict, 20},
	{ErrInvalidClean, 21},
	{ErrInvalidPrice, 100},
	{ErrOutOfSpace, 200},
	{ErrInvalidIndex, 201},
	{ErrNotFound, 202},
	{ErrSeatNotFound, 203},
	{ErrInsufficientBalance, 204},
	{ErrInvalidDiscriminant, 205},
	{ErrInvalidParam, 206},
	{ErrUnknownInstruction, 207},
	{ErrAccountAlreadyExists, 208},
	{ErrDuplicateCommand, 209},
}

// ErrorCode returns the numeric code for err, or false when err is not an engine error.
func ErrorCode(err error) (uint32, bool) {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return e.code, true
		}
	}
	return 0, false
}
