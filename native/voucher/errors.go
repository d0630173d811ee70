package voucher

import "errors"

// Stable error kinds. Callers (keepers in particular) branch on these with
// errors.Is to distinguish "retry later" (ErrWindowViolation) from "never
// retry" (ErrInvalidTransition, ErrUnauthorized).
var (
	ErrInvalidTransition = errors.New("voucher: transition not allowed from current status")
	ErrWindowViolation   = errors.New("voucher: action outside permitted time window")
	ErrUnauthorized      = errors.New("voucher: unauthorized caller")
	ErrNothingToWithdraw = errors.New("voucher: nothing to withdraw")
	ErrSupplyExhausted   = errors.New("voucher: supply exhausted")
	ErrEscrowEmpty       = errors.New("voucher: escrow empty")
	ErrZeroID            = errors.New("voucher: unspecified id")
	ErrUnknownSupply     = errors.New("voucher: supply not found")
	ErrUnknownVoucher    = errors.New("voucher: voucher not found")
	ErrInsufficientFunds = errors.New("voucher: insufficient balance")
	ErrDepositOverLimit  = errors.New("voucher: deposit exceeds allowed limit")
	ErrDisasterInactive  = errors.New("voucher: disaster state not armed")
)
