package stripe

import "errors"

var (
	// ErrInvalidTier is returned when checkout names a tier that is not
	// sellable.
	ErrInvalidTier = errors.New("invalid or non-sellable tier")

	// ErrInvalidInterval is returned when checkout names an unknown billing
	// interval.
	ErrInvalidInterval = errors.New("invalid billing interval")

	// ErrMissingEmail is returned when checkout has no email to bill.
	ErrMissingEmail = errors.New("missing email")

	// ErrMissingUserID is returned when checkout carries no user identity.
	ErrMissingUserID = errors.New("missing user id")

	// ErrPriceNotSynced is returned when no live price exists for the
	// requested lookup key. Running a catalog sync fixes it.
	ErrPriceNotSynced = errors.New("no price for lookup key; run catalog sync")
)
