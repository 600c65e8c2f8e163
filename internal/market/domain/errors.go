package market

import "errors"

var (
	// ErrEmptyBuyerID is returned when a buyer id is empty.
	ErrEmptyBuyerID = errors.New("market: empty buyer id")
	// ErrEmptyBidderID is returned when a bidder id is empty.
	ErrEmptyBidderID = errors.New("market: empty bidder id")
	// ErrNegativePower is returned when a power quantity is negative.
	ErrNegativePower = errors.New("market: negative power")
	// ErrNegativePrice is returned when a price is negative.
	ErrNegativePrice = errors.New("market: negative price")
	// ErrNonPositivePrice is returned when a bid price is not strictly positive.
	ErrNonPositivePrice = errors.New("market: non-positive price")
	// ErrZeroTimeSlot is returned when a time slot is the zero time.
	ErrZeroTimeSlot = errors.New("market: zero time slot")
	// ErrNilBaseline is returned when a nil baseline series is stored.
	ErrNilBaseline = errors.New("market: nil baseline series")
)
