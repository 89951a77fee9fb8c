package tumour

import "errors"

var (
	// ErrDegenerateRateSum is returned when cells remain but no event has a
	// positive rate. The run cannot continue.
	ErrDegenerateRateSum = errors.New("degenerate rate sum")

	// ErrNonFiniteDraw is returned when the total rate or a time step is not finite.
	ErrNonFiniteDraw = errors.New("non-finite draw")

	// ErrExtinct is returned by Step when no cells are left.
	ErrExtinct = errors.New("population extinct")
)
