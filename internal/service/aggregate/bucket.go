package aggregate

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidResolution = errors.New("aggregate: resolution must be positive")
	ErrOutOfOrder        = errors.New("aggregate: bar precedes last aggregated bucket")
	ErrUnknownMethod     = errors.New("aggregate: unknown single value method")
)

// BucketStart returns floor(ts/res)*res. Negative timestamps floor toward
// minus infinity so buckets stay res wide on both sides of the epoch.
func BucketStart(ts, res int64) (int64, error) {
	if res <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidResolution, res)
	}
	b := ts / res * res
	if ts < 0 && ts%res != 0 {
		b -= res
	}
	return b, nil
}
