package engine

import (
	"math"
	"time"
)

// Backoff — экспоненциальная задержка между попытками.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay возвращает base * 2^retryCount, но не больше Max.
func (b Backoff) Delay(retryCount int) time.Duration {
	if b.Base <= 0 {
		return 0
	}
	delay := b.Base
	for range retryCount {
		if (b.Max > 0 && delay >= b.Max) || delay > math.MaxInt64/2 {
			break
		}
		delay *= 2
	}
	if b.Max > 0 && delay > b.Max {
		delay = b.Max
	}
	return delay
}
