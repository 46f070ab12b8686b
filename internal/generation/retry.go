package generation

import "time"

// RetryPolicy bounds how often the generate+process step is repeated.
type RetryPolicy struct {
	MaxRetries int
	// Delay returns the wait before retry n (0-indexed).
	Delay func(n int) time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		Delay:      ExponentialDelay(5*time.Second, time.Hour),
	}
}

// ExponentialDelay doubles base for every retry, capped at max.
func ExponentialDelay(base, max time.Duration) func(int) time.Duration {
	return func(n int) time.Duration {
		if n < 0 {
			n = 0
		}
		if n > 30 {
			return max
		}
		d := base << n
		if d > max || d <= 0 {
			return max
		}
		return d
	}
}

// Attempts is the total number of tries including the first.
func (p RetryPolicy) Attempts() int {
	return p.MaxRetries + 1
}
