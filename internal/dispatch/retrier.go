package dispatch

import "time"

// Retrier doles out exponentially growing delays until its attempt
// budget runs dry. It is persisted between wakeups so a receiver actor
// resumes its backoff where it left off.
type Retrier struct {
	Remaining int           `json:"remaining"`
	Delay     time.Duration `json:"delay"`
}

// NewRetrier creates a retrier with a full budget.
// Params: retry budget and first delay.
// Returns: retrier ready to consume.
func NewRetrier(maxRetries int, initialDelay time.Duration) *Retrier {
	return &Retrier{Remaining: maxRetries, Delay: initialDelay}
}

// Next consumes one attempt.
// Params: none.
// Returns: the delay before the next attempt, or false once exhausted.
func (r *Retrier) Next() (time.Duration, bool) {
	r.Remaining--
	if r.Remaining < 0 {
		return 0, false
	}
	delay := r.Delay
	r.Delay *= 2
	return delay, true
}
