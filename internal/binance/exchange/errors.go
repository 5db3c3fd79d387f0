package exchange

import "fmt"

// APIError is an error response from the exchange. Transient errors
// (rate limits, bans, server-side failures, clock drift) may be retried;
// everything else is a client error and must surface immediately.
type APIError struct {
	Status  int
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("exchange error http %d code %d: %s", e.Status, e.Code, e.Message)
}

func (e *APIError) Transient() bool {
	if e.Status == 418 || e.Status == 429 || e.Status >= 500 {
		return true
	}
	switch e.Code {
	case -1001, -1003, -1021:
		// disconnected, rate limited, timestamp outside recv window
		return true
	}
	return false
}
