package matching

import "fmt"

// RedressError is returned by ForceMatch when the forced match cannot be made
// actionable, typically because the payment token has no resolvable identity
type RedressError struct {
	PaymentTransactionID int64
	SchemeTransactionID  int64
	Err                  error
}

func (e *RedressError) Error() string {
	return fmt.Sprintf("force match of payment %d and scheme %d: %v", e.PaymentTransactionID, e.SchemeTransactionID, e.Err)
}

func (e *RedressError) Unwrap() error {
	return e.Err
}
