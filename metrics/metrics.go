package metrics

import "time"

// Metric names recorded by the submitter.
const (
	PaymentOutcome   = "payment_outcome"
	SubmitPayment    = "submit_payment"
	ConfirmationWait = "confirmation_wait"
)

type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}

// OrNoop returns r, or a NoopRecorder when r is nil.
func OrNoop(r Recorder) Recorder {
	if r == nil {
		return NoopRecorder{}
	}
	return r
}
