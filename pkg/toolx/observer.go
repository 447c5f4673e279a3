package toolx

// Observer receives routing and detection events, typically to update
// metrics.
type Observer interface {
	ActiveToolChanged(tool int)
	RoutingRejected(op string)
	DetectionFinished(result string, seconds float64)
}

// Detection results reported to Observer.DetectionFinished.
const (
	DetectionDetected     = "detected"
	DetectionUndetermined = "undetermined"
	DetectionUnavailable  = "unavailable"
	DetectionFailed       = "failed"
)

type nopObserver struct{}

func (nopObserver) ActiveToolChanged(int) {}
func (nopObserver) RoutingRejected(string) {}
func (nopObserver) DetectionFinished(string, float64) {}
