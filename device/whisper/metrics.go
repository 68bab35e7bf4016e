package whisper

// MetricsReporter receives processor events for export. The processor never
// holds a nil reporter; it falls back to a no-op implementation.
type MetricsReporter interface {
	IncCommand(kind string)
	IncRejected(reason string)
	IncInjection(ok bool)
	IncCellRequest(ok bool)
	IncAckMatched()
	SetSnifferArmed(armed bool)
}

type noopMetrics struct{}

func (noopMetrics) IncCommand(string)    {}
func (noopMetrics) IncRejected(string)   {}
func (noopMetrics) IncInjection(bool)    {}
func (noopMetrics) IncCellRequest(bool)  {}
func (noopMetrics) IncAckMatched()       {}
func (noopMetrics) SetSnifferArmed(bool) {}
