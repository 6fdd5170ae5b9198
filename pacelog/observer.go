package pacelog

// Observer bundles a Logger and Metrics sink that a primitive reports
// through. Every primitive constructor accepts an optional *Observer;
// nil is treated the same as NoopObserver(), so the dependency never
// needs a guard at call sites the way toolops's observer.Shutdown and
// noopLogger make telemetry safe to leave disabled.
type Observer struct {
	Logger  Logger
	Metrics Metrics
}

// NoopObserver returns an Observer that discards everything.
func NoopObserver() *Observer {
	return &Observer{Logger: noopLogger{}, Metrics: NewNoopMetrics()}
}

// orNoop returns o if non-nil (filling any nil field), otherwise a fresh
// NoopObserver. Primitive constructors call this once and store the
// result, so hot paths never need a nil check.
func orNoop(o *Observer) *Observer {
	if o == nil {
		return NoopObserver()
	}
	out := *o
	if out.Logger == nil {
		out.Logger = noopLogger{}
	}
	if out.Metrics == nil {
		out.Metrics = NewNoopMetrics()
	}
	return &out
}

// Resolve is the exported form of orNoop, for use by primitive packages
// outside pacelog.
func Resolve(o *Observer) *Observer { return orNoop(o) }
