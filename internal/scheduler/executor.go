package scheduler

// Executor performs the work of launched tasks.
//
// Launch must return promptly and invoke onComplete exactly once, eventually,
// from any goroutine (it may also be called before Launch returns). Reject is
// called once, instead of any launch, when a run fails its pre-flight checks.
type Executor interface {
	Launch(taskID string, demand Resources, onComplete func())
	Reject()
}

// ExecutorFactory builds the executor for one run. Accepted runs get an
// executor sized to the run's total capacity; rejected runs get one built with
// zero capacity that only receives Reject.
type ExecutorFactory interface {
	New(capacity Resources) Executor
}

// ExecutorFactoryFunc adapts a function to ExecutorFactory.
type ExecutorFactoryFunc func(capacity Resources) Executor

// New calls f(capacity).
func (f ExecutorFactoryFunc) New(capacity Resources) Executor {
	return f(capacity)
}
