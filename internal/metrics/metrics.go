package metrics

type Counter interface {
	Inc()
}

type Metrics struct {
	SyncsRun         Counter
	SyncsFailed      Counter
	NoNewOrders      Counter
	MalformedOrders  Counter
	TradesCreated    Counter
	PersistConflicts Counter
}

type noopCounter struct{}

func (noopCounter) Inc() {}

func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		SyncsRun:         n,
		SyncsFailed:      n,
		NoNewOrders:      n,
		MalformedOrders:  n,
		TradesCreated:    n,
		PersistConflicts: n,
	}
}
