package ledger

// Notifier receives low-stock events. Implementations must not block; the
// ledger calls it after the transition that produced the event is applied
// and the SKU lock is released.
type Notifier interface {
	NotifyLowStock(event LowStockEvent)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(event LowStockEvent)

func (f NotifierFunc) NotifyLowStock(event LowStockEvent) { f(event) }

// Crossed reports whether a move from before to after crosses threshold
// downwards. Staying at or below the threshold is not a crossing.
func Crossed(before, after, threshold int) bool {
	return before > threshold && threshold >= after
}
