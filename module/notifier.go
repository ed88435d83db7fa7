package module

// Notifier informs a worker routine that new work is available. Notifications are coalesced:
// any number of Notify calls made while the worker is busy result in a single wake-up.
// A Notifier can be passed by value; copies share state.
type Notifier struct {
	notifier chan struct{} // buffered channel with capacity 1
}

func NewNotifier() Notifier {
	return Notifier{make(chan struct{}, 1)}
}

// Notify sends a notification without blocking.
func (n Notifier) Notify() {
	select {
	case n.notifier <- struct{}{}:
	default:
	}
}

// Channel returns a channel for receiving notifications
func (n Notifier) Channel() <-chan struct{} {
	return n.notifier
}
