package outbox

import (
	"time"

	"github.com/lib/pq"

	"github.com/opensciencearchive/server/infrastructure/logging"
)

// Listener surfaces outbox append notifications so idle workers can poll
// immediately instead of sleeping out their interval. Losing the
// connection only degrades latency: claims stay poll-driven.
type Listener struct {
	inner *pq.Listener
	log   *logging.Logger
	types chan string
	done  chan struct{}
}

// NewListener opens a LISTEN connection on the outbox channel.
func NewListener(databaseURL string, log *logging.Logger) (*Listener, error) {
	callback := func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.WithComponent("outbox-listener").WithError(err).Warn("listener connection event")
		}
	}
	inner := pq.NewListener(databaseURL, time.Second, time.Minute, callback)
	if err := inner.Listen(NotifyChannel); err != nil {
		inner.Close()
		return nil, err
	}

	l := &Listener{
		inner: inner,
		log:   log,
		types: make(chan string, 64),
		done:  make(chan struct{}),
	}
	go l.pump()
	return l, nil
}

func (l *Listener) pump() {
	for {
		select {
		case <-l.done:
			return
		case n, ok := <-l.inner.Notify:
			if !ok {
				return
			}
			if n == nil {
				// Reconnect marker; workers just keep polling.
				continue
			}
			select {
			case l.types <- n.Extra:
			default:
				// A full buffer means workers are already busy.
			}
		}
	}
}

// Notifications yields the event type names of appended events.
func (l *Listener) Notifications() <-chan string {
	return l.types
}

// Close stops the listener.
func (l *Listener) Close() error {
	close(l.done)
	return l.inner.Close()
}
