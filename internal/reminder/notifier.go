// Package reminder implements the polling scheduler: due-reminder
// firing, startup overdue reconciliation, repeat spawning, and
// vague-time preference learning.
package reminder

import (
	"time"

	"github.com/rcliao/companion-memory/internal/model"
)

// Notification is the typed outbound message emitted when a reminder
// fires. The host decides how to render it.
type Notification struct {
	Reminder model.Reminder `json:"reminder"`
	FiredAt  time.Time      `json:"fired_at"`
	// CatchUp marks a fire issued by overdue reconciliation rather than
	// a regular tick.
	CatchUp bool `json:"catch_up,omitempty"`
}

// Notifier delivers fired reminders to the host.
type Notifier interface {
	Notify(Notification)
}

// ChannelNotifier buffers notifications on a channel. When the buffer
// is full the notification is dropped rather than blocking the tick.
type ChannelNotifier struct {
	ch chan Notification
}

// NewChannelNotifier creates a notifier with the given buffer depth.
func NewChannelNotifier(buffer int) *ChannelNotifier {
	if buffer <= 0 {
		buffer = 16
	}
	return &ChannelNotifier{ch: make(chan Notification, buffer)}
}

func (n *ChannelNotifier) Notify(msg Notification) {
	select {
	case n.ch <- msg:
	default:
	}
}

// C is the receive side the host consumes.
func (n *ChannelNotifier) C() <-chan Notification {
	return n.ch
}
