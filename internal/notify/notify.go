// Package notify tracks the "login cancelled" notifications raised by the
// configuration store and renders them for the terminal.
package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bolasblack/tfvc/internal/config"
	"github.com/bolasblack/tfvc/internal/logging"
)

// RetryFunc logs in to serverURI again, prompting even after a cancel.
type RetryFunc func(ctx context.Context, serverURI string) error

// Center owns notifications. The configuration store only holds them as
// opaque handles.
type Center struct {
	mu     sync.Mutex
	active []*Notification
	retry  RetryFunc
	now    func() time.Time
	log    *zap.Logger
}

var _ config.Notifier = (*Center)(nil)

// NewCenter returns an empty notification center.
func NewCenter(log *zap.Logger) *Center {
	return &Center{now: time.Now, log: logging.OrNop(log)}
}

// SetRetry installs the retry action.
func (c *Center) SetRetry(fn RetryFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retry = fn
}

// AuthCanceled implements config.Notifier.
func (c *Center) AuthCanceled(serverURI string, uiContext any) config.Notification {
	n := &Notification{
		center:    c,
		ServerURI: serverURI,
		UIContext: uiContext,
		Created:   c.now(),
	}
	c.mu.Lock()
	c.active = append(c.active, n)
	c.mu.Unlock()
	c.log.Info("login cancelled", zap.String("server", serverURI))
	return n
}

// Active returns the unexpired notifications, oldest first.
func (c *Center) Active() []*Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Notification(nil), c.active...)
}

// Find returns the active notification for serverURI, or nil.
func (c *Center) Find(serverURI string) *Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, n := range c.active {
		if n.ServerURI == serverURI {
			return n
		}
	}
	return nil
}

func (c *Center) remove(n *Notification) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, a := range c.active {
		if a == n {
			c.active = append(c.active[:i], c.active[i+1:]...)
			return true
		}
	}
	return false
}

// Notification is one "login cancelled" entry.
type Notification struct {
	center    *Center
	ServerURI string
	UIContext any
	Created   time.Time
}

// Expire removes the notification. Expiring twice is harmless.
func (n *Notification) Expire() {
	if n.center.remove(n) {
		n.center.log.Debug("notification expired", zap.String("server", n.ServerURI))
	}
}

// Retry runs the retry action and expires the notification on success.
func (n *Notification) Retry(ctx context.Context) error {
	n.center.mu.Lock()
	retry := n.center.retry
	n.center.mu.Unlock()
	if retry == nil {
		return nil
	}
	if err := retry(ctx, n.ServerURI); err != nil {
		return err
	}
	n.Expire()
	return nil
}
