package system

import (
	"sync"
	"time"

	"github.com/dzungpv/mitsubishi2MQTT/internal/logger"
)

// Wiper erases persisted settings
type Wiper interface {
	DeleteAll() error
}

// Rebooter holds at most one pending reboot request and fires it from Check.
// Safe for use from HTTP handlers and the runtime loop.
type Rebooter struct {
	mu       sync.Mutex
	pending  bool
	deadline time.Time
	reason   string
	fired    bool

	action func(reason string)
	wiper  Wiper
	now    func() time.Time
	log    *logger.Logger
}

// NewRebooter creates a rebooter that calls action when a request falls due
func NewRebooter(action func(reason string), wiper Wiper, log *logger.Logger) *Rebooter {
	if log == nil {
		log = logger.Nop()
	}
	return &Rebooter{
		action: action,
		wiper:  wiper,
		now:    time.Now,
		log:    log.Named("reboot"),
	}
}

// RequestReboot schedules a reboot after the delay. It returns false when a
// request is already pending; the earlier request stands.
func (r *Rebooter) RequestReboot(after time.Duration, reason string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pending {
		return false
	}
	r.pending = true
	r.deadline = r.now().Add(after)
	r.reason = reason
	r.log.Infow("reboot requested", "reason", reason, "in", after)
	return true
}

// Restart reboots on the next Check, replacing any later pending request
func (r *Rebooter) Restart(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if !r.pending || r.deadline.After(now) {
		r.pending, r.deadline, r.reason = true, now, reason
	}
	r.log.Warnw("restart requested", "reason", reason)
}

// Pending reports whether a reboot is scheduled
func (r *Rebooter) Pending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending
}

// Deadline returns when the pending reboot fires
func (r *Rebooter) Deadline() (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deadline, r.pending
}

// FactoryReset erases all persisted records. The caller schedules the reboot.
func (r *Rebooter) FactoryReset() error {
	if r.wiper == nil {
		return nil
	}
	r.log.Warnw("factory reset, erasing settings")
	return r.wiper.DeleteAll()
}

// Check fires the pending reboot once its deadline has passed. It returns true
// the one time the action runs.
func (r *Rebooter) Check(now time.Time) bool {
	r.mu.Lock()
	if !r.pending || r.fired || now.Before(r.deadline) {
		r.mu.Unlock()
		return false
	}
	r.fired = true
	reason := r.reason
	r.mu.Unlock()

	r.log.Infow("rebooting", "reason", reason)
	if r.action != nil {
		r.action(reason)
	}
	return true
}
