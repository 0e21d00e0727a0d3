package audit

import (
	"context"
	"sync"
	"time"

	"workrecord/api/internal/logger"
)

const (
	ActionContributionCreate       = "contribution.create"
	ActionContributionUpdateStatus = "contribution.updateStatus"
	ActionContributionDelete       = "contribution.delete"
	ActionInstructionUpdate        = "instruction.update"
	ActionInstructionFileUpload    = "instruction.file_upload"
	ActionInstructionFileDelete    = "instruction.file_delete"
	ActionAdminLogin               = "admin.login"
	ActionAdminLoginFailed         = "admin.login_failed"
	ActionAdminLogout              = "admin.logout"
)

const deliveryTimeout = 10 * time.Second

// Actor identifies who triggered an event. Every field is optional.
type Actor struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
	IP   string `json:"ip,omitempty"`
}

func (a *Actor) empty() bool {
	return a == nil || (a.ID == "" && a.Name == "" && a.IP == "")
}

type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Action    string         `json:"action"`
	Target    string         `json:"target"`
	Actor     *Actor         `json:"actor,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Sink persists events.
type Sink interface {
	Append(ctx context.Context, event Event) error
}

// Emitter is what domain code depends on.
type Emitter interface {
	Emit(event Event)
}

// Dispatcher delivers events to its sinks on background goroutines. Emit never
// blocks on delivery and delivery errors are only logged.
type Dispatcher struct {
	sinks []Sink
	log   *logger.Logger
	now   func() time.Time

	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

func NewDispatcher(log *logger.Logger, sinks ...Sink) *Dispatcher {
	if log == nil {
		log = logger.Nop()
	}
	return &Dispatcher{sinks: sinks, log: log, now: time.Now}
}

func (d *Dispatcher) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = d.now()
	}
	event.Timestamp = event.Timestamp.UTC()
	if event.Actor.empty() {
		event.Actor = nil
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.log.Warn("audit event dropped after close", "action", event.Action, "target", event.Target)
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
		defer cancel()
		for _, sink := range d.sinks {
			if err := sink.Append(ctx, event); err != nil {
				d.log.Error("audit delivery failed", "action", event.Action, "target", event.Target, "error", err)
			}
		}
	}()
}

// Close stops accepting events and waits for pending deliveries.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.wg.Wait()
}

// Nop discards events.
type Nop struct{}

func (Nop) Emit(Event) {}
