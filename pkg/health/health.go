// Package health tracks the health of the components CampaignMaster
// depends on: the snapshot store and the backend API.
package health

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/campaignmaster/campaignmaster/internal/circuit"
	"github.com/campaignmaster/campaignmaster/pkg/errors"
)

// Component names fed by the recorder methods.
const (
	ComponentStore   = "store"
	ComponentBackend = "backend"
)

// State represents the health state of a component
type State int

const (
	// StateHealthy indicates the component is fully operational
	StateHealthy State = iota

	// StateDegraded indicates the component fails intermittently
	StateDegraded

	// StateReadOnly indicates reads work but writes fail
	StateReadOnly

	// StateUnavailable indicates the component is not operational
	StateUnavailable
)

// String returns the string representation of a health state
func (s State) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateReadOnly:
		return "read-only"
	case StateUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON output.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ComponentHealth tracks the health of a specific component
type ComponentHealth struct {
	Name              string    `json:"name"`
	State             State     `json:"state"`
	LastStateChange   time.Time `json:"last_state_change"`
	LastCheck         time.Time `json:"last_check"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
	LastErrorMessage  string    `json:"last_error_message,omitempty"`
}

// Config configures health tracking behavior
type Config struct {
	// ErrorThreshold is the number of consecutive errors before marking a component degraded
	ErrorThreshold int `yaml:"error_threshold" json:"error_threshold"`

	// UnavailableThreshold is the number of consecutive errors before marking unavailable
	UnavailableThreshold int `yaml:"unavailable_threshold" json:"unavailable_threshold"`
}

// DefaultConfig returns a default tracker configuration
func DefaultConfig() Config {
	return Config{
		ErrorThreshold:       3,
		UnavailableThreshold: 10,
	}
}

// StateChangeCallback is called after a component changes state
type StateChangeCallback func(component string, oldState, newState State, err error)

type stateChange struct {
	component          string
	oldState, newState State
	err                error
}

// Tracker tracks component health and derives the overall state from the
// worst component.
type Tracker struct {
	mu         sync.RWMutex
	components map[string]*ComponentHealth
	config     Config
	callbacks  []StateChangeCallback
	now        func() time.Time
}

// NewTracker creates a new health tracker
func NewTracker(config Config) *Tracker {
	def := DefaultConfig()
	if config.ErrorThreshold <= 0 {
		config.ErrorThreshold = def.ErrorThreshold
	}
	if config.UnavailableThreshold < config.ErrorThreshold {
		config.UnavailableThreshold = config.ErrorThreshold
	}
	return &Tracker{
		components: make(map[string]*ComponentHealth),
		config:     config,
		now:        time.Now,
	}
}

// OnStateChange registers a callback run after every state change.
func (t *Tracker) OnStateChange(cb StateChangeCallback) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callbacks = append(t.callbacks, cb)
}

// RegisterComponent registers a component as healthy. Registering twice is a no-op.
func (t *Tracker) RegisterComponent(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.register(name)
}

func (t *Tracker) register(name string) *ComponentHealth {
	if h, ok := t.components[name]; ok {
		return h
	}
	now := t.now()
	h := &ComponentHealth{
		Name:            name,
		State:           StateHealthy,
		LastStateChange: now,
		LastCheck:       now,
	}
	t.components[name] = h
	return h
}

// RecordSuccess records a successful operation. One success clears the
// error count and restores a non-healthy component.
func (t *Tracker) RecordSuccess(component string) {
	t.mu.Lock()
	h := t.register(component)
	h.LastCheck = t.now()
	change := t.transition(h, StateHealthy, nil)
	t.mu.Unlock()

	t.notify(change)
}

// RecordError records a failed operation for a component
func (t *Tracker) RecordError(component string, err error) {
	t.mu.Lock()
	h := t.register(component)
	h.LastCheck = t.now()
	h.ConsecutiveErrors++
	if err != nil {
		h.LastErrorMessage = err.Error()
	}

	newState := h.State
	switch {
	case h.ConsecutiveErrors >= t.config.UnavailableThreshold:
		newState = StateUnavailable
	case h.ConsecutiveErrors >= t.config.ErrorThreshold:
		if isWriteError(err) {
			newState = StateReadOnly
		} else {
			newState = StateDegraded
		}
	}
	change := t.transition(h, newState, err)
	t.mu.Unlock()

	t.notify(change)
}

// SetState forces a component into state, as when a circuit breaker opens.
func (t *Tracker) SetState(component string, state State, err error) {
	t.mu.Lock()
	h := t.register(component)
	h.LastCheck = t.now()
	if err != nil {
		h.LastErrorMessage = err.Error()
	}
	change := t.transition(h, state, err)
	t.mu.Unlock()

	t.notify(change)
}

// transition must be called with the lock held.
func (t *Tracker) transition(h *ComponentHealth, newState State, err error) *stateChange {
	if newState == StateHealthy {
		h.ConsecutiveErrors = 0
		h.LastErrorMessage = ""
	}
	if h.State == newState {
		return nil
	}
	change := &stateChange{component: h.Name, oldState: h.State, newState: newState, err: err}
	h.State = newState
	h.LastStateChange = t.now()
	return change
}

func (t *Tracker) notify(change *stateChange) {
	if change == nil {
		return
	}
	t.mu.RLock()
	callbacks := append([]StateChangeCallback(nil), t.callbacks...)
	t.mu.RUnlock()

	for _, cb := range callbacks {
		cb(change.component, change.oldState, change.newState, change.err)
	}
}

// GetState returns the state of a component; unknown components are unavailable.
func (t *Tracker) GetState(component string) State {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if h, ok := t.components[component]; ok {
		return h.State
	}
	return StateUnavailable
}

// GetComponentHealth returns a copy of the health of one component
func (t *Tracker) GetComponentHealth(component string) (ComponentHealth, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	h, ok := t.components[component]
	if !ok {
		return ComponentHealth{}, fmt.Errorf("component %s not registered", component)
	}
	return *h, nil
}

// GetAllComponents returns copies of every component, sorted by name
func (t *Tracker) GetAllComponents() []ComponentHealth {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make([]ComponentHealth, 0, len(t.components))
	for _, h := range t.components {
		result = append(result, *h)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// GetOverallHealth returns the worst component state, or healthy when no
// component is registered.
func (t *Tracker) GetOverallHealth() State {
	t.mu.RLock()
	defer t.mu.RUnlock()

	overall := StateHealthy
	for _, h := range t.components {
		if h.State > overall {
			overall = h.State
		}
	}
	return overall
}

// RecordStoreOperation feeds snapshot store outcomes into ComponentStore.
// Failed saves and removes push the store towards read-only.
func (t *Tracker) RecordStoreOperation(op string, success bool, _ time.Duration) {
	if success {
		t.RecordSuccess(ComponentStore)
		return
	}

	code := errors.ErrCodeSnapshotRead
	switch op {
	case "save":
		code = errors.ErrCodeSnapshotWrite
	case "remove":
		code = errors.ErrCodeSnapshotDelete
	}
	t.RecordError(ComponentStore, errors.NewError(code, "snapshot "+op+" failed").
		WithComponent(ComponentStore).
		WithOperation(op))
}

// RecordRequest feeds backend responses into ComponentBackend. Cache hits
// are ignored; transport failures and 5xx responses count as errors.
func (t *Tracker) RecordRequest(method string, status int, source string, _ time.Duration) {
	if source == "cache" {
		return
	}
	if status == 0 || status >= 500 {
		msg := "no response"
		if status != 0 {
			msg = fmt.Sprintf("status %d", status)
		}
		t.RecordError(ComponentBackend, errors.NewError(errors.ErrCodeServiceUnavailable, msg).
			WithComponent(ComponentBackend).
			WithOperation(method).
			WithHTTPStatus(status))
		return
	}
	t.RecordSuccess(ComponentBackend)
}

// RecordCircuitState marks the backend unavailable while its breaker is
// open and healthy once it closes.
func (t *Tracker) RecordCircuitState(name string, state int) {
	switch circuit.State(state) {
	case circuit.StateOpen:
		t.SetState(ComponentBackend, StateUnavailable,
			errors.NewError(errors.ErrCodeCircuitOpen, "circuit breaker "+name+" is open").
				WithComponent(ComponentBackend))
	case circuit.StateClosed:
		t.SetState(ComponentBackend, StateHealthy, nil)
	}
}

// isWriteError reports errors that leave reads working.
func isWriteError(err error) bool {
	return errors.HasCode(err, errors.ErrCodeSnapshotWrite) ||
		errors.HasCode(err, errors.ErrCodeSnapshotDelete)
}
