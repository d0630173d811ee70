package common

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrNotAdmin      = errors.New("pause: caller is not the administrator")
	ErrNotPaused     = errors.New("pause: module must be paused first")
	ErrDisasterArmed = errors.New("pause: disaster state armed, unpause forbidden")
)

// DisasterView exposes the permanent circuit-breaker flag to withdrawal
// paths.
type DisasterView interface {
	InDisaster() bool
}

// ControllerStore persists the pause set and the disaster flag so they
// survive process restarts.
type ControllerStore interface {
	ParamStoreGet(name string) ([]byte, bool, error)
	ParamStorePut(name string, value []byte) error
}

const (
	disasterParamKey  = "pause/disaster"
	pausedParamPrefix = "pause/module/"
)

// Controller is the administrator-gated pause switchboard. It implements
// PauseView for module guards and DisasterView for the disaster-recovery
// withdrawal path. The disaster flag is one-shot: once armed it is persisted
// and can never be cleared, and Unpause is rejected forever after.
type Controller struct {
	store ControllerStore
	admin [20]byte

	mu       sync.RWMutex
	paused   map[string]bool
	disaster bool
}

// NewController loads any persisted pause/disaster state and returns a
// controller gated to the supplied administrator address.
func NewController(store ControllerStore, admin [20]byte) (*Controller, error) {
	if store == nil {
		return nil, fmt.Errorf("pause: store not configured")
	}
	if admin == ([20]byte{}) {
		return nil, fmt.Errorf("pause: administrator address required")
	}
	c := &Controller{store: store, admin: admin, paused: make(map[string]bool)}
	raw, ok, err := store.ParamStoreGet(disasterParamKey)
	if err != nil {
		return nil, err
	}
	if ok && len(raw) == 1 && raw[0] == 1 {
		c.disaster = true
	}
	return c, nil
}

// IsPaused implements PauseView.
func (c *Controller) IsPaused(module string) bool {
	if c == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.paused[module] {
		return true
	}
	// Pause state set in a previous process lifetime.
	raw, ok, err := c.store.ParamStoreGet(pausedParamPrefix + module)
	if err != nil || !ok {
		return false
	}
	return len(raw) == 1 && raw[0] == 1
}

// InDisaster implements DisasterView.
func (c *Controller) InDisaster() bool {
	if c == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.disaster
}

// Pause halts the named module. Administrator only; idempotent.
func (c *Controller) Pause(caller [20]byte, module string) error {
	if err := c.requireAdmin(caller); err != nil {
		return err
	}
	if module == "" {
		return fmt.Errorf("pause: module name required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.ParamStorePut(pausedParamPrefix+module, []byte{1}); err != nil {
		return err
	}
	c.paused[module] = true
	return nil
}

// Unpause resumes the named module. Administrator only. Once the disaster
// flag has been armed the call fails unconditionally: the only remaining
// exit path for funds is the disaster withdrawal.
func (c *Controller) Unpause(caller [20]byte, module string) error {
	if err := c.requireAdmin(caller); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disaster {
		return ErrDisasterArmed
	}
	if err := c.store.ParamStorePut(pausedParamPrefix+module, []byte{0}); err != nil {
		return err
	}
	delete(c.paused, module)
	return nil
}

// SetDisasterState arms the permanent circuit breaker. Administrator only,
// and only while the named module is paused. Arming twice is a no-op.
func (c *Controller) SetDisasterState(caller [20]byte, module string) error {
	if err := c.requireAdmin(caller); err != nil {
		return err
	}
	if !c.IsPaused(module) {
		return ErrNotPaused
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disaster {
		return nil
	}
	if err := c.store.ParamStorePut(disasterParamKey, []byte{1}); err != nil {
		return err
	}
	c.disaster = true
	return nil
}

func (c *Controller) requireAdmin(caller [20]byte) error {
	if c == nil || c.store == nil {
		return fmt.Errorf("pause: controller not configured")
	}
	if caller != c.admin {
		return ErrNotAdmin
	}
	return nil
}
