package lights

import (
	"log"
	"sync"
)

// MemoryDriver keeps light state in memory and logs every switch. Used for
// dry-run mode (no broker configured) and in tests.
type MemoryDriver struct {
	mu    sync.RWMutex
	state map[string]bool
}

func NewMemoryDriver() *MemoryDriver {
	return &MemoryDriver{state: make(map[string]bool)}
}

func (d *MemoryDriver) TurnOn(light string) error {
	d.mu.Lock()
	d.state[light] = true
	d.mu.Unlock()
	log.Printf("[DRY-RUN] turn on %s", light)
	return nil
}

func (d *MemoryDriver) TurnOff(light string) error {
	d.mu.Lock()
	d.state[light] = false
	d.mu.Unlock()
	log.Printf("[DRY-RUN] turn off %s", light)
	return nil
}

func (d *MemoryDriver) GetStatus(light string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state[light], nil
}
