package netmon

import (
	"errors"
	"fmt"
	"sync"

	"github.com/named-data/ndnnet/std/log"
	"github.com/named-data/ndnnet/std/types/signal"
)

// Signals of a Monitor. Handlers run on the monitor's event goroutine and
// must not block.
type Signals struct {
	// Emitted when a new interface appears.
	OnInterfaceAdded signal.Signal[*NetworkInterface]
	// Emitted when an interface disappears.
	OnInterfaceRemoved signal.Signal[*NetworkInterface]
	// Emitted once, when the initial enumeration is complete.
	OnEnumerationCompleted signal.Signal[struct{}]
	// Emitted on every change after enumeration.
	// Consumers should prefer the finer-grained signals.
	OnNetworkStateChanged signal.Signal[struct{}]
}

// backend is a platform implementation of the monitor.
type backend interface {
	fmt.Stringer
	// Capabilities of this backend.
	Capabilities() Capability
	// start begins enumeration and monitoring.
	start() error
	ListNetworkInterfaces() []*NetworkInterface
	GetNetworkInterface(name string) *NetworkInterface
	Close() error
}

// newBackendFunc creates a backend that emits on sig and reports fatal
// runtime errors to onFatal.
type newBackendFunc func(cfg *Config, sig *Signals, onFatal func(error)) (backend, error)

// Monitor enumerates the network interfaces of the host and reports changes.
type Monitor struct {
	Signals

	mutex   sync.Mutex
	impl    backend
	err     error
	started bool
}

// New creates a network monitor. The platform backend is selected by
// cfg.Monitor.Backend; if it cannot be created, the monitor falls back to
// a backend without any capabilities and Err reports the reason.
// Connect to the signals, then call Start.
func New(cfg *Config) *Monitor {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	switch cfg.Monitor.Backend {
	case BackendNoop:
		return newMonitor(cfg, newNoopBackend)
	default:
		return newMonitor(cfg, newPlatformBackend)
	}
}

func newMonitor(cfg *Config, factory newBackendFunc) *Monitor {
	m := &Monitor{}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	impl, err := factory(cfg, &m.Signals, m.downgrade)
	if err != nil {
		if cfg.Monitor.Backend == BackendNetlink {
			log.Error(m, "Unable to create network monitor backend", "err", err)
		} else {
			log.Warn(m, "Network monitoring is not available", "err", err)
		}
		impl, _ = newNoopBackend(cfg, &m.Signals, nil)
		m.err = err
	}
	m.impl = impl
	return m
}

func (m *Monitor) String() string {
	return "network-monitor"
}

// Start begins enumeration. Signals are emitted only after Start.
func (m *Monitor) Start() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.started {
		return errors.New("network monitor already started")
	}
	m.started = true

	if err := m.impl.start(); err != nil {
		m.fallback(err)
		return err
	}
	log.Debug(m, "Started network monitor", "backend", m.impl)
	return nil
}

// downgrade replaces a failed backend with the no-op backend.
func (m *Monitor) downgrade(err error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.fallback(err)
}

// fallback must be called with the mutex held.
func (m *Monitor) fallback(err error) {
	if _, ok := m.impl.(*noopBackend); ok {
		return
	}
	log.Error(m, "Network monitor failed, monitoring is disabled", "backend", m.impl, "err", err)

	old := m.impl
	m.impl, _ = newNoopBackend(nil, &m.Signals, nil)
	m.err = err
	// the old backend may be calling us from its own goroutine
	go old.Close()
}

func (m *Monitor) current() backend {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.impl
}

// Capabilities returns what the current backend can report.
func (m *Monitor) Capabilities() Capability {
	return m.current().Capabilities()
}

// ListNetworkInterfaces returns the known interfaces.
func (m *Monitor) ListNetworkInterfaces() []*NetworkInterface {
	return m.current().ListNetworkInterfaces()
}

// GetNetworkInterface returns the interface with the given name,
// or nil if there is none.
func (m *Monitor) GetNetworkInterface(name string) *NetworkInterface {
	return m.current().GetNetworkInterface(name)
}

// Err returns the error that disabled the platform backend, if any.
func (m *Monitor) Err() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.err
}

// Close stops monitoring and releases the backend.
func (m *Monitor) Close() error {
	return m.current().Close()
}
