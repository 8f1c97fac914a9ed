package netmon

// noopBackend reports no interfaces and no events.
type noopBackend struct{}

func newNoopBackend(*Config, *Signals, func(error)) (backend, error) {
	return &noopBackend{}, nil
}

func (*noopBackend) String() string {
	return "noop"
}

func (*noopBackend) Capabilities() Capability {
	return CapNone
}

func (*noopBackend) start() error {
	return nil
}

func (*noopBackend) ListNetworkInterfaces() []*NetworkInterface {
	return nil
}

func (*noopBackend) GetNetworkInterface(string) *NetworkInterface {
	return nil
}

func (*noopBackend) Close() error {
	return nil
}
