package netmon

import (
	nm "github.com/named-data/ndnnet/std/net/netmon"
	"github.com/named-data/ndnnet/std/utils"
	"github.com/prometheus/client_golang/prometheus"
)

// metrics exported by the watch tool.
type metrics struct {
	Interfaces prometheus.Gauge
	Events     *prometheus.CounterVec
	Mtu        *prometheus.GaugeVec
	Running    *prometheus.GaugeVec
	Addresses  *prometheus.GaugeVec
}

func newMetrics() *metrics {
	return &metrics{
		Interfaces: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ndnnet_netmon_interfaces",
			Help: "Number of known network interfaces",
		}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ndnnet_netmon_events_total",
			Help: "Network change events by kind",
		}, []string{"event"}),
		Mtu: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ndnnet_netmon_interface_mtu",
			Help: "Interface MTU [B]",
		}, []string{"interface"}),
		Running: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ndnnet_netmon_interface_running",
			Help: "1 if the interface can transmit and receive",
		}, []string{"interface"}),
		Addresses: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ndnnet_netmon_interface_addresses",
			Help: "Number of addresses assigned to the interface",
		}, []string{"interface"}),
	}
}

func (m *metrics) register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.Interfaces, m.Events, m.Mtu, m.Running, m.Addresses} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// update refreshes the per-interface gauges of ni.
func (m *metrics) update(ni *nm.NetworkInterface) {
	name := ni.Name()
	m.Mtu.WithLabelValues(name).Set(float64(ni.Mtu()))
	m.Running.WithLabelValues(name).Set(utils.If(ni.State() == nm.InterfaceStateRunning, 1.0, 0.0))
	m.Addresses.WithLabelValues(name).Set(float64(len(ni.NetworkAddresses())))
}

// forget drops the per-interface series of a removed interface.
func (m *metrics) forget(ni *nm.NetworkInterface) {
	name := ni.Name()
	m.Mtu.DeleteLabelValues(name)
	m.Running.DeleteLabelValues(name)
	m.Addresses.DeleteLabelValues(name)
}
