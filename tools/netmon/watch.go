package netmon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/named-data/ndnnet/std/log"
	nm "github.com/named-data/ndnnet/std/net/netmon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

type WatchTool struct {
	listen  string
	metrics *metrics
	server  *http.Server
}

func (t *WatchTool) String() string {
	return "netmon-watch"
}

func (t *WatchTool) run(_ *cobra.Command, args []string) {
	config, cleanup := loadConfig(t, args)
	defer cleanup()

	listen := config.Metrics.Listen
	if t.listen != "" {
		listen = t.listen
	}

	t.metrics = newMetrics()
	if listen != "" {
		if err := t.serveMetrics(listen); err != nil {
			log.Fatal(t, "Unable to start metrics exporter", "err", err)
		}
		defer t.stopMetrics()
	}

	m := nm.New(config)
	defer m.Close()
	fmt.Printf("network monitor capabilities: %s\n", m.Capabilities())

	m.OnInterfaceAdded.Connect(func(ni *nm.NetworkInterface) {
		t.event("interface-added")
		fmt.Printf("interface added: %s state=%s mtu=%d\n", ni.Name(), ni.State(), ni.Mtu())
		t.watchInterface(ni)
		t.metrics.Interfaces.Inc()
		t.metrics.update(ni)
	})
	m.OnInterfaceRemoved.Connect(func(ni *nm.NetworkInterface) {
		t.event("interface-removed")
		fmt.Printf("interface removed: %s\n", ni.Name())
		t.metrics.Interfaces.Dec()
		t.metrics.forget(ni)
	})
	m.OnEnumerationCompleted.Connect(func(struct{}) {
		t.event("enumeration-completed")
		fmt.Printf("enumeration completed: %d interfaces\n", len(m.ListNetworkInterfaces()))
	})
	m.OnNetworkStateChanged.Connect(func(struct{}) {
		t.event("network-state-changed")
	})

	if err := m.Start(); err != nil {
		log.Fatal(t, "Unable to start network monitor", "err", err)
	}

	sigchan := make(chan os.Signal, 1)
	signal.Notify(sigchan, os.Interrupt, syscall.SIGTERM)
	<-sigchan

	if err := m.Err(); err != nil {
		log.Warn(t, "Network monitor was disabled", "err", err)
	}
}

func (t *WatchTool) watchInterface(ni *nm.NetworkInterface) {
	ni.OnStateChanged.Connect(func(c nm.StateChange) {
		t.event("state-changed")
		fmt.Printf("%s: state %s -> %s\n", ni.Name(), c.Old, c.New)
		t.metrics.update(ni)
	})
	ni.OnMtuChanged.Connect(func(c nm.MtuChange) {
		t.event("mtu-changed")
		fmt.Printf("%s: mtu %d -> %d\n", ni.Name(), c.Old, c.New)
		t.metrics.update(ni)
	})
	ni.OnAddressAdded.Connect(func(a nm.NetworkAddress) {
		t.event("address-added")
		fmt.Printf("%s: address added %s\n", ni.Name(), a)
		t.metrics.update(ni)
	})
	ni.OnAddressRemoved.Connect(func(a nm.NetworkAddress) {
		t.event("address-removed")
		fmt.Printf("%s: address removed %s\n", ni.Name(), a)
		t.metrics.update(ni)
	})
}

func (t *WatchTool) event(kind string) {
	t.metrics.Events.WithLabelValues(kind).Inc()
}

func (t *WatchTool) serveMetrics(listen string) error {
	reg := prometheus.NewRegistry()
	if err := t.metrics.register(reg); err != nil {
		return err
	}

	handler := http.NewServeMux()
	handler.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	t.server = &http.Server{
		Addr:              listen,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := t.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(t, "Metrics exporter failed", "err", err)
		}
	}()
	log.Info(t, "Serving metrics", "addr", listen)
	return nil
}

func (t *WatchTool) stopMetrics() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := t.server.Shutdown(ctx); err != nil {
		log.Warn(t, "Unable to stop metrics exporter", "err", err)
	}
}
