// Command pgo-admin loads a pool config file, starts every pool it names,
// and serves the observability surface (internal/admin) over them: health,
// per-pool stats, and Prometheus metrics. It has no listen-and-relay role
// of its own — this module's connections originate from Query/Transaction
// calls made by the process embedding it, not from inbound client sockets.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/bryanhughes/pgo"
	"github.com/bryanhughes/pgo/internal/admin"
	"github.com/bryanhughes/pgo/internal/config"
	"github.com/bryanhughes/pgo/internal/health"
	"github.com/bryanhughes/pgo/internal/pgpool"
)

func main() {
	configPath := flag.String("config", "configs/pools.yaml", "path to pool configuration file")
	adminPort := flag.Int("admin-port", 9090, "port for the admin/metrics HTTP server")
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Printf("pgo-admin starting...")

	started, err := pgo.LoadPools(*configPath)
	if err != nil {
		log.Fatalf("loading pool config: %v", err)
	}
	log.Printf("started %d pools from %s", len(started), *configPath)

	hc := health.NewChecker(poolRegistry{}, pgo.Telemetry(), health.Config{})
	hc.Start()

	adminServer := admin.NewServer(poolRegistry{}, hc, pgo.Telemetry())
	if err := adminServer.Start(*adminPort); err != nil {
		log.Fatalf("starting admin server: %v", err)
	}

	configWatcher, err := config.NewWatcher(*configPath, func(newCfg *config.Config) {
		log.Printf("pool config changed on disk; restart pgo-admin to apply (hot pool reconfiguration is not yet supported)")
	})
	if err != nil {
		log.Printf("warning: config hot-reload not available: %v", err)
	}

	log.Printf("pgo-admin ready - admin:%d", *adminPort)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %s, shutting down...", sig)

	if configWatcher != nil {
		configWatcher.Stop()
	}
	adminServer.Stop()
	hc.Stop()
	for name, p := range started {
		log.Printf("draining pool %q", name)
		p.Close()
	}

	log.Printf("pgo-admin stopped")
}

// poolRegistry adapts pgo's package-level pool directory to the Registry
// interface internal/health and internal/admin depend on.
type poolRegistry struct{}

func (poolRegistry) Pools() map[string]*pgpool.Pool { return pgo.Pools() }
