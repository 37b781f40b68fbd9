package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/qinfinity/qcored/internal/core/ledger"
	"github.com/qinfinity/qcored/internal/core/payment"
	"github.com/qinfinity/qcored/internal/di"
	"github.com/qinfinity/qcored/internal/events"
	"github.com/qinfinity/qcored/internal/observability"
	"github.com/qinfinity/qcored/internal/ports"
	"github.com/qinfinity/qcored/internal/storage/kv"
)

var metricsAddr string

// serveCmd represents the serve command (default action)
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the qcored node",
	Long: `Run the qcored node: the execution ledger, the payment sweeper, the
dependency health poller and the metrics endpoint. The node stops cleanly on
SIGINT or SIGTERM.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runServe(cmd, args)
	}

	serveCmd.Flags().StringVar(&metricsAddr, "metrics", ":9464", "metrics and health listen address")
}

func runServe(cmd *cobra.Command, args []string) error {
	c, cfg, err := buildContainer()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bus := c.MustGet(di.ServiceBus).(*events.Bus)
	defer bus.Close()

	led, err := c.Get(di.ServiceLedger)
	if err != nil {
		return err
	}
	defer led.(*ledger.Ledger).Close()

	engine := c.MustGet(di.ServicePayment).(*payment.Engine)
	engine.Start(ctx)
	defer engine.Stop()

	poller := c.MustGet(di.ServicePoller).(*observability.HealthPoller)
	registerProbes(c, poller)
	poller.Start(ctx)
	defer poller.Stop()

	recorder := c.MustGet(di.ServiceRecorder).(*observability.Recorder)
	recorder.Start(ctx)
	defer recorder.Stop()

	slo := c.MustGet(di.ServiceSLO).(*observability.SLOMonitor)
	slo.Start(ctx)
	defer slo.Stop()

	go sweepLedger(ctx, led.(*ledger.Ledger), cfg.Ledger.SweepInterval)

	server := &http.Server{Addr: metricsAddr, Handler: serveMux(poller)}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	if !quiet {
		fmt.Printf("qcored node %s up, metrics on %s\n", cfg.Node.ID, metricsAddr)
	}
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func serveMux(poller *observability.HealthPoller) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		statuses := poller.Statuses()
		healthy := true
		for _, s := range statuses {
			if !s.Healthy {
				healthy = false
			}
		}
		w.Header().Set("Content-Type", "application/json")
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"healthy":      healthy,
			"dependencies": statuses,
		})
	})
	return mux
}

// registerProbes wires the node's own dependencies into the poller. The kv
// probe does a full write/read round trip under a reserved key.
func registerProbes(c *di.Container, poller *observability.HealthPoller) {
	db := c.MustGet(di.ServiceKV).(kv.DB)
	poller.RegisterProbe("kv", func(ctx context.Context) error {
		key := []byte("!probe/liveness")
		if err := db.Write(ctx, key, []byte("ok")); err != nil {
			return err
		}
		_, err := db.Read(ctx, key)
		return err
	})

	bus := c.MustGet(di.ServiceBus).(ports.EventBus)
	poller.RegisterProbe("event-bus", func(ctx context.Context) error {
		cancel, err := bus.Subscribe("probe.node", func(ports.Envelope) {})
		if err != nil {
			return err
		}
		cancel()
		return nil
	})

	store := c.MustGet(di.ServiceStorage).(ports.ContentStorage)
	poller.RegisterProbe("content-storage", func(ctx context.Context) error {
		_, err := store.Put(ctx, []byte("probe"), "probe", "health")
		return err
	})
}

func sweepLedger(ctx context.Context, led *ledger.Ledger, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			led.Sweep(ctx)
		}
	}
}
