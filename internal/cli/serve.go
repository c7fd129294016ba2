package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ppiankov/tradeguard/internal/risk"
	"github.com/ppiankov/tradeguard/internal/server"
)

var (
	servePort        int
	serveMetricsAddr string
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVar(&servePort, "port", 50051, "gRPC listen port")
	serveCmd.Flags().StringVar(&serveMetricsAddr, "metrics-addr", ":9464", "Prometheus /metrics listen address (empty disables)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start gRPC risk server",
	Long: "Runs tradeguard as the single owner of the risk state over gRPC.\n" +
		"Trading agents connect as clients to check, commit and roll back trades.\n" +
		"Creating the kill switch file denies every trade until it is removed.",
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	log, err := newLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, err := openGuard(ctx, log, risk.WithMetrics(risk.NewMetrics(reg)))
	if err != nil {
		return fmt.Errorf("failed to start risk manager: %w", err)
	}
	defer func() {
		if err := g.close(context.Background()); err != nil {
			log.Error("shutdown", zap.Error(err))
		}
	}()

	srv := server.New(server.Config{Port: servePort}, g.manager,
		server.WithLogger(log),
		server.WithKillSwitch(g.stop))

	var metricsSrv *http.Server
	if serveMetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		metricsSrv = &http.Server{
			Addr:              serveMetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server stopped", zap.Error(err))
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
			return
		}
		fmt.Fprintln(os.Stderr, "\nShutting down risk server...")
		if metricsSrv != nil {
			shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
			metricsSrv.Shutdown(shutdownCtx)
			stop()
		}
		srv.GracefulStop()
	}()

	fmt.Fprintf(os.Stderr, "tradeguard risk server listening on :%d\n", servePort)
	fmt.Fprintf(os.Stderr, "State: %s\n", g.cfg.StatePath)
	if g.cfg.JournalPath != "" {
		fmt.Fprintf(os.Stderr, "Journal: %s\n", g.cfg.JournalPath)
	}
	if g.cfg.KillSwitchPath != "" {
		fmt.Fprintf(os.Stderr, "Kill switch: %s\n", g.cfg.KillSwitchPath)
	}
	if metricsSrv != nil {
		fmt.Fprintf(os.Stderr, "Metrics: http://%s/metrics\n", serveMetricsAddr)
	}
	fmt.Fprintln(os.Stderr)

	return srv.Serve()
}
