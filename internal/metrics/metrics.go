package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/daemonp/visonic2mqtt/internal/log"
)

const namespace = "visonic2mqtt"

var VendorRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "client",
	Name:      "requests_total",
	Help:      "Calls made to the Visonic cloud client.",
}, []string{"op"})

var VendorErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "client",
	Name:      "request_errors_total",
	Help:      "Failed calls to the Visonic cloud client.",
}, []string{"op"})

var Refreshes = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "panel",
	Name:      "refreshes_total",
	Help:      "Status refreshes by outcome.",
}, []string{"entry", "outcome"})

var Connected = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "panel",
	Name:      "connected",
	Help:      "1 while the panel reports itself connected.",
}, []string{"entry"})

var AlarmState = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "alarm",
	Name:      "state",
	Help:      "0 unknown, 1 disarmed, 2 armed home, 3 armed away.",
}, []string{"entry"})

var Commands = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "alarm",
	Name:      "commands_total",
	Help:      "Commands received from Home Assistant by outcome.",
}, []string{"entry", "action", "outcome"})

// Forget drops every series labelled with the given entry.
func Forget(entry string) {
	labels := prometheus.Labels{"entry": entry}
	Refreshes.DeletePartialMatch(labels)
	Connected.DeletePartialMatch(labels)
	AlarmState.DeletePartialMatch(labels)
	Commands.DeletePartialMatch(labels)
}

func BoolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, logger *log.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Serving metrics on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
