// Package metrics exposes the pipeline's Prometheus metrics over HTTP.
//
// Metrics are registered via promauto by their owning packages:
//
//	igdb_rate_gate_inflight            requests holding a concurrency slot
//	igdb_rate_gate_acquires_total      successful gate acquisitions
//	igdb_rate_gate_wait_seconds        admission wait time
//	igdb_requests_total                API requests by entity and status
//	igdb_request_duration_seconds      API request latency by entity
//	igdb_errors_total                  API errors by class
//	igdb_retries_total                 retried attempts by entity
//	igdb_retry_backoff_seconds         backoff sleep durations
//	igdb_retry_exhausted_total         requests that ran out of attempts
//	pipeline_pages_fetched_total       pages fetched by entity
//	pipeline_records_extracted_total   records yielded by entity
//	pipeline_waves_total               fetch waves launched by entity
//	pipeline_batches_loaded_total      batches handed to the loader
//	pipeline_state_ops_total           state store operations by op
//	pipeline_entity_runs_total         entity runs by entity and result
//	pipeline_entity_run_duration_seconds  entity run duration
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gamelake/igdb-pipeline/pkg/logging"
)

// Handler returns the HTTP handler for the default Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes /metrics on addr in the background and returns the server
// so the caller can shut it down.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	logger := logging.NewLogger("metrics")

	go func() {
		logger.Info().Str("addr", addr).Msg("Metrics endpoint listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("Metrics endpoint failed")
		}
	}()

	return srv
}
