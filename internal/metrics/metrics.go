// Package metrics provides worker-level counters using stdlib expvar.
// Counters are exported on the /debug/vars HTTP endpoint when the
// expvar handler is mounted by the API server.
package metrics

import "expvar"

// Worker counters.
var (
	ModelLoadsTotal      = expvar.NewInt("clipembed_model_loads_total")
	ModelLoadFailures    = expvar.NewInt("clipembed_model_load_failures_total")
	RequestsTotal        = expvar.NewInt("clipembed_requests_total")
	ResponsesTotal       = expvar.NewInt("clipembed_responses_total")
	MalformedTotal       = expvar.NewInt("clipembed_malformed_requests_total")
	InferenceErrorsTotal = expvar.NewInt("clipembed_inference_errors_total")
	EmbeddingsTotal      = expvar.NewInt("clipembed_embeddings_total")
)

// Inc increments the given counter by 1.
func Inc(counter *expvar.Int) { counter.Add(1) }
