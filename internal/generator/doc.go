// Package generator provides clients for the text-generation collaborator.
//
// Two backends implement Generator: a local Ollama server (/api/generate)
// and the Anthropic Messages API. New wraps the configured backend in a
// Resilient, which retries transient failures (timeouts, 429, 5xx, network
// errors) through a resilience.Executor and trips a circuit breaker when
// the backend keeps failing. Errors from a Resilient always wrap
// ErrUnavailable so callers can degrade without inspecting transport
// details.
//
// StripCodeBlock and ExtractJSONObject are shared by the router and the
// extractors to recover a JSON object from model output.
package generator
