// Package prometheus publishes engine metrics through a client_golang
// Collector.
//
// Counters are named sessionauth_*_total and provider latency is the
// sessionauth_provider_latency_seconds histogram. The collector reads a
// snapshot on every scrape; it registers nothing globally.
package prometheus
