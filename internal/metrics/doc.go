// Package metrics observes storage backends.
//
// Wrap returns an Observed decorator that implements storage.Backend by
// delegating every call to the wrapped tier. Each call is bounded by a
// timeout and timed. The duration and outcome go to Prometheus collectors
// and to a fixed-size ring of CallRecords kept by a Recorder. Calls slower
// than the threshold are counted separately and logged at warn level.
package metrics
