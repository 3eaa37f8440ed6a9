// Package mqfleet is the core of a long-lived-process MQTT 5 client: a
// bounded connection pool with request-scoped affinity, a topic parser
// and config validator, and a robustness spine (retries, circuit
// breakers, health, metrics) wrapping every pool-borrowed operation.
//
// The wire-level protocol codec and the concrete ConnectionFactory that
// drives it (package wireconn) are deliberately out of scope here — this
// package depends only on the Connection/ConnectionFactory interfaces in
// factory.go.
package mqfleet
