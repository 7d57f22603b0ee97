package server

import "time"

// MetricsCollector is an optional hook for server metrics (Prometheus,
// StatsD, ...). Methods are called synchronously from session goroutines
// and should not block.
type MetricsCollector interface {
	// RecordCommand is called once per dispatched command. success is false
	// when the handler failed or the final reply was a 4xx/5xx.
	RecordCommand(cmd string, success bool, duration time.Duration)

	// RecordTransfer is called after a completed RETR, STOR, APPE, LIST
	// or NLST.
	RecordTransfer(operation string, bytes int64, duration time.Duration)

	// RecordConnection is called for each accepted control connection.
	// reason is "accepted" or the limit that rejected it.
	RecordConnection(accepted bool, reason string)

	// RecordAuthentication is called for each PASS.
	RecordAuthentication(success bool, user string)
}
