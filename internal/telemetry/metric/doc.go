// Package metric provides Prometheus metrics for relaymesh.
//
// A Registry owns a private prometheus registry and implements the observer
// interfaces of the rpc, broker and notify packages, so components report
// into it without importing prometheus:
//
//   - rpc calls and handled requests by method and outcome
//   - transport messages published, received and dropped
//   - notifications delivered, batch sizes and socket send failures
//
// Gauges sampled at scrape time (live sockets and sessions, rate limiter
// entries, lock waiters) are added with GaugeFunc or a StatsCollector.
package metric
