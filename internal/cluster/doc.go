// Package cluster ties the leader and its worker processes together.
//
// The leader runs a Supervisor that spawns workers, tracks their links and
// fans calls out to all of them. Each worker dials the leader, registers,
// and talks to it through a LeaderClient. The leader reaches workers through
// a WorkerClient built on the supervisor's fan-out.
//
// Workers are not respawned when they exit. A dead worker is logged with its
// exit code or signal and removed from the live list.
package cluster
