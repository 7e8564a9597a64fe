// Package ipcserver carries the process channel between the leader and its
// workers over a Unix domain socket.
//
// The leader runs a Server: every accepted connection becomes an rpc.Peer
// serving the leader's methods. Workers call Dial to get their end of the
// link. Shutdown stops accepting, waits for the links to drain and then
// closes whatever is left.
package ipcserver
