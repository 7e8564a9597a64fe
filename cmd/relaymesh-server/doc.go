// Package main provides the entry point for relaymesh-server.
//
// One invocation starts the leader, which hosts the coordination services
// and spawns the worker processes that hold client sockets:
//
//	relaymesh-server --config /etc/relaymesh/config.yaml
//
// Other commands sign tokens and inspect the configuration:
//
//	relaymesh-server token sign --username alice --context c1
//	relaymesh-server config show
package main
