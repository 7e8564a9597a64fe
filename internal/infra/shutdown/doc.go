// Package shutdown coordinates graceful process termination.
//
// A Handler collects named hooks while components start, then runs them
// newest first when SIGINT or SIGTERM arrives, when Trigger is called, or
// when the context passed to Wait ends. A worker passes a context that
// ends with its leader link, so losing the leader stops the worker.
//
//	h := shutdown.NewHandler(15*time.Second, logger)
//	h.OnShutdown("http", srv.Shutdown)
//	err := h.Wait(ctx)
package shutdown
