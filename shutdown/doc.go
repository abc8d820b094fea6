// Package shutdown stops the server in dependency order.
//
// On SIGTERM or SIGINT the Coordinator runs its handlers phase by phase:
//
//	coord := shutdown.NewCoordinator(shutdown.DefaultConfig(), logger)
//	coord.HandleSignals()
//
//	coord.RegisterFunc("http", shutdown.PhaseHTTP, srv.Shutdown)
//	coord.RegisterWithPhase("bus", shutdown.Closer(b), shutdown.PhaseBus)
//	coord.RegisterWithPhase("tasks", shutdown.Closer(store), shutdown.PhaseStores)
//
//	<-coord.Done()
//
// The HTTP phase goes first so no request can reach a closed store. A
// task claimed by a request that was cut off stays claimed; the consumer
// requeues or completes it with its lock token after restart.
package shutdown
