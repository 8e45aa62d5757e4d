// Package server implements the image queue server: one session per client
// connection, each with its own image store, bounded queue and worker pool.
//
// # Sessions
//
// A Session is created for every accepted connection and owns everything the
// connection needs:
//   - an imaging.Store holding the client's images
//   - a queue.Queue of admitted requests
//   - a worker.Pool draining that queue through a Dispatcher
//   - a responder serialising writes back to the client
//
// The goroutine running Serve is the request router. It reads fixed-size
// requests off the connection, handles IMG_REGISTER inline and hands every
// other request to the queue. A request that finds the queue full is rejected
// on the spot and never reaches a worker.
//
// When the client disconnects, or the context is cancelled, the router stops,
// the pool is stopped and joined, any jobs still queued are logged and
// dropped, and the store is released. Nothing outlives the connection.
//
// # Responses
//
// Every request gets exactly one response. Completed IMG_RETRIEVE responses
// are followed by a length-prefixed image payload; the header and payload are
// written as one unit so concurrent workers never interleave on the wire.
// With more than one worker, responses may arrive out of request order.
//
// # Audit Lines
//
// Each processed request produces one audit line through audit.Log, and each
// worker completion is followed by a snapshot of the queue contents.
//
// # Usage
//
//	srv, err := server.New(server.Options{QueueSize: 8, Workers: 2}, auditLog, logger)
//	if err != nil {
//	    return err
//	}
//	if err := srv.ListenAndServe(ctx, ":2222"); err != nil {
//	    return err
//	}
//
// Connections are served one at a time, in accept order.
package server
