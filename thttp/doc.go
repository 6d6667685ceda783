// Package thttp runs HTTP servers under a context and provides the middleware
// the tile server is built from.
//
// # Server
//
// A Server serves a listener until the context passed to Run is closed, then
// shuts down gracefully: requests in flight get a few seconds to complete,
// WebSocket sessions included. Every request context descends from the Run
// context, so handlers find the logger and other values there.
//
//	listener, err := tnet.Listen(ctx, ":8080")
//	if err != nil {
//	    return err
//	}
//	router := mux.NewRouter()
//	router.HandleFunc("/tiles/{source}/{row}/{col}", serveTile).Methods(http.MethodGet)
//	return thttp.NewServer(listener, thttp.StandardMiddleware(router)).Run(ctx)
//
// # Middleware
//
// StandardMiddleware combines Log, Recover and CORS, in this order, and goes
// outermost. Wrap applies a list of middleware with the first one listed
// seeing requests first:
//
//	handler = thttp.Wrap(router, thttp.StandardMiddleware, thttp.LogBodies)
//
// LogBodies logs textual request and response bodies at Debug level and is
// meant for API routes, not for tiles. RequireBearer guards routes that
// change state.
//
// # Logging
//
// Handlers log through tlog.Get(r.Context()). The logger carries httpServer
// and remoteAddr, and with Log installed also requestID, method, hostname and
// url, so handlers should not repeat them. Log already reports every request
// with its status and duration.
//
// A panicking handler gets a bare 500 response from Recover, and the Server
// then stops with the panic as its error.
package thttp
