// Package server provides an HTTP server with graceful shutdown and
// errgroup-friendly lifecycle management.
//
// # Basic Usage
//
//	srv, err := server.NewFromConfig(cfg, server.WithLogger(log))
//	if err != nil {
//		return err
//	}
//
//	g, ctx := errgroup.WithContext(ctx)
//	g.Go(srv.Run(ctx, handler))
//	return g.Wait()
//
// Run stops the server gracefully when ctx is cancelled, waiting at most the
// shutdown timeout for in-flight requests.
//
// # Server Configuration
//
// Config reads SERVER_ADDR, SERVER_READ_HEADER_TIMEOUT, SERVER_IDLE_TIMEOUT,
// SERVER_SHUTDOWN_TIMEOUT and SERVER_MAX_HEADER_BYTES. Setting both
// SERVER_TLS_CERT_FILE and SERVER_TLS_KEY_FILE serves HTTPS.
//
// There is no overall read or write timeout. Long-lived websocket
// connections manage their own deadlines after the upgrade.
//
// # Thread Safety
//
// All Server methods are safe for concurrent use.
package server
