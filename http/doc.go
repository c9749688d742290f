// Package http serves the read-only admin API of a stowfs storage.
//
// Routes:
//
//	GET /healthz                       liveness, backed by HandlerConfig.Ready
//	GET /metrics                       Prometheus metrics, when configured
//	GET /v1/stat/{path...}             cache entry, plus children for directories
//	GET /v1/users/{uid}/objectstore    store and bucket resolved for a user
//	PUT /v1/users/{uid}/objectstore    pin a user to a named store
//
// The /v1 routes require "Authorization: Bearer <token>" when
// HandlerConfig.Token is set. Errors are JSON bodies of the form
// {"error": "<code>", "message": "<text>"}, with the status derived from the
// stowfs error sentinels:
//
//	handler := http.NewHandler(&http.HandlerConfig{
//	    Token:   cfg.Server.Token,
//	    Metrics: promhttp.Handler(),
//	}, storage, resolver)
//	srv := &nethttp.Server{Addr: cfg.Server.Addr, Handler: handler.Router()}
//
// Nothing here serves file content; the storage is only reachable through
// the CLI and the library.
package http
