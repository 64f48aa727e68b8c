// Package router is a radix tree HTTP router for typed handlers.
//
// Handlers receive a request context and return a handler.Response.
// Errors returned while rendering, unknown paths and unsupported methods go
// through one ErrorHandler. Path parameters are matched on the escaped path
// and decoded before they reach Param, so /ws/a%2Fb yields "a/b" for
// /ws/{channel}. Static segments win over parameters.
//
//	r := router.New[*router.Context](
//		router.WithErrorHandler(response.ErrorHandler[*router.Context]),
//	)
//	r.Get("/ws/list", listChannels)
//	r.Get("/ws/{channel}", joinChannel)
//
// The response writer handed to handlers supports http.Hijacker, so
// websocket upgrades work from inside a handler.Response.
package router
