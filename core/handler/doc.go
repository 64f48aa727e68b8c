// Package handler defines the typed handler contract shared by the router
// and the response helpers.
//
// A handler receives a request context and returns a Response, a function
// that renders the reply. Rendering errors flow to the router's
// ErrorHandler instead of being written by each handler:
//
//	func listChannels(ctx *router.Context) handler.Response {
//		return response.JSON(registry.ListChannels())
//	}
package handler
