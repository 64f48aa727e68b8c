// Package response provides handler.Response constructors for plain text,
// JSON and wrapped net/http handlers, plus the error handlers used by the
// router.
//
//	r.Get("/list", func(ctx *router.Context) handler.Response {
//		return response.JSON(registry.ListChannels())
//	})
package response
