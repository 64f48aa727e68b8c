package router

import (
	"net/http"

	"github.com/dmitrymomot/fanout/core/handler"
)

// Router registers typed handlers on a radix tree and serves them as an
// http.Handler.
type Router[C handler.Context] interface {
	http.Handler

	Get(pattern string, h handler.HandlerFunc[C])
	Head(pattern string, h handler.HandlerFunc[C])
	Post(pattern string, h handler.HandlerFunc[C])

	// Handle registers h for every method.
	Handle(pattern string, h handler.HandlerFunc[C])
	Method(pattern string, h handler.HandlerFunc[C], methods ...string)

	Use(middlewares ...handler.Middleware[C])
	With(middlewares ...handler.Middleware[C]) Router[C]
	Group(fn func(r Router[C])) Router[C]

	Routes() []Route
}

// Route describes one registered method and pattern.
type Route struct {
	Method  string
	Pattern string
}

// New creates a router. Path parameters are written as {name} and match one
// path segment; a trailing * matches the rest of the path.
func New[C handler.Context](opts ...Option[C]) Router[C] {
	return newMux(opts...)
}
