package router

import (
	"context"
	"net/http"
	"time"
)

// Context is the default request context.
type Context struct {
	w      http.ResponseWriter
	r      *http.Request
	params map[string]string
}

var _ context.Context = (*Context)(nil)

func newContext(w http.ResponseWriter, r *http.Request, params map[string]string) *Context {
	return &Context{w: w, r: r, params: params}
}

func (c *Context) Deadline() (time.Time, bool) { return c.r.Context().Deadline() }
func (c *Context) Done() <-chan struct{}       { return c.r.Context().Done() }
func (c *Context) Err() error                  { return c.r.Context().Err() }
func (c *Context) Value(key any) any           { return c.r.Context().Value(key) }

func (c *Context) Request() *http.Request              { return c.r }
func (c *Context) ResponseWriter() http.ResponseWriter { return c.w }

// Param returns the decoded value of a path parameter, or "" if the route
// has no such parameter.
func (c *Context) Param(key string) string {
	return c.params[key]
}

// SetValue stores a request-scoped value visible through Value and to the
// request passed to the Response.
func (c *Context) SetValue(key, val any) {
	c.r = c.r.WithContext(context.WithValue(c.r.Context(), key, val))
}
