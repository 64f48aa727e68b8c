package router

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"runtime/debug"
	"slices"
	"strings"

	"github.com/dmitrymomot/fanout/core/handler"
	"github.com/dmitrymomot/fanout/core/logger"
)

type mux[C handler.Context] struct {
	tree         *node[C]
	middlewares  []handler.Middleware[C]
	errorHandler handler.ErrorHandler[C]
	newContext   func(http.ResponseWriter, *http.Request, map[string]string) C
	logger       *slog.Logger

	// inline routers share the parent's tree and add their own middlewares.
	parent *mux[C]
	inline bool

	hasRoutes bool
}

func newMux[C handler.Context](opts ...Option[C]) *mux[C] {
	m := &mux[C]{
		tree:         &node[C]{},
		errorHandler: defaultErrorHandler[C],
		logger:       logger.Discard(),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.newContext == nil {
		var zero C
		if _, ok := any(zero).(*Context); !ok {
			panic(ErrNoContextFactory)
		}
		m.newContext = func(w http.ResponseWriter, r *http.Request, params map[string]string) C {
			return any(newContext(w, r, params)).(C)
		}
	}

	return m
}

func (m *mux[C]) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ww := newResponseWriter(w)

	// Match on the escaped path so an encoded '/' stays inside its segment.
	path := r.URL.EscapedPath()
	if path == "" {
		path = "/"
	}

	method, ok := methodMap[r.Method]
	if !ok {
		m.errorHandler(m.newContext(ww, r, nil), ErrMethodNotAllowed)
		return
	}

	eps, fn, ps := m.tree.findRoute(method, path)
	ctx := m.newContext(ww, r, decodeParams(ps))

	defer func() {
		if p := recover(); p != nil {
			perr := &panicError{value: p, stack: debug.Stack()}
			if ww.Written() {
				m.logger.ErrorContext(r.Context(), "panic after response started",
					logger.Error(perr),
					logger.Method(r.Method),
					logger.Path(r.URL.Path),
					logger.StatusCode(ww.Status()),
					slog.String("stack", string(perr.stack)),
				)
				return
			}
			m.errorHandler(ctx, perr)
		}
	}()

	if fn == nil {
		if allowed := allowedMethods(eps); len(allowed) > 0 {
			ww.Header().Set("Allow", strings.Join(allowed, ", "))
			m.errorHandler(ctx, ErrMethodNotAllowed)
			return
		}
		m.errorHandler(ctx, ErrNotFound)
		return
	}

	if len(m.middlewares) > 0 {
		fn = chain(m.middlewares, fn)
	}

	resp := fn(ctx)
	if resp == nil {
		m.errorHandler(ctx, ErrNilResponse)
		return
	}
	if err := resp(ww, ctx.Request()); err != nil {
		m.errorHandler(ctx, err)
	}
}

func decodeParams(ps params) map[string]string {
	if len(ps.keys) == 0 {
		return nil
	}
	out := make(map[string]string, len(ps.keys))
	for i, key := range ps.keys {
		if i >= len(ps.values) {
			break
		}
		v := ps.values[i]
		if decoded, err := url.PathUnescape(v); err == nil {
			v = decoded
		}
		out[key] = v
	}
	return out
}

func allowedMethods[C handler.Context](eps endpoints[C]) []string {
	var allowed []string
	for mt, ep := range eps {
		if ep != nil && ep.handler != nil {
			allowed = append(allowed, methodName(mt))
		}
	}
	slices.Sort(allowed)
	return allowed
}

func (m *mux[C]) Get(pattern string, h handler.HandlerFunc[C])  { m.handle(mGET, pattern, h) }
func (m *mux[C]) Head(pattern string, h handler.HandlerFunc[C]) { m.handle(mHEAD, pattern, h) }
func (m *mux[C]) Post(pattern string, h handler.HandlerFunc[C]) { m.handle(mPOST, pattern, h) }

func (m *mux[C]) Handle(pattern string, h handler.HandlerFunc[C]) { m.handle(mALL, pattern, h) }

func (m *mux[C]) Method(pattern string, h handler.HandlerFunc[C], methods ...string) {
	if len(methods) == 0 {
		panic(fmt.Errorf("%w: no methods provided", ErrInvalidMethod))
	}

	var mask methodTyp
	for _, method := range methods {
		mt, ok := methodMap[strings.ToUpper(method)]
		if !ok {
			panic(fmt.Errorf("%w: %s", ErrInvalidMethod, method))
		}
		mask |= mt
	}
	m.handle(mask, pattern, h)
}

// Use appends middlewares. All of them must be added before any route.
func (m *mux[C]) Use(middlewares ...handler.Middleware[C]) {
	if m.hasRoutes {
		panic("router: all middlewares must be defined before routes on a mux")
	}
	m.middlewares = append(m.middlewares, middlewares...)
}

// With returns an inline router whose routes also run middlewares.
func (m *mux[C]) With(middlewares ...handler.Middleware[C]) Router[C] {
	return &mux[C]{
		inline:       true,
		parent:       m,
		tree:         m.tree,
		middlewares:  middlewares,
		errorHandler: m.errorHandler,
		newContext:   m.newContext,
		logger:       m.logger,
	}
}

// Group registers the routes added by fn on an inline router.
func (m *mux[C]) Group(fn func(r Router[C])) Router[C] {
	im := m.With()
	if fn != nil {
		fn(im)
	}
	return im
}

func (m *mux[C]) Routes() []Route {
	return m.tree.routes()
}

func (m *mux[C]) handle(method methodTyp, pattern string, fn handler.HandlerFunc[C]) {
	if len(pattern) == 0 || pattern[0] != '/' {
		panic(fmt.Errorf("%w: '%s'", ErrInvalidPattern, pattern))
	}

	root := m
	for root.inline {
		root = root.parent
	}
	root.hasRoutes = true

	if !m.inline {
		m.tree.insertRoute(method, pattern, fn)
		return
	}

	// Inline routers bake their own middlewares into the handler; the root
	// mux adds its middlewares at serve time.
	var mws []handler.Middleware[C]
	for cur := m; cur != nil && cur.inline; cur = cur.parent {
		mws = append(slices.Clone(cur.middlewares), mws...)
	}
	if len(mws) > 0 {
		fn = chain(mws, fn)
	}
	m.tree.insertRoute(method, pattern, fn)
}

// chain wraps endpoint so middlewares[0] runs first.
func chain[C handler.Context](middlewares []handler.Middleware[C], endpoint handler.HandlerFunc[C]) handler.HandlerFunc[C] {
	h := endpoint
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}
