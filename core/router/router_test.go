package router_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/fanout/core/handler"
	"github.com/dmitrymomot/fanout/core/response"
	"github.com/dmitrymomot/fanout/core/router"
)

func text(s string) handler.HandlerFunc[*router.Context] {
	return func(*router.Context) handler.Response {
		return response.String(s)
	}
}

func param(key string) handler.HandlerFunc[*router.Context] {
	return func(ctx *router.Context) handler.Response {
		return response.String(key + "=" + ctx.Param(key))
	}
}

func serve(r http.Handler, method, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(method, target, nil))
	return w
}

func TestRouter_Matching(t *testing.T) {
	t.Parallel()

	r := router.New[*router.Context]()
	r.Get("/ws/list", text("list"))
	r.Get("/ws/healthz", text("healthz"))
	r.Get("/ws/{channel}", param("channel"))
	r.Get("/ws/channel/{channel}", param("channel"))
	r.Get("/files/*", text("files"))
	r.Get("/", text("root"))

	tests := []struct {
		name   string
		target string
		want   string
	}{
		{"static_wins_over_param", "/ws/list", "list"},
		{"second_static", "/ws/healthz", "healthz"},
		{"param", "/ws/room1", "channel=room1"},
		{"nested_param", "/ws/channel/room2", "channel=room2"},
		{"bare_channel_segment_is_a_name", "/ws/channel", "channel=channel"},
		{"param_is_decoded", "/ws/Room%20One", "channel=Room One"},
		{"encoded_slash_stays_in_segment", "/ws/a%2Fb", "channel=a/b"},
		{"catch_all", "/files/a/b/c", "files"},
		{"root", "/", "root"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			w := serve(r, http.MethodGet, tt.target)
			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tt.want, w.Body.String())
		})
	}
}

func TestRouter_Errors(t *testing.T) {
	t.Parallel()

	r := router.New[*router.Context](router.WithErrorHandler(response.ErrorHandler[*router.Context]))
	r.Get("/ws/{channel}", param("channel"))
	r.Get("/fail", func(*router.Context) handler.Response {
		return response.Error(response.ErrServiceUnavailable)
	})
	r.Get("/nil", func(*router.Context) handler.Response { return nil })
	r.Get("/panic", func(*router.Context) handler.Response { panic("boom") })

	t.Run("not_found", func(t *testing.T) {
		t.Parallel()

		w := serve(r, http.MethodGet, "/nope/deeper")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("empty_param_does_not_match", func(t *testing.T) {
		t.Parallel()

		w := serve(r, http.MethodGet, "/ws/")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("method_not_allowed_lists_methods", func(t *testing.T) {
		t.Parallel()

		w := serve(r, http.MethodPost, "/ws/room")
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
		assert.Equal(t, http.MethodGet, w.Header().Get("Allow"))
	})

	t.Run("returned_error_keeps_its_status", func(t *testing.T) {
		t.Parallel()

		w := serve(r, http.MethodGet, "/fail")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("nil_response", func(t *testing.T) {
		t.Parallel()

		w := serve(r, http.MethodGet, "/nil")
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})

	t.Run("panic_is_recovered", func(t *testing.T) {
		t.Parallel()

		w := serve(r, http.MethodGet, "/panic")
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestRouter_PanicErrorIsPassedToHandler(t *testing.T) {
	t.Parallel()

	var got error
	r := router.New[*router.Context](router.WithErrorHandler(func(ctx *router.Context, err error) {
		got = err
		ctx.ResponseWriter().WriteHeader(http.StatusTeapot)
	}))
	cause := errors.New("broken")
	r.Get("/", func(*router.Context) handler.Response { panic(cause) })

	w := serve(r, http.MethodGet, "/")
	assert.Equal(t, http.StatusTeapot, w.Code)

	var perr router.PanicError
	require.ErrorAs(t, got, &perr)
	assert.Equal(t, cause, perr.Value())
	assert.NotEmpty(t, perr.Stack())
	assert.ErrorIs(t, got, cause)
}

func TestRouter_Middleware(t *testing.T) {
	t.Parallel()

	tag := func(name string) handler.Middleware[*router.Context] {
		return func(next handler.HandlerFunc[*router.Context]) handler.HandlerFunc[*router.Context] {
			return func(ctx *router.Context) handler.Response {
				prev, _ := ctx.Value(tagKey{}).(string)
				ctx.SetValue(tagKey{}, prev+name)
				return next(ctx)
			}
		}
	}
	show := func(ctx *router.Context) handler.Response {
		return func(w http.ResponseWriter, r *http.Request) error {
			v, _ := r.Context().Value(tagKey{}).(string)
			_, err := w.Write([]byte(v))
			return err
		}
	}

	r := router.New[*router.Context]()
	r.Use(tag("a"))
	r.Get("/plain", show)
	r.With(tag("b")).Get("/with", show)
	r.Group(func(g router.Router[*router.Context]) {
		g.Use(tag("c"))
		g.Get("/group", show)
	})

	assert.Equal(t, "a", serve(r, http.MethodGet, "/plain").Body.String())
	assert.Equal(t, "ab", serve(r, http.MethodGet, "/with").Body.String())
	assert.Equal(t, "ac", serve(r, http.MethodGet, "/group").Body.String())

	assert.Panics(t, func() { r.Use(tag("late")) })
}

type tagKey struct{}

func TestRouter_Routes(t *testing.T) {
	t.Parallel()

	r := router.New[*router.Context]()
	r.Get("/b", text("b"))
	r.Method("/a", text("a"), "get", http.MethodPost)

	assert.Equal(t, []router.Route{
		{Method: http.MethodGet, Pattern: "/a"},
		{Method: http.MethodPost, Pattern: "/a"},
		{Method: http.MethodGet, Pattern: "/b"},
	}, r.Routes())

	assert.Panics(t, func() { r.Get("no-slash", text("x")) })
	assert.Panics(t, func() { r.Method("/x", text("x"), "FETCH") })
	assert.Panics(t, func() { r.Get("/x/{id}/{id}", text("x")) })
}

func TestRouter_CustomContextNeedsFactory(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() { router.New[customContext]() })
}

type customContext struct{ *router.Context }

func TestRouter_WebSocketUpgrade(t *testing.T) {
	t.Parallel()

	upgrader := websocket.Upgrader{}
	r := router.New[*router.Context]()
	r.Get("/ws/{channel}", func(ctx *router.Context) handler.Response {
		return func(w http.ResponseWriter, req *http.Request) error {
			ws, err := upgrader.Upgrade(w, req, nil)
			if err != nil {
				return nil
			}
			defer ws.Close()
			return ws.WriteMessage(websocket.TextMessage, []byte(ctx.Param("channel")))
		}
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/room", nil)
	require.NoError(t, err)
	defer ws.Close()

	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "room", string(data))
}
