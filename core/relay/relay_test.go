package relay_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/fanout/core/bus"
	"github.com/dmitrymomot/fanout/core/relay"
	"github.com/dmitrymomot/fanout/core/wsconn"
)

type instance struct {
	relay *relay.Relay
	srv   *httptest.Server
	runCh chan error
	stop  context.CancelFunc
}

func (i *instance) wsURL(path string) string {
	return "ws" + strings.TrimPrefix(i.srv.URL, "http") + path
}

// startRelay starts a relay over b, serves it with httptest and runs it
// until the test ends.
func startRelay(t *testing.T, b bus.Bus, opts ...relay.Option) *instance {
	t.Helper()

	opts = append([]relay.Option{
		relay.WithBridgeOptions(bus.WithPollInterval(20 * time.Millisecond)),
		relay.WithBridgeStopTimeout(time.Second),
	}, opts...)
	r, err := relay.New(b, opts...)
	require.NoError(t, err)
	require.NoError(t, r.Start(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	inst := &instance{
		relay: r,
		srv:   httptest.NewServer(r.Handler()),
		runCh: make(chan error, 1),
		stop:  cancel,
	}
	go func() { inst.runCh <- r.Run(ctx)() }()

	require.Eventually(t, func() bool {
		return r.Bridge().State() == bus.StateRelaying
	}, time.Second, 5*time.Millisecond)

	t.Cleanup(func() {
		cancel()
		inst.srv.Close()
	})
	return inst
}

func join(t *testing.T, inst *instance, path string) *websocket.Conn {
	t.Helper()

	ws, _, err := websocket.DefaultDialer.Dial(inst.wsURL(path), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

// waitMembers blocks until the channel has n local members.
func waitMembers(t *testing.T, inst *instance, ch string, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(inst.relay.Registry().Snapshot(ch)) == n
	}, 2*time.Second, 5*time.Millisecond)
}

func send(t *testing.T, ws *websocket.Conn, text string) {
	t.Helper()
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(text)))
}

func expect(t *testing.T, ws *websocket.Conn, want string) {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, want, string(data))
}

func expectClose(t *testing.T, ws *websocket.Conn, code int, reason string) {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, _, err := ws.ReadMessage()
		if err == nil {
			continue
		}
		var closeErr *websocket.CloseError
		require.True(t, errors.As(err, &closeErr), "expected close frame, got %v", err)
		assert.Equal(t, code, closeErr.Code)
		assert.Equal(t, reason, closeErr.Text)
		return
	}
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestRelay_LocalDelivery(t *testing.T) {
	t.Parallel()

	t.Run("message_reaches_others_but_not_sender", func(t *testing.T) {
		t.Parallel()

		inst := startRelay(t, bus.NewMemoryBus(0))
		a := join(t, inst, "/ws/room1")
		b := join(t, inst, "/ws/channel/room1")
		waitMembers(t, inst, "room1", 2)

		send(t, a, "hi")
		expect(t, b, "hi")

		// If A had received its own "hi" it would be read before "back".
		send(t, b, "back")
		expect(t, a, "back")
	})

	t.Run("rooms_are_isolated", func(t *testing.T) {
		t.Parallel()

		inst := startRelay(t, bus.NewMemoryBus(0))
		a := join(t, inst, "/ws/room1")
		b := join(t, inst, "/ws/room1")
		c := join(t, inst, "/ws/room2")
		d := join(t, inst, "/ws/room2")
		waitMembers(t, inst, "room1", 2)
		waitMembers(t, inst, "room2", 2)

		send(t, a, "for room1")
		expect(t, b, "for room1")

		send(t, d, "for room2")
		expect(t, c, "for room2")
	})

	t.Run("sender_order_is_preserved", func(t *testing.T) {
		t.Parallel()

		inst := startRelay(t, bus.NewMemoryBus(0))
		a := join(t, inst, "/ws/ordered")
		b := join(t, inst, "/ws/ordered")
		waitMembers(t, inst, "ordered", 2)

		for _, msg := range []string{"1", "2", "3", "4", "5"} {
			send(t, a, msg)
		}
		for _, msg := range []string{"1", "2", "3", "4", "5"} {
			expect(t, b, msg)
		}
	})
}

func TestRelay_SlowMemberDoesNotStallOthers(t *testing.T) {
	t.Parallel()

	const writeTimeout = 3 * time.Second
	inst := startRelay(t, bus.NewMemoryBus(0), relay.WithUpgraderOptions(
		wsconn.WithSendQueueSize(1),
		wsconn.WithWriteTimeout(writeTimeout),
	))
	sender := join(t, inst, "/ws/busy")
	join(t, inst, "/ws/busy") // never reads
	fast := join(t, inst, "/ws/busy")
	waitMembers(t, inst, "busy", 3)

	// Enough data to fill the socket buffers of the member that never
	// reads, so its queue overflows and it is dropped mid-run.
	payload := strings.Repeat("x", 60<<10)
	for i := range 400 {
		msg := fmt.Sprintf("%04d", i) + payload

		start := time.Now()
		send(t, sender, msg)
		_ = fast.SetReadDeadline(time.Now().Add(writeTimeout / 2))
		_, data, err := fast.ReadMessage()
		require.NoError(t, err, "message %d", i)
		require.Equal(t, len(msg), len(data), "message %d", i)
		require.Equal(t, msg[:4], string(data[:4]))
		require.Less(t, time.Since(start), writeTimeout/2, "message %d", i)
	}

	require.Eventually(t, func() bool {
		return len(inst.relay.Registry().Snapshot("busy")) == 2
	}, 3*writeTimeout, 10*time.Millisecond, "slow member must be dropped")
}

func TestRelay_CrossInstance(t *testing.T) {
	t.Parallel()

	shared := bus.NewMemoryBus(0)
	one := startRelay(t, shared)
	two := startRelay(t, shared)

	a := join(t, one, "/ws/room1")
	b := join(t, one, "/ws/room1")
	c := join(t, two, "/ws/room1")
	waitMembers(t, one, "room1", 2)
	waitMembers(t, two, "room1", 1)

	send(t, a, "x")
	expect(t, b, "x")
	expect(t, c, "x")

	// B must see "y" next, not a second copy of "x" echoed back via the bus.
	send(t, c, "y")
	expect(t, b, "y")
	expect(t, a, "y")
}

func TestRelay_Membership(t *testing.T) {
	t.Parallel()

	inst := startRelay(t, bus.NewMemoryBus(0))

	code, body := get(t, inst.srv.URL+"/list")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `[]`, body)

	ws := join(t, inst, "/ws/lobby")
	join(t, inst, "/ws/channel/hall")
	waitMembers(t, inst, "lobby", 1)
	waitMembers(t, inst, "hall", 1)

	for _, path := range []string{"/list", "/ws/list"} {
		code, body = get(t, inst.srv.URL+path)
		require.Equal(t, http.StatusOK, code)

		var names []string
		require.NoError(t, json.Unmarshal([]byte(body), &names))
		assert.Equal(t, []string{"hall", "lobby"}, names)
	}

	// The last member leaving removes the channel.
	require.NoError(t, ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second)))
	require.Eventually(t, func() bool {
		return !slices.Contains(inst.relay.Registry().ListChannels(), "lobby")
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRelay_Routing(t *testing.T) {
	t.Parallel()

	inst := startRelay(t, bus.NewMemoryBus(0))

	resp, err := http.Get(inst.srv.URL + "/ws/list")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, "application/json; charset=utf-8", resp.Header.Get("Content-Type"))

	code, _ := get(t, inst.srv.URL+"/nope/deeper")
	assert.Equal(t, http.StatusNotFound, code)

	resp, err = http.Post(inst.srv.URL+"/ws/list", "text/plain", nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, http.MethodGet, resp.Header.Get("Allow"))
}

func TestRelay_ChannelNameIsVerbatim(t *testing.T) {
	t.Parallel()

	inst := startRelay(t, bus.NewMemoryBus(0))
	join(t, inst, "/ws/Room%20One")
	waitMembers(t, inst, "Room One", 1)
}

func TestRelay_Health(t *testing.T) {
	t.Parallel()

	inst := startRelay(t, bus.NewMemoryBus(0))

	for _, path := range []string{"/healthz", "/ws/healthz"} {
		code, body := get(t, inst.srv.URL+path)
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "ALIVE", body)
	}
	for _, path := range []string{"/readiness", "/ws/readiness"} {
		code, body := get(t, inst.srv.URL+path)
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "READY", body)
	}

	code, body := get(t, inst.srv.URL+"/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "fanout_connections")
	assert.Contains(t, body, "fanout_channels")
}

func TestRelay_Shutdown(t *testing.T) {
	t.Parallel()

	t.Run("clients_receive_going_away", func(t *testing.T) {
		t.Parallel()

		inst := startRelay(t, bus.NewMemoryBus(0))
		a := join(t, inst, "/ws/room1")
		b := join(t, inst, "/ws/room2")
		waitMembers(t, inst, "room1", 1)
		waitMembers(t, inst, "room2", 1)

		inst.stop()

		expectClose(t, a, websocket.CloseGoingAway, relay.ShutdownCloseReason)
		expectClose(t, b, websocket.CloseGoingAway, relay.ShutdownCloseReason)

		select {
		case err := <-inst.runCh:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("relay did not stop")
		}
		assert.Equal(t, bus.StateCancelled, inst.relay.Bridge().State())
		assert.Error(t, inst.relay.Ready(context.Background()))
	})

	t.Run("late_joiner_is_turned_away", func(t *testing.T) {
		t.Parallel()

		inst := startRelay(t, bus.NewMemoryBus(0))
		require.NoError(t, inst.relay.Shutdown(context.Background()))
		assert.NoError(t, inst.relay.Shutdown(context.Background()), "second shutdown is a no-op")

		ws := join(t, inst, "/ws/room1")
		expectClose(t, ws, websocket.CloseGoingAway, relay.ShutdownCloseReason)
		assert.Empty(t, inst.relay.Registry().ListChannels())

		code, _ := get(t, inst.srv.URL+"/readiness")
		assert.Equal(t, http.StatusInternalServerError, code)
	})
}

func TestRelay_BusLoss(t *testing.T) {
	t.Parallel()

	t.Run("exit_policy_stops_relay", func(t *testing.T) {
		t.Parallel()

		mem := bus.NewMemoryBus(0)
		inst := startRelay(t, mem)
		ws := join(t, inst, "/ws/room1")
		waitMembers(t, inst, "room1", 1)

		mem.Fail(errors.New("connection reset"))

		select {
		case err := <-inst.runCh:
			assert.ErrorIs(t, err, bus.ErrBusLost)
		case <-time.After(2 * time.Second):
			t.Fatal("relay did not stop on bus loss")
		}
		expectClose(t, ws, websocket.CloseGoingAway, relay.ShutdownCloseReason)
	})

	t.Run("degrade_policy_keeps_local_delivery", func(t *testing.T) {
		t.Parallel()

		mem := bus.NewMemoryBus(0)
		inst := startRelay(t, mem, relay.WithBridgeOptions(bus.WithLossPolicy(bus.LossPolicyDegrade)))
		a := join(t, inst, "/ws/room1")
		b := join(t, inst, "/ws/room1")
		waitMembers(t, inst, "room1", 2)

		mem.Fail(nil)

		require.Eventually(t, func() bool {
			resp, err := http.Get(inst.srv.URL + "/readiness")
			if err != nil {
				return false
			}
			_ = resp.Body.Close()
			return resp.StatusCode == http.StatusInternalServerError
		}, 2*time.Second, 10*time.Millisecond)

		code, _ := get(t, inst.srv.URL+"/healthz")
		assert.Equal(t, http.StatusOK, code)

		send(t, a, "still here")
		expect(t, b, "still here")

		select {
		case err := <-inst.runCh:
			t.Fatalf("relay stopped under degrade policy: %v", err)
		default:
		}
	})
}

func TestRelay_StartFailure(t *testing.T) {
	t.Parallel()

	mem := bus.NewMemoryBus(0)
	mem.Fail(errors.New("dial tcp: connection refused"))

	r, err := relay.New(mem)
	require.NoError(t, err)

	err = r.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestNewFromConfig(t *testing.T) {
	t.Parallel()

	_, err := relay.NewFromConfig(bus.NewMemoryBus(0), relay.Config{LossPolicy: "ignore"})
	assert.Error(t, err)

	r, err := relay.NewFromConfig(bus.NewMemoryBus(0), relay.Config{
		TopicPrefix: "chan:",
		LossPolicy:  "degrade",
	})
	require.NoError(t, err)
	assert.Equal(t, "chan:*", r.Bridge().Topics().Pattern())
}
