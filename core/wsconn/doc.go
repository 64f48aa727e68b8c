// Package wsconn implements channel.Conn over gorilla/websocket.
//
// Each connection runs one writer goroutine that drains a bounded send
// queue and pings the peer every ping interval; the caller's goroutine runs
// ReadLoop. The read deadline is pushed forward on every pong, so a peer
// that stops answering is disconnected after the pong wait.
//
//	up := wsconn.NewUpgrader(wsconn.WithPingInterval(55 * time.Second))
//
//	func serve(w http.ResponseWriter, r *http.Request) {
//		conn, err := up.Upgrade(w, r, r.PathValue("channel"))
//		if err != nil {
//			return
//		}
//		registry.Join(conn.Channel(), conn)
//		defer registry.Leave(conn.Channel(), conn)
//
//		_ = conn.ReadLoop(r.Context(), func(ctx context.Context, text string) {
//			broadcaster.Broadcast(ctx, conn.Channel(), text, conn)
//		})
//	}
package wsconn
