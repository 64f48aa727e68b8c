// Package bus replicates channel messages across relay instances through a
// topic-based publish/subscribe service.
//
// Every channel maps to a topic made of a fixed prefix and the channel
// name ("ws.room1" for channel "room1" with the default prefix). Each
// instance runs one Bridge that pattern-subscribes to prefix+"*", strips
// the prefix from incoming topics and hands the text to the local
// broadcaster.
//
//	bridge, err := bus.NewBridge(b, broadcaster,
//		bus.WithPollInterval(time.Second),
//		bus.WithLossPolicy(bus.LossPolicyExit),
//	)
//	if err := bridge.Start(ctx); err != nil {
//		return err // bus unreachable: do not serve
//	}
//	go func() { errCh <- bridge.Run(ctx) }()
//
// Run waits for messages with a bounded timeout, so cancellation is seen
// within one poll interval even when the bus client cannot be interrupted.
//
// # Envelope
//
// Published payloads are JSON envelopes, {"fanout":1,"origin":...,"data":...},
// carrying the publishing instance id. The origin instance has already
// delivered the message to its local members, so it drops its own
// publications when they come back. Payloads without the "fanout" marker
// are relayed verbatim, which keeps "PUBLISH ws.room1 hello" and JSON
// messages from any external producer working.
//
// # Bus loss
//
// A receive error other than a timeout means the bus is gone. The bridge
// moves to StateBusLost, Healthy starts failing, and depending on the
// LossPolicy Run either returns ErrBusLost (the process should exit) or
// nil (local-only service continues, visibly unready).
//
// MemoryBus implements Bus in-process for single-instance deployments and
// tests; integration/database/redis provides the Redis implementation.
package bus
