// Package channel holds the in-process membership of the relay: which live
// connections are currently subscribed to which named channel, and how a
// text message is fanned out to them.
//
// The package is transport-agnostic. Anything implementing Conn can be a
// member; core/wsconn provides the websocket implementation.
//
// # Registry
//
// Registry maps a channel name to the set of its members. A channel exists
// only while it has at least one member: the entry is created by the first
// Join and removed in the same critical section as the last Leave.
//
//	reg := channel.NewRegistry()
//	reg.Join("room1", conn)
//	defer reg.Leave("room1", conn)
//
// Channel names are used verbatim. There is no validation or normalization,
// so "Room1", "room1" and "room 1" are three different channels.
//
// # Broadcaster
//
// Broadcaster delivers a message to every member of a channel except an
// optional excluded connection. It works on a Snapshot of the membership,
// so sends never happen while the registry lock is held, and a member
// leaving mid-broadcast cannot corrupt the iteration.
//
//	b := channel.NewBroadcaster(reg, channel.WithLogger(log))
//	res := b.Broadcast(ctx, "room1", "hi", sender) // sender does not get "hi"
//
// A failed send is treated as a broken connection: it is logged, the
// connection is closed with CloseTryAgainLater, and delivery to the other
// members continues.
package channel
