package channel

import (
	"slices"
	"sync"
)

// Registry tracks the live members of every channel.
// Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]map[Conn]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		channels: make(map[string]map[Conn]struct{}),
	}
}

// Join adds conn to the channel, creating the channel if needed.
// Joining twice is a no-op.
func (r *Registry) Join(channel string, conn Conn) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.channels[channel]
	if !ok {
		members = make(map[Conn]struct{})
		r.channels[channel] = members
	}
	members[conn] = struct{}{}
}

// Leave removes conn from the channel. The channel entry is dropped together
// with its last member. Leaving a channel the connection never joined is a
// no-op.
func (r *Registry) Leave(channel string, conn Conn) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.channels[channel]
	if !ok {
		return
	}
	delete(members, conn)
	if len(members) == 0 {
		delete(r.channels, channel)
	}
}

// Snapshot returns a copy of the channel members at the time of the call.
// The result may be iterated without holding any lock.
func (r *Registry) Snapshot(channel string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.channels[channel]
	if len(members) == 0 {
		return nil
	}

	out := make([]Conn, 0, len(members))
	for conn := range members {
		out = append(out, conn)
	}
	return out
}

// ListChannels returns the sorted names of all channels with members.
func (r *Registry) ListChannels() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.channels))
	for name := range r.channels {
		names = append(names, name)
	}
	r.mu.RUnlock()

	slices.Sort(names)
	return names
}

// AllConnections returns every live connection across all channels.
// A connection belongs to exactly one channel, so each appears once.
func (r *Registry) AllConnections() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var total int
	for _, members := range r.channels {
		total += len(members)
	}

	out := make([]Conn, 0, total)
	for _, members := range r.channels {
		for conn := range members {
			out = append(out, conn)
		}
	}
	return out
}

// Stats reports the number of channels and connections.
func (r *Registry) Stats() (channels, connections int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, members := range r.channels {
		connections += len(members)
	}
	return len(r.channels), connections
}
