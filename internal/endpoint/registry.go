package endpoint

import (
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/dbehnke/scoaudio/internal/protocol"
	"github.com/dbehnke/scoaudio/internal/scheduler"
)

// Handle refers to an endpoint owned by a Registry. A handle whose
// endpoint has been destroyed stays invalid even if its slot is reused.
type Handle struct {
	index      uint32
	generation uint32
}

// IsZero reports whether h was never issued
func (h Handle) IsZero() bool { return h.generation == 0 }

func (h Handle) String() string {
	return fmt.Sprintf("ep%d.%d", h.index, h.generation)
}

type slot struct {
	generation uint32
	ep         *Endpoint
}

type pairKey struct {
	key ConnectionKey
	dir protocol.Direction
}

// Registry owns every SCO endpoint. There is at most one endpoint per
// connection key and direction.
type Registry struct {
	loop   *scheduler.Loop
	logger *log.Logger
	sink   StatsSink

	slots []slot
	free  []uint32
	byKey map[pairKey]Handle
}

// NewRegistry creates an empty registry whose endpoints run on loop
func NewRegistry(loop *scheduler.Loop, logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.Default()
	}
	return &Registry{
		loop:   loop,
		logger: logger,
		byKey:  make(map[pairKey]Handle),
	}
}

// SetStatsSink registers where final counters go when an endpoint is
// destroyed. nil disables recording.
func (r *Registry) SetStatsSink(sink StatsSink) {
	r.sink = sink
}

// Create makes a new idle endpoint for one direction of a connection
func (r *Registry) Create(key ConnectionKey, dir protocol.Direction, link LinkParams) (Handle, error) {
	pk := pairKey{key: key, dir: dir}
	if _, ok := r.byKey[pk]; ok {
		return Handle{}, fmt.Errorf("%w: conn %d %s", ErrEndpointExists, key, dir)
	}

	ep, err := newEndpoint(key, dir, link, r.loop, r.logger)
	if err != nil {
		return Handle{}, err
	}

	var index uint32
	if n := len(r.free); n > 0 {
		index = r.free[n-1]
		r.free = r.free[:n-1]
	} else {
		index = uint32(len(r.slots))
		r.slots = append(r.slots, slot{generation: 1})
	}
	r.slots[index].ep = ep

	h := Handle{index: index, generation: r.slots[index].generation}
	r.byKey[pk] = h
	r.logger.Debug("endpoint created", "handle", h, "conn", key, "dir", dir, "packet", ep.packetSize)
	return h, nil
}

// Get resolves a handle. Stale handles return ErrStaleHandle.
func (r *Registry) Get(h Handle) (*Endpoint, error) {
	if h.IsZero() || int(h.index) >= len(r.slots) {
		return nil, ErrStaleHandle
	}
	s := r.slots[h.index]
	if s.generation != h.generation || s.ep == nil {
		return nil, ErrStaleHandle
	}
	return s.ep, nil
}

// Lookup finds the endpoint for a connection key and direction
func (r *Registry) Lookup(key ConnectionKey, dir protocol.Direction) (Handle, bool) {
	h, ok := r.byKey[pairKey{key: key, dir: dir}]
	return h, ok
}

// Pair returns the source and sink handles of a connection, either of
// which may be zero
func (r *Registry) Pair(key ConnectionKey) (source, sink Handle) {
	source = r.byKey[pairKey{key: key, dir: protocol.DIRECTION_SOURCE}]
	sink = r.byKey[pairKey{key: key, dir: protocol.DIRECTION_SINK}]
	return source, sink
}

// Len returns the number of live endpoints
func (r *Registry) Len() int {
	return len(r.byKey)
}

// Destroy stops and disconnects the endpoint, hands its counters to the
// stats sink and invalidates the handle
func (r *Registry) Destroy(h Handle) error {
	ep, err := r.Get(h)
	if err != nil {
		return err
	}

	if err := ep.Stop(); err != nil {
		return err
	}
	if err := ep.Disconnect(); err != nil {
		return err
	}

	if r.sink != nil {
		if err := r.sink.RecordStats(ep.key, ep.dir, ep.format, ep.stats); err != nil {
			r.logger.Warn("failed to record endpoint stats", "handle", h, "err", err)
		}
	}

	delete(r.byKey, pairKey{key: ep.key, dir: ep.dir})
	s := &r.slots[h.index]
	s.ep = nil
	s.generation++
	if s.generation == 0 {
		s.generation = 1
	}
	r.free = append(r.free, h.index)

	r.logger.Debug("endpoint destroyed", "handle", h, "stats", ep.stats)
	return nil
}
