package pipeline

// Gate is the render node's view of one queued pipeline. Polling it never triggers
// work; the cache advances the entry in Process.
type Gate struct {
	cache  Cache
	handle Handle
}

// NewGate queues desc on c and returns a gate over the resulting handle.
//
// Parameters:
//   - c: the pipeline cache
//   - desc: the pipeline to request
//
// Returns:
//   - *Gate: the gate
func NewGate(c Cache, desc Descriptor) *Gate {
	return &Gate{cache: c, handle: c.QueueComputePipeline(desc)}
}

// Handle returns the gated handle.
func (g *Gate) Handle() Handle {
	return g.handle
}

// Poll returns the current compilation state.
func (g *Gate) Poll() State {
	return g.cache.State(g.handle)
}

// Pipeline returns the compiled pipeline if it is ready and cached.
func (g *Gate) Pipeline() (Pipeline, bool) {
	return g.cache.ComputePipeline(g.handle)
}
