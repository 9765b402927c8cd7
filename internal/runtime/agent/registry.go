package agent

import (
	"sync"

	"github.com/kandev/acpcore/internal/runtime/ids"
	"github.com/kandev/acpcore/internal/runtime/rterr"
)

// Registry indexes every agent runtime created for a workspace by id.
type Registry struct {
	mu    sync.RWMutex
	byID  map[ids.AgentID]*Runtime
}

func NewRegistry() *Registry {
	return &Registry{byID: make(map[ids.AgentID]*Runtime)}
}

func (reg *Registry) Add(rt *Runtime) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.byID[rt.record.ID] = rt
}

func (reg *Registry) Get(id ids.AgentID) (*Runtime, error) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	rt, ok := reg.byID[id]
	if !ok {
		return nil, rterr.ErrAgentNotFound
	}
	return rt, nil
}

func (reg *Registry) Remove(id ids.AgentID) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.byID, id)
}

func (reg *Registry) List() []*Runtime {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	out := make([]*Runtime, 0, len(reg.byID))
	for _, rt := range reg.byID {
		out = append(out, rt)
	}
	return out
}
