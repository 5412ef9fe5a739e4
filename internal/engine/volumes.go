package engine

import "sync"

// volumeMap holds one VolumeRing per (symbol, exchange), created on the first
// trade for that pair.
type volumeMap struct {
	mu sync.Mutex
	m  map[string]map[string]*VolumeRing
}

func newVolumeMap() *volumeMap {
	return &volumeMap{m: make(map[string]map[string]*VolumeRing)}
}

// ring returns the ring for (symbol, exchange), creating it if needed.
func (v *volumeMap) ring(symbol, exchangeName string) *VolumeRing {
	v.mu.Lock()
	defer v.mu.Unlock()

	byExchange, ok := v.m[symbol]
	if !ok {
		byExchange = make(map[string]*VolumeRing)
		v.m[symbol] = byExchange
	}
	r, ok := byExchange[exchangeName]
	if !ok {
		r = NewVolumeRing()
		byExchange[exchangeName] = r
	}
	return r
}

// byExchange returns a snapshot of the rings recorded for a symbol.
func (v *volumeMap) byExchange(symbol string) map[string]*VolumeRing {
	v.mu.Lock()
	defer v.mu.Unlock()

	byExchange, ok := v.m[symbol]
	if !ok {
		return nil
	}
	out := make(map[string]*VolumeRing, len(byExchange))
	for name, r := range byExchange {
		out[name] = r
	}
	return out
}
