package output

import (
	"sync"

	"keydance/internal/action"
)

// Layers tracks which momentary layers are held.
type Layers struct {
	mu   sync.Mutex
	refs map[action.Layer]int
}

func NewLayers() *Layers {
	return &Layers{refs: make(map[action.Layer]int)}
}

func (l *Layers) Assert(a action.Action) {
	if a.Layer == action.NoLayer {
		return
	}
	l.mu.Lock()
	l.refs[a.Layer]++
	l.mu.Unlock()
}

func (l *Layers) Deassert(a action.Action) {
	if a.Layer == action.NoLayer {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.refs[a.Layer] <= 1 {
		delete(l.refs, a.Layer)
		return
	}
	l.refs[a.Layer]--
}

// Active reports whether layer is held.
func (l *Layers) Active(layer action.Layer) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.refs[layer] > 0
}

// Top returns the highest held layer, or NoLayer.
func (l *Layers) Top() action.Layer {
	l.mu.Lock()
	defer l.mu.Unlock()
	top := action.NoLayer
	for layer := range l.refs {
		if layer > top {
			top = layer
		}
	}
	return top
}

func (l *Layers) Reset() {
	l.mu.Lock()
	clear(l.refs)
	l.mu.Unlock()
}
