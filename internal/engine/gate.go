package engine

import "sync"

// Gate serializes engine access across goroutines. The engine itself
// is single-threaded; the gate is the one lock the command dispatcher
// and the query surface share. Reentrant calls from inside an
// operation bypass the gate and are rejected by the engine's own
// guard.
type Gate struct {
	mu  sync.Mutex
	eng *Engine
}

func NewGate(eng *Engine) *Gate {
	return &Gate{eng: eng}
}

// Do runs fn with exclusive access to the engine.
func (g *Gate) Do(fn func(*Engine) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return fn(g.eng)
}
