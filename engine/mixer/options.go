package mixer

import "github.com/spaghettifunk/anima/engine/core"

type Option func(*Mixer)

// WithEventSystem makes the mixer fire animation lifecycle events on es.
func WithEventSystem(es *core.EventSystem) Option {
	return func(m *Mixer) {
		m.events = es
	}
}

// WithName labels the mixer in log messages.
func WithName(name string) Option {
	return func(m *Mixer) {
		m.name = name
	}
}

// WithCapacity preallocates room for n concurrently active instances.
func WithCapacity(n int) Option {
	return func(m *Mixer) {
		if n > 0 {
			m.capacity = n
		}
	}
}
