package core

import "fmt"

// IDPool hands out small integer ids and recycles released ones, lowest
// free slot first.
type IDPool struct {
	owners []interface{}
}

func NewIDPool(capacity int) *IDPool {
	return &IDPool{owners: make([]interface{}, 0, capacity)}
}

func (p *IDPool) Acquire(owner interface{}) uint32 {
	length := uint32(len(p.owners))
	for i := uint32(0); i < length; i++ {
		// Existing free spot. Take it.
		if p.owners[i] == nil {
			p.owners[i] = owner
			return i
		}
	}

	// If here, no existing free slots. Need a new id, so push one.
	p.owners = append(p.owners, owner)
	return uint32(len(p.owners)) - 1
}

func (p *IDPool) Release(id uint32) error {
	length := uint32(len(p.owners))
	if id >= length {
		return fmt.Errorf("release id '%d' (max=%d): %w", id, length, ErrOutOfRange)
	}
	if p.owners[id] == nil {
		return fmt.Errorf("release id '%d': not acquired: %w", id, ErrOutOfRange)
	}

	// Just zero out the entry, making it available for use.
	p.owners[id] = nil
	return nil
}

// Owner returns the value registered for id, or nil.
func (p *IDPool) Owner(id uint32) interface{} {
	if id >= uint32(len(p.owners)) {
		return nil
	}
	return p.owners[id]
}
