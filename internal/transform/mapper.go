package transform

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
)

// ToWorld maps a cloud-local point into the world frame.
func ToWorld(local r3.Vec, m Mat4) r3.Vec {
	return m.ApplyPoint(local)
}

// ToLocal maps a world point into the cloud-local frame. It fails with
// ErrSingular when m has no inverse (for example a zero scale).
func ToLocal(world r3.Vec, m Mat4) (r3.Vec, error) {
	inv, err := m.Inverse()
	if err != nil {
		return r3.Vec{}, fmt.Errorf("map to local: %w", err)
	}
	return inv.ApplyPoint(world), nil
}

// Mapper caches the inverse of one transform for repeated mapping.
type Mapper struct {
	forward Mat4
	inverse Mat4
}

// NewMapper returns a Mapper for m, or ErrSingular.
func NewMapper(m Mat4) (*Mapper, error) {
	inv, err := m.Inverse()
	if err != nil {
		return nil, err
	}
	return &Mapper{forward: m, inverse: inv}, nil
}

// Matrix returns the forward transform.
func (mp *Mapper) Matrix() Mat4 { return mp.forward }

// Inverse returns the cached inverse transform.
func (mp *Mapper) Inverse() Mat4 { return mp.inverse }

// ToWorld maps a local point to world.
func (mp *Mapper) ToWorld(local r3.Vec) r3.Vec { return mp.forward.ApplyPoint(local) }

// ToLocal maps a world point to local.
func (mp *Mapper) ToLocal(world r3.Vec) r3.Vec { return mp.inverse.ApplyPoint(world) }
