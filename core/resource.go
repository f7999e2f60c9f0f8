package core

import (
	"sync"

	"github.com/pkg/errors"
)

// ResourceKind classifies the scarce board resources the manager hands
// out.
type ResourceKind int

const (
	ResourcePin ResourceKind = iota
	ResourceOutCompare
	ResourceUart
	ResourceSpi
	ResourceTwi
	ResourceIcsp
	ResourceIncapSingle
	ResourceIncapDouble
	ResourceSequencer
	numResourceKinds
)

func (k ResourceKind) String() string {
	switch k {
	case ResourcePin:
		return "pin"
	case ResourceOutCompare:
		return "pwm"
	case ResourceUart:
		return "uart"
	case ResourceSpi:
		return "spi"
	case ResourceTwi:
		return "twi"
	case ResourceIcsp:
		return "icsp"
	case ResourceIncapSingle:
		return "incap"
	case ResourceIncapDouble:
		return "incap-double"
	case ResourceSequencer:
		return "sequencer"
	default:
		return "unknown"
	}
}

// Resource is a descriptor of a single allocatable unit: a (kind, id)
// pair. For pooled kinds, construct it with ID -1 and Alloc fills in
// the lowest free id.
type Resource struct {
	Kind ResourceKind
	ID   int
}

// ResourceManager tracks ownership of pins and module instances. At
// most one live owner exists per descriptor.
type ResourceManager struct {
	mu    sync.Mutex
	inUse [numResourceKinds][]bool
}

// NewResourceManager sizes the pools from a board's capability table.
func NewResourceManager(cap *Capability) *ResourceManager {
	m := &ResourceManager{}
	m.inUse[ResourcePin] = make([]bool, cap.NumPins)
	m.inUse[ResourceOutCompare] = make([]bool, cap.NumPwm)
	m.inUse[ResourceUart] = make([]bool, cap.NumUart)
	m.inUse[ResourceSpi] = make([]bool, cap.NumSpi)
	m.inUse[ResourceTwi] = make([]bool, cap.NumTwi())
	m.inUse[ResourceIcsp] = make([]bool, 1)
	m.inUse[ResourceIncapSingle] = make([]bool, cap.NumIncapSingle)
	m.inUse[ResourceIncapDouble] = make([]bool, cap.NumIncapDouble)
	m.inUse[ResourceSequencer] = make([]bool, cap.NumSequencer)
	return m
}

// Alloc claims all given descriptors or none. Descriptors with a
// non-negative ID claim that exact slot; descriptors with ID -1 get
// the lowest free id of their kind, written back into the descriptor.
func (m *ResourceManager) Alloc(resources ...*Resource) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	claimed := make([]*Resource, 0, len(resources))
	rollback := func() {
		for _, r := range claimed {
			m.inUse[r.Kind][r.ID] = false
		}
	}

	for _, r := range resources {
		pool := m.inUse[r.Kind]
		if r.ID >= 0 {
			if r.ID >= len(pool) {
				rollback()
				return errors.Wrapf(ErrOutOfResource, "%s %d out of range", r.Kind, r.ID)
			}
			if pool[r.ID] {
				rollback()
				return errors.Wrapf(ErrOutOfResource, "%s %d already in use", r.Kind, r.ID)
			}
			pool[r.ID] = true
			claimed = append(claimed, r)
			continue
		}
		id := -1
		for i, used := range pool {
			if !used {
				id = i
				break
			}
		}
		if id < 0 {
			rollback()
			return errors.Wrapf(ErrOutOfResource, "%s pool exhausted", r.Kind)
		}
		pool[id] = true
		r.ID = id
		claimed = append(claimed, r)
	}
	return nil
}

// Free releases descriptors back to their pools. Freeing an unclaimed
// descriptor is a no-op.
func (m *ResourceManager) Free(resources ...*Resource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range resources {
		if r.ID >= 0 && r.ID < len(m.inUse[r.Kind]) {
			m.inUse[r.Kind][r.ID] = false
		}
	}
}
