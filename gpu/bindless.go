// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package gpu

// FenceSyncPoint identifies a point in a queue's submission
// order. Value is monotonically increasing; a sync point is
// considered reached once the backend reports that its queue
// has completed execution up to at least Value.
type FenceSyncPoint struct {
	Value uint64
}

// Reached reports whether the sync point has been reached,
// given the latest completed value reported by the queue.
func (f FenceSyncPoint) Reached(completed uint64) bool {
	return completed >= f.Value
}

// BindlessSlot is a stable integer index into a bindless
// descriptor set, returned by BindlessManager's Register
// methods. It remains valid until the owning BindlessManager
// is destroyed; slots are never reused while the resource
// they describe is registered.
type BindlessSlot uint32

// BindlessManager owns a single, frame-stable descriptor set
// used for bindless access to samplers and sampled images.
// Registration methods return a slot that is stable for the
// lifetime of the registration (repeated registrations of an
// already-known resource return the same slot).
//
// Usage follows a strict per-frame protocol:
//
//	1. call BeginFrame to obtain a writable descriptor set
//	   (recycled from a retired one once its FenceSyncPoint
//	   has been reached, or freshly allocated otherwise)
//	2. call RegisterSampler/RegisterSRV any number of times
//	3. call CloseFrame to flush the accumulated writes and
//	   retire the set, tagged with the FenceSyncPoint at
//	   which it becomes safe to recycle
type BindlessManager interface {
	Destroyer

	// BeginFrame prepares the manager to accept registrations
	// for a new frame.
	BeginFrame() error

	// RegisterSampler returns the bindless slot for splr,
	// registering it if this is the first time it is seen.
	RegisterSampler(splr Sampler) BindlessSlot

	// RegisterSRV returns the bindless slot for the given
	// image view, registering it if this is the first time
	// the (id, sub) pair is seen.
	RegisterSRV(iv ImageView, id ResourceID, sub Subresource) BindlessSlot

	// CloseFrame flushes pending registrations into the
	// descriptor set and returns the sync point at which the
	// set may be recycled.
	CloseFrame(fenceValue uint64) (FenceSyncPoint, error)
}
