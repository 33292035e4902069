// Package loopback implements per-device loopback taps and flexible
// loopback ("floop") pairs (spec §4.9).
//
// The per-device tap list itself (registration, control/data hook firing
// on OPEN/CLOSE and per-block writes) lives on iodev.Device directly
// (RegisterLoopback/UnregisterLoopback/DeliverLoopbackBlock): iodev is the
// lower-level package and loopback imports it, so a Device cannot hold a
// registry type defined here without an import cycle. Tap/Type are
// re-exported so routing and server code refer to loopback concepts from
// one place.
package loopback

import "audiosrv/internal/iodev"

// Tap is a registered observer of one output device's mixed samples,
// re-exported from iodev.Loopback under this package's naming.
type Tap = iodev.Loopback

// Type selects which pipeline stage a Tap observes.
type Type = iodev.LoopbackType

const (
	PreDSP  = iodev.LoopbackPreDSP
	PostDSP = iodev.LoopbackPostDSP
)
