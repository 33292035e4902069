package iodev

import "fmt"

// NodeType enumerates the selectable-endpoint kinds a Node may represent.
// HOTWORD is checked specially by routing (spec §4.7: pinned hotword
// streams require the device's active node type be HOTWORD).
type NodeType string

const (
	NodeHeadphone NodeType = "HEADPHONE"
	NodeSpeaker   NodeType = "SPEAKER"
	NodeHDMI      NodeType = "HDMI"
	NodeMic       NodeType = "MIC"
	NodeInternalMic NodeType = "INTERNAL_MIC"
	NodeBluetooth NodeType = "BLUETOOTH"
	NodeHotword   NodeType = "HOTWORD"
	NodeLoopback  NodeType = "LOOPBACK"
	NodeUnknown   NodeType = "UNKNOWN"
)

// NCProvider identifies which noise-cancellation implementation (if any) a
// node's active path uses; "DSP AEC use case" in spec §4.7 refers to nodes
// whose NCProvider is NCProviderDSP.
type NCProvider int

const (
	NCProviderNone NCProvider = iota
	NCProviderDSP
	NCProviderAP
)

// SupportsNC reports whether this provider can do noise cancellation at all
// (spec §4.7's reset-for-NC operates on nodes where this is true).
func (p NCProvider) SupportsNC() bool { return p == NCProviderDSP || p == NCProviderAP }

// HotwordModel is a static entry in the hotword model registry (supplements
// spec per original_source; the DSP model itself is out of scope, spec
// §1).
type HotwordModel struct {
	Name     string
	Language string
}

// Node is a selectable endpoint on a Device (spec §3).
type Node struct {
	DevIdx  uint32
	Idx     uint32
	Type    NodeType
	Position string

	Plugged bool
	Volume  int // 0..100

	// UIGainScaler is the linear gain multiplier derived from a 0..100
	// dBFS-mapped UI value via the piecewise mapping in spec §4.6.
	UIGainScaler float32

	LeftRightSwapped bool
	DisplayRotation  int // degrees

	ActiveHotwordModel string
	NCProvider         NCProvider

	// AECOnDSPDisallowed marks streams/nodes that must not be routed
	// through DSP-side AEC (spec §4.7's NC-blocked condition (b)).
	AECOnDSPDisallowed bool
}

// DefaultMaxGainCentiDB is spec §4.6's max_gain for non-internal mics
// ("2000 for non-internal mics and a board-configured value for internal
// mics"); board-specific overrides are out of this CORE's scope, so every
// node uses this constant.
const DefaultMaxGainCentiDB = 2000

// hotwordModels is the static in-memory registry backing GET_HOTWORD_MODELS
// and SET_HOTWORD_MODEL (spec SPEC_FULL.md §4.6 supplement; original_source
// resolves the model list per iodev via a backend callback, which this CORE
// has no DSP backend to provide, so every HOTWORD node shares one fixed
// list).
var hotwordModels = []HotwordModel{
	{Name: "en_us", Language: "en-US"},
	{Name: "ja_jp", Language: "ja-JP"},
	{Name: "zh_cn", Language: "zh-CN"},
}

// HotwordModelNames returns the registry's model names, comma-joined as
// GET_HOTWORD_MODELS_READY's body expects (original_source's
// cras_iodev_list_get_hotword_models return convention).
func HotwordModelNames() string {
	names := make([]string, len(hotwordModels))
	for i, m := range hotwordModels {
		names[i] = m.Name
	}
	out := ""
	for i, n := range names {
		if i > 0 {
			out += ","
		}
		out += n
	}
	return out
}

// IsKnownHotwordModel reports whether name is present in the registry.
func IsKnownHotwordModel(name string) bool {
	for _, m := range hotwordModels {
		if m.Name == name {
			return true
		}
	}
	return false
}

// IsDSPAECUseCase reports whether this node's active path is the "DSP AEC
// use case" referenced by spec §4.7 condition (a).
func (n *Node) IsDSPAECUseCase() bool { return n.NCProvider == NCProviderDSP }

// String implements fmt.Stringer for log messages.
func (n *Node) String() string {
	return fmt.Sprintf("node(dev=%d idx=%d type=%s)", n.DevIdx, n.Idx, n.Type)
}
