package engine

import (
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/dantte-lp/gotgen/internal/frame"
)

// -------------------------------------------------------------------------
// Validation Errors
// -------------------------------------------------------------------------

var (
	// ErrInvalidProfile indicates a malformed profile descriptor.
	ErrInvalidProfile = errors.New("invalid profile descriptor")

	// ErrDuplicateProfile indicates a create with an existing name.
	ErrDuplicateProfile = errors.New("profile name already exists")

	// ErrProfileNotFound indicates an operation on an unknown profile.
	ErrProfileNotFound = errors.New("profile not found")

	// ErrPortNotFound indicates an unknown source or destination port.
	ErrPortNotFound = errors.New("port not found")

	// ErrImmutableWhileRunning indicates an update touching a field that
	// only a disable/enable cycle may change.
	ErrImmutableWhileRunning = errors.New("field immutable while running")

	// ErrUnknownPreset indicates an unrecognized impairment preset name.
	ErrUnknownPreset = errors.New("unknown impairment preset")
)

// -------------------------------------------------------------------------
// Impairments
// -------------------------------------------------------------------------

// Impairments is the per-profile impairment block. All percentages are
// 0-100; durations are milliseconds to match the control surface.
type Impairments struct {
	// LatencyMs is the base delay added to every frame.
	LatencyMs float64 `json:"latency_ms" koanf:"latency_ms"`

	// JitterMs bounds the symmetric triangular jitter term.
	JitterMs float64 `json:"jitter_ms" koanf:"jitter_ms"`

	// LossPercent drops frames independently.
	LossPercent float64 `json:"loss_percent" koanf:"loss_percent"`

	// BurstLossPercent is the per-frame probability of entering the bad
	// state of the two-state burst loss model.
	BurstLossPercent float64 `json:"burst_loss_percent" koanf:"burst_loss_percent"`

	// ReorderPercent delays individual frames so later ones overtake.
	ReorderPercent float64 `json:"reorder_percent" koanf:"reorder_percent"`

	// DuplicatePercent emits a second copy 50us behind the original.
	DuplicatePercent float64 `json:"duplicate_percent" koanf:"duplicate_percent"`

	// ShapingCapMbps releases at most this rate when set below the pacer
	// rate. Zero disables the cap.
	ShapingCapMbps float64 `json:"shaping_cap_mbps" koanf:"shaping_cap_mbps"`
}

// Zero reports whether every impairment is disabled.
func (im Impairments) Zero() bool {
	return im == Impairments{}
}

// Latency returns the base delay as a duration.
func (im Impairments) Latency() time.Duration {
	return time.Duration(im.LatencyMs * float64(time.Millisecond))
}

// Jitter returns the jitter bound as a duration.
func (im Impairments) Jitter() time.Duration {
	return time.Duration(im.JitterMs * float64(time.Millisecond))
}

// impairmentPresets are canned impairment blocks modelled on common link
// types, applicable by name on create and update.
//
//nolint:gochecknoglobals // preset catalogue is intentionally package-level.
var impairmentPresets = map[string]Impairments{
	"lan":              {LatencyMs: 0.5, JitterMs: 0.1},
	"wifi":             {LatencyMs: 3, JitterMs: 2, LossPercent: 0.5},
	"broadband-good":   {LatencyMs: 15, JitterMs: 3, LossPercent: 0.1},
	"broadband-poor":   {LatencyMs: 40, JitterMs: 10, LossPercent: 1, BurstLossPercent: 0.5},
	"mobile-4g":        {LatencyMs: 50, JitterMs: 15, LossPercent: 0.5, ReorderPercent: 0.1},
	"mobile-3g":        {LatencyMs: 120, JitterMs: 40, LossPercent: 2, BurstLossPercent: 1},
	"satellite":        {LatencyMs: 600, JitterMs: 30, LossPercent: 0.5},
	"intercontinental": {LatencyMs: 150, JitterMs: 10, LossPercent: 0.05},
}

// PresetNames lists the available impairment presets.
func PresetNames() []string {
	names := make([]string, 0, len(impairmentPresets))
	for name := range impairmentPresets {
		names = append(names, name)
	}

	return names
}

// LookupPreset resolves a preset name.
func LookupPreset(name string) (Impairments, error) {
	im, ok := impairmentPresets[name]
	if !ok {
		return Impairments{}, fmt.Errorf("preset %q: %w", name, ErrUnknownPreset)
	}

	return im, nil
}

// -------------------------------------------------------------------------
// Profile Descriptor
// -------------------------------------------------------------------------

// Profile is a named traffic descriptor: the desired state the operator
// mutates through the control surface. Live counters are kept separately
// on the registry entry.
type Profile struct {
	// Name is the globally unique primary key.
	Name string `json:"name"`

	// SrcPort and DstPort are port names, resolved against the registry
	// at enable time.
	SrcPort string `json:"src_port"`
	DstPort string `json:"dst_port"`

	// DstIP is the destination L3 address.
	DstIP netip.Addr `json:"dst_ip"`

	// L4Port is the UDP/TCP destination port for protocols that carry
	// one; zero selects the protocol default.
	L4Port uint16 `json:"l4_port,omitempty"`

	// Protocol is the encapsulation tag.
	Protocol frame.Protocol `json:"-"`

	// ProtocolName is the wire form of Protocol ("ipv4", "vxlan", ...).
	ProtocolName string `json:"protocol"`

	// Protocol-specific fields.
	MPLSLabel uint32 `json:"mpls_label,omitempty"`
	VNI       uint32 `json:"vni,omitempty"`
	OuterVLAN uint16 `json:"outer_vlan,omitempty"`
	InnerVLAN uint16 `json:"inner_vlan,omitempty"`

	// BandwidthMbps is the offered rate; zero is a valid paused state.
	BandwidthMbps float64 `json:"bandwidth_mbps"`

	// FrameSize is the L2 frame size in bytes, 64-9000.
	FrameSize int `json:"frame_size"`

	// DSCP is the QoS codepoint, 0-63.
	DSCP uint8 `json:"dscp"`

	// Impairments is the hot-updatable impairment block.
	Impairments Impairments `json:"impairments"`

	// Enabled is the desired state, persisted across restarts.
	Enabled bool `json:"enabled"`
}

// defaultFrameSize is applied when a descriptor omits frame_size.
const defaultFrameSize = 1500

// Normalize fills defaults and resolves the protocol tag. Returns
// warnings for values that were clamped rather than rejected.
func (p *Profile) Normalize() ([]string, error) {
	var warnings []string

	if p.Name == "" {
		return nil, fmt.Errorf("empty profile name: %w", ErrInvalidProfile)
	}

	proto, err := frame.ParseProtocol(p.ProtocolName)
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w: %w", p.Name, ErrInvalidProfile, err)
	}
	p.Protocol = proto

	if p.FrameSize == 0 {
		p.FrameSize = defaultFrameSize
	}
	if p.FrameSize < frame.MinFrameSize || p.FrameSize > frame.MaxFrameSize {
		return nil, fmt.Errorf("profile %s: frame size %d outside [%d, %d]: %w",
			p.Name, p.FrameSize, frame.MinFrameSize, frame.MaxFrameSize, ErrInvalidProfile)
	}

	if p.DSCP > 63 {
		return nil, fmt.Errorf("profile %s: dscp %d outside [0, 63]: %w",
			p.Name, p.DSCP, ErrInvalidProfile)
	}

	if p.BandwidthMbps < 0 {
		return nil, fmt.Errorf("profile %s: negative bandwidth: %w",
			p.Name, ErrInvalidProfile)
	}

	if !p.DstIP.IsValid() {
		return nil, fmt.Errorf("profile %s: missing destination address: %w",
			p.Name, ErrInvalidProfile)
	}

	if p.SrcPort == "" || p.DstPort == "" {
		return nil, fmt.Errorf("profile %s: source and destination ports required: %w",
			p.Name, ErrInvalidProfile)
	}

	if err := validateImpairments(p.Name, &p.Impairments); err != nil {
		return nil, err
	}

	if w := clampImpairmentSum(&p.Impairments); w != "" {
		warnings = append(warnings, fmt.Sprintf("profile %s: %s", p.Name, w))
	}

	return warnings, nil
}

// validateImpairments rejects negative or out-of-range values outright.
func validateImpairments(name string, im *Impairments) error {
	for _, f := range []struct {
		label string
		value float64
		max   float64
	}{
		{"latency_ms", im.LatencyMs, 60_000},
		{"jitter_ms", im.JitterMs, 60_000},
		{"loss_percent", im.LossPercent, 100},
		{"burst_loss_percent", im.BurstLossPercent, 100},
		{"reorder_percent", im.ReorderPercent, 100},
		{"duplicate_percent", im.DuplicatePercent, 100},
	} {
		if f.value < 0 || f.value > f.max {
			return fmt.Errorf("profile %s: %s=%g outside [0, %g]: %w",
				name, f.label, f.value, f.max, ErrInvalidProfile)
		}
	}

	if im.ShapingCapMbps < 0 {
		return fmt.Errorf("profile %s: negative shaping cap: %w",
			name, ErrInvalidProfile)
	}

	return nil
}

// clampImpairmentSum enforces loss + duplicate + reorder <= 100 by
// scaling the three proportionally. Returns a warning string when it
// clamped, empty otherwise.
func clampImpairmentSum(im *Impairments) string {
	sum := im.LossPercent + im.DuplicatePercent + im.ReorderPercent
	if sum <= 100 {
		return ""
	}

	scale := 100 / sum
	im.LossPercent *= scale
	im.DuplicatePercent *= scale
	im.ReorderPercent *= scale

	return fmt.Sprintf("loss+duplicate+reorder = %.1f%% exceeds 100%%, scaled down proportionally", sum)
}

// FrameSpec derives the builder input from the descriptor plus the
// source port's identity and the destination MAC resolved from the
// neighbor cache (zero selects broadcast fallback).
func (p *Profile) FrameSpec(srcMAC [6]byte, srcIP netip.Addr, mtu int, dstMAC [6]byte) *frame.Spec {
	return &frame.Spec{
		ProfileID: frame.ProfileID(p.Name),
		Protocol:  p.Protocol,
		SrcMAC:    srcMAC,
		DstMAC:    dstMAC,
		SrcIP:     srcIP,
		DstIP:     p.DstIP,
		DstPort:   p.L4Port,
		DSCP:      p.DSCP,
		FrameSize: p.FrameSize,
		MTU:       mtu,
		MPLSLabel: p.MPLSLabel,
		VNI:       p.VNI,
		OuterVLAN: p.OuterVLAN,
		InnerVLAN: p.InnerVLAN,
	}
}

// Clone returns a copy safe to hand across the registry boundary.
func (p *Profile) Clone() *Profile {
	cp := *p
	return &cp
}

// -------------------------------------------------------------------------
// Counter Snapshots
// -------------------------------------------------------------------------

// ProfileCounters is a point-in-time copy of a profile's live counters.
type ProfileCounters struct {
	FramesSent     uint64    `json:"frames_sent"`
	BytesSent      uint64    `json:"bytes_sent"`
	LossDrops      uint64    `json:"loss_drops"`
	DupEmits       uint64    `json:"dup_emits"`
	ReorderEvents  uint64    `json:"reorder_events"`
	ShaperOverruns uint64    `json:"shaper_overruns"`
	LastSend       time.Time `json:"last_send,omitzero"`
}
