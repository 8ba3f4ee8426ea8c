package types

import (
	"fmt"
	"math/bits"
	"strings"
)

// Capability is a single optional protocol behavior a peer can support.
// Values match the CLIPRDR general capability flags so a set can be
// advertised on the wire without translation.
type Capability uint32

// Capability flags.
const (
	// LongFormatNames: format lists carry full format names.
	LongFormatNames Capability = 0x00000002
	// StreamFileClip: file copy via FileContentsRequest/FileContentsResponse.
	StreamFileClip Capability = 0x00000004
	// FileClipNoFilePaths: file descriptions must not include source paths.
	FileClipNoFilePaths Capability = 0x00000008
	// LockClipData: locking of clipboard data snapshots is supported.
	LockClipData Capability = 0x00000010
	// HugeFileSupport: file offsets and sizes may exceed 2^32-1.
	HugeFileSupport Capability = 0x00000020
)

// MaxSmallFileOffset is the largest offset+size addressable without HugeFileSupport.
const MaxSmallFileOffset uint64 = 1<<32 - 1

// allCapabilities lists every known capability in advertisement order.
var allCapabilities = []Capability{
	LongFormatNames,
	StreamFileClip,
	FileClipNoFilePaths,
	LockClipData,
	HugeFileSupport,
}

var capabilityNames = map[Capability]string{
	LongFormatNames:     "long_format_names",
	StreamFileClip:      "stream_file_clip",
	FileClipNoFilePaths: "file_clip_no_file_paths",
	LockClipData:        "lock_clip_data",
	HugeFileSupport:     "huge_file_support",
}

const knownCapabilityMask = uint32(LongFormatNames | StreamFileClip | FileClipNoFilePaths | LockClipData | HugeFileSupport)

// String returns the config name of the capability.
func (c Capability) String() string {
	if name, ok := capabilityNames[c]; ok {
		return name
	}
	return fmt.Sprintf("capability(0x%08x)", uint32(c))
}

// ParseCapability parses a config name such as "huge_file_support".
func ParseCapability(name string) (Capability, error) {
	want := strings.ToLower(strings.TrimSpace(name))
	for c, n := range capabilityNames {
		if n == want {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown capability %q", name)
}

// CapabilitySet is a set of capabilities stored as a bitfield.
// The zero value is the empty set.
type CapabilitySet uint32

// NewCapabilitySet builds a set from individual capabilities.
// Duplicates collapse; order is irrelevant.
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	var s CapabilitySet
	for _, c := range caps {
		s = s.With(c)
	}
	return s
}

// ParseCapabilitySet builds a set from config names.
func ParseCapabilitySet(names []string) (CapabilitySet, error) {
	var s CapabilitySet
	for _, n := range names {
		c, err := ParseCapability(n)
		if err != nil {
			return 0, err
		}
		s = s.With(c)
	}
	return s, nil
}

// LocalCapabilities returns the compiled-in capability set of this implementation.
func LocalCapabilities() CapabilitySet {
	return NewCapabilitySet(allCapabilities...)
}

// Has reports whether c is in the set.
func (s CapabilitySet) Has(c Capability) bool {
	return uint32(s)&uint32(c) != 0
}

// With returns the set with c added.
func (s CapabilitySet) With(c Capability) CapabilitySet {
	return s | CapabilitySet(c)
}

// Without returns the set with c removed.
func (s CapabilitySet) Without(c Capability) CapabilitySet {
	return s &^ CapabilitySet(c)
}

// Len returns the number of capabilities in the set.
func (s CapabilitySet) Len() int {
	return bits.OnesCount32(uint32(s))
}

// List returns the known capabilities in the set in advertisement order.
func (s CapabilitySet) List() []Capability {
	out := make([]Capability, 0, len(allCapabilities))
	for _, c := range allCapabilities {
		if s.Has(c) {
			out = append(out, c)
		}
	}
	return out
}

// Names returns the config names of the capabilities in the set.
func (s CapabilitySet) Names() []string {
	caps := s.List()
	names := make([]string, len(caps))
	for i, c := range caps {
		names[i] = c.String()
	}
	return names
}

// Validate rejects sets carrying bits outside the known capabilities.
func (s CapabilitySet) Validate() error {
	if unknown := uint32(s) &^ knownCapabilityMask; unknown != 0 {
		return fmt.Errorf("unknown capability bits 0x%08x", unknown)
	}
	return nil
}

func (s CapabilitySet) String() string {
	if s == 0 {
		return "none"
	}
	return strings.Join(s.Names(), ",")
}

// AllowsRange reports whether a range of size bytes at offset can be
// requested or served under this set. Without HugeFileSupport the end of
// the range must stay within 2^32-1. With it every range is allowed: offset
// and size are independent wire fields.
func (s CapabilitySet) AllowsRange(offset, size uint64) bool {
	if s.Has(HugeFileSupport) {
		return true
	}
	end, carry := bits.Add64(offset, size, 0)
	return carry == 0 && end <= MaxSmallFileOffset
}
