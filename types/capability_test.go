package types

import (
	"testing"
)

func TestCapabilitySet_Membership(t *testing.T) {
	s := NewCapabilitySet(LongFormatNames, HugeFileSupport, HugeFileSupport)

	if !s.Has(LongFormatNames) || !s.Has(HugeFileSupport) {
		t.Fatalf("set %v missing members", s)
	}
	if s.Has(StreamFileClip) {
		t.Error("StreamFileClip should not be in set")
	}
	if s.Len() != 2 {
		t.Errorf("Len() = %d, want 2 (duplicates collapse)", s.Len())
	}

	s = s.Without(HugeFileSupport)
	if s.Has(HugeFileSupport) {
		t.Error("HugeFileSupport still present after Without")
	}
}

func TestCapabilitySet_OrderIrrelevant(t *testing.T) {
	a := NewCapabilitySet(StreamFileClip, LockClipData, FileClipNoFilePaths)
	b := NewCapabilitySet(FileClipNoFilePaths, StreamFileClip, LockClipData)
	if a != b {
		t.Errorf("sets differ by construction order: %v vs %v", a, b)
	}
}

func TestCapabilitySet_WireValues(t *testing.T) {
	tests := []struct {
		c    Capability
		want uint32
	}{
		{LongFormatNames, 0x02},
		{StreamFileClip, 0x04},
		{FileClipNoFilePaths, 0x08},
		{LockClipData, 0x10},
		{HugeFileSupport, 0x20},
	}
	for _, tt := range tests {
		if uint32(tt.c) != tt.want {
			t.Errorf("%s = 0x%02x, want 0x%02x", tt.c, uint32(tt.c), tt.want)
		}
	}
}

func TestLocalCapabilities_AllKnown(t *testing.T) {
	local := LocalCapabilities()
	if local.Len() != 5 {
		t.Errorf("LocalCapabilities().Len() = %d, want 5", local.Len())
	}
	if err := local.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestCapabilitySet_ValidateUnknownBits(t *testing.T) {
	s := CapabilitySet(0x01) | NewCapabilitySet(StreamFileClip)
	if err := s.Validate(); err == nil {
		t.Error("expected error for unknown bit 0x01")
	}
}

func TestParseCapabilitySet(t *testing.T) {
	s, err := ParseCapabilitySet([]string{"huge_file_support", " Stream_File_Clip "})
	if err != nil {
		t.Fatalf("ParseCapabilitySet failed: %v", err)
	}
	if s != NewCapabilitySet(HugeFileSupport, StreamFileClip) {
		t.Errorf("parsed %v", s)
	}

	if _, err := ParseCapabilitySet([]string{"telepathy"}); err == nil {
		t.Error("expected error for unknown capability name")
	}
}

func TestCapabilitySet_NamesRoundTrip(t *testing.T) {
	local := LocalCapabilities()
	parsed, err := ParseCapabilitySet(local.Names())
	if err != nil {
		t.Fatalf("ParseCapabilitySet failed: %v", err)
	}
	if parsed != local {
		t.Errorf("round trip %v != %v", parsed, local)
	}
	if CapabilitySet(0).String() != "none" {
		t.Errorf("empty set String() = %q", CapabilitySet(0).String())
	}
}

func TestCapabilitySet_AllowsRange(t *testing.T) {
	small := NewCapabilitySet(StreamFileClip)
	huge := small.With(HugeFileSupport)

	tests := []struct {
		name      string
		offset    uint64
		size      uint64
		wantSmall bool
		wantHuge  bool
	}{
		{"zero", 0, 0, true, true},
		{"exactly max", 0, MaxSmallFileOffset, true, true},
		{"one past max", 1, MaxSmallFileOffset, false, true},
		{"offset past 4GiB", 1 << 32, 16, false, true},
		{"end at max", MaxSmallFileOffset - 10, 10, true, true},
		{"u64 overflow", ^uint64(0), 1, false, true},
		{"half space twice", 1 << 63, 1 << 63, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := small.AllowsRange(tt.offset, tt.size); got != tt.wantSmall {
				t.Errorf("small.AllowsRange = %v, want %v", got, tt.wantSmall)
			}
			if got := huge.AllowsRange(tt.offset, tt.size); got != tt.wantHuge {
				t.Errorf("huge.AllowsRange = %v, want %v", got, tt.wantHuge)
			}
		})
	}
}
