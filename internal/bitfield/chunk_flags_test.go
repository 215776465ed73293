package bitfield

import (
	"fmt"
	"testing"
)

func TestPackChunkFlags(t *testing.T) {
	tests := []struct {
		name     string
		flags    ChunkFlags
		expected uint32
	}{
		{
			name:     "all zero",
			flags:    ChunkFlags{},
			expected: 0,
		},
		{
			name:     "linked only",
			flags:    ChunkFlags{Linked: true},
			expected: 0x1,
		},
		{
			name:     "slabbed only",
			flags:    ChunkFlags{Slabbed: true},
			expected: 0x2,
		},
		{
			name:     "class id 5",
			flags:    ChunkFlags{ClassID: 5},
			expected: 5 << 2,
		},
		{
			name:     "linked, class 12, refcount 3",
			flags:    ChunkFlags{Linked: true, ClassID: 12, Refcount: 3},
			expected: 1 | (12 << 2) | (3 << 10),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			packed, err := PackChunkFlags(tt.flags)
			if err != nil {
				t.Fatalf("PackChunkFlags() error = %v", err)
			}
			if packed != tt.expected {
				t.Errorf("PackChunkFlags() = 0x%08x, want 0x%08x", packed, tt.expected)
			}
		})
	}
}

func TestPackUnpackChunkFlagsRoundTrip(t *testing.T) {
	cases := []ChunkFlags{
		{},
		{Linked: true},
		{Slabbed: true},
		{Linked: true, Slabbed: false, ClassID: 42, Refcount: 7},
		{ClassID: 255, Refcount: 0xffff},
	}

	for i, original := range cases {
		t.Run(fmt.Sprintf("case_%d", i), func(t *testing.T) {
			packed, err := PackChunkFlags(original)
			if err != nil {
				t.Fatalf("PackChunkFlags() error = %v", err)
			}
			unpacked, err := UnpackChunkFlags(packed)
			if err != nil {
				t.Fatalf("UnpackChunkFlags() error = %v", err)
			}
			if unpacked != original {
				t.Errorf("round trip: got %+v, want %+v", unpacked, original)
			}
		})
	}
}

func ExamplePackChunkFlags() {
	packed, err := PackChunkFlags(ChunkFlags{Linked: true, ClassID: 3})
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Printf("0x%08x\n", packed)
	// Output:
	// 0x0000000d
}
