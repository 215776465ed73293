package bitfield

// ChunkFlags is a compact, loggable summary of one chunk header: its two
// semantic flags, the class id it currently carries, and its refcount at
// the moment of capture. Packing it into one uint32 via Pack/Unpack
// keeps a diagnostic log line to a single structured field instead of
// four.
type ChunkFlags struct {
	Linked   bool   `bitfield:",1"`
	Slabbed  bool   `bitfield:",1"`
	ClassID  uint32 `bitfield:",8"`
	Refcount uint32 `bitfield:",16"`
	Reserved uint32 `bitfield:",6"`
}

// PackChunkFlags packs f into a uint32 for a log field or stats payload.
func PackChunkFlags(f ChunkFlags) (uint32, error) {
	packed, err := Pack(&f, &Config{NumBits: 32})
	if err != nil {
		return 0, err
	}
	return uint32(packed), nil
}

// UnpackChunkFlags is PackChunkFlags's inverse, for decoding a logged or
// stored summary word back into its fields.
func UnpackChunkFlags(packed uint32) (ChunkFlags, error) {
	var f ChunkFlags
	if err := Unpack(uint64(packed), &f, &Config{NumBits: 32}); err != nil {
		return ChunkFlags{}, err
	}
	return f, nil
}
