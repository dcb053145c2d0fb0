package hash

// Batch hashes n[i] salted with s[i] into out[i], all reduced into [0, max).
// The three slices must have equal length.
func Batch(out []uint32, n []uint32, s []uint32, max uint32) {
	if len(n) != len(out) || len(s) != len(out) {
		panic("hash: batch length mismatch")
	}
	for i := range out {
		out[i] = Hash(n[i], s[i], max)
	}
}
