package protocol

// ComputeDelta returns the byte-wise XOR of curr against prev. Both frames
// must have the same length; delta encoding is only defined between frames
// of identical size.
func ComputeDelta(curr, prev []byte) ([]byte, error) {
	if len(curr) != len(prev) {
		return nil, ErrLengthMismatch
	}
	delta := make([]byte, len(curr))
	for i := range curr {
		delta[i] = curr[i] ^ prev[i]
	}
	return delta, nil
}

// ApplyDelta XORs delta into out in place, reconstructing the next frame
// from the previous one. out and delta must have the same length.
func ApplyDelta(out, delta []byte) error {
	if len(out) != len(delta) {
		return ErrLengthMismatch
	}
	for i := range delta {
		out[i] ^= delta[i]
	}
	return nil
}
