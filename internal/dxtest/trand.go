package dxtest

import "math/rand"

// RandBytes generates n pseudo-random bytes from a seeded generator, the
// Go analogue of aistore's tools/trand.RandBytes used across its test
// suites for reproducible payloads.
func RandBytes(rng *rand.Rand, n int) []byte {
	b := make([]byte, n)
	rng.Read(b)
	return b
}

// RandString generates a random lowercase string of length n.
func RandString(rng *rand.Rand, n int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	b := make([]byte, n)
	for i := range b {
		b[i] = letters[rng.Intn(len(letters))]
	}
	return string(b)
}
