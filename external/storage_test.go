package external_test

import (
	"os"
	"testing"

	"github.com/diatomic/diy/external"
	"github.com/diatomic/diy/internal/dxtest"
)

// TestSaveLoadRoundTrip covers spec §4.1's external store contract: Save
// returns a handle that Load later resolves back to the identical payload.
func TestSaveLoadRoundTrip(t *testing.T) {
	dir, err := external.NewDir(t.TempDir())
	dxtest.CheckError(t, err)

	want := []byte("block payload bytes")
	h, err := dir.Save(want)
	dxtest.CheckError(t, err)

	got, err := dir.Load(h)
	dxtest.CheckError(t, err)
	dxtest.Equal(t, string(got), string(want), "loaded payload matches what was saved")
}

// TestSaveAssignsDistinctHandles covers the handle-allocation invariant:
// successive Save calls never reuse a handle, so earlier spills stay
// independently addressable.
func TestSaveAssignsDistinctHandles(t *testing.T) {
	dir, err := external.NewDir(t.TempDir())
	dxtest.CheckError(t, err)

	h1, err := dir.Save([]byte("first"))
	dxtest.CheckError(t, err)
	h2, err := dir.Save([]byte("second"))
	dxtest.CheckError(t, err)
	dxtest.Fatalf(t, h1 != h2, "distinct Save calls must receive distinct handles, got %d twice", h1)

	got1, err := dir.Load(h1)
	dxtest.CheckError(t, err)
	got2, err := dir.Load(h2)
	dxtest.CheckError(t, err)
	dxtest.Equal(t, string(got1), "first", "handle 1 resolves to its own payload")
	dxtest.Equal(t, string(got2), "second", "handle 2 resolves to its own payload")
}

// TestRemoveDeletesPayload covers Remove: after removing a handle, Load must
// fail rather than silently returning stale data.
func TestRemoveDeletesPayload(t *testing.T) {
	dir, err := external.NewDir(t.TempDir())
	dxtest.CheckError(t, err)

	h, err := dir.Save([]byte("ephemeral"))
	dxtest.CheckError(t, err)
	dxtest.CheckError(t, dir.Remove(h))

	_, err = dir.Load(h)
	dxtest.Fatalf(t, err != nil, "Load after Remove must fail")
}

// TestRemoveOfMissingHandleIsNotAnError mirrors spec's "storage errors are
// fatal" framing by keeping Remove idempotent: removing an already-gone (or
// never-written) handle is not itself a failure.
func TestRemoveOfMissingHandleIsNotAnError(t *testing.T) {
	dir, err := external.NewDir(t.TempDir())
	dxtest.CheckError(t, err)
	dxtest.CheckError(t, dir.Remove(external.Handle(999)))
}

// TestLoadDetectsCorruption covers the trailer-checksum path: flipping a
// byte of an on-disk blob must surface as a Load error, never as silently
// wrong data (spec §4.7, "storage errors are fatal").
func TestLoadDetectsCorruption(t *testing.T) {
	base := t.TempDir()
	dir, err := external.NewDir(base)
	dxtest.CheckError(t, err)

	h, err := dir.Save([]byte("checksummed payload"))
	dxtest.CheckError(t, err)

	entries, err := os.ReadDir(base)
	dxtest.CheckError(t, err)
	dxtest.Fatalf(t, len(entries) == 1, "expected exactly one blob file, found %d", len(entries))

	path := base + string(os.PathSeparator) + entries[0].Name()
	raw, err := os.ReadFile(path)
	dxtest.CheckError(t, err)
	raw[0] ^= 0xFF
	dxtest.CheckError(t, os.WriteFile(path, raw, 0o644))

	_, err = dir.Load(h)
	dxtest.Fatalf(t, err != nil, "Load must reject a payload whose checksum no longer matches")
}

// TestParityRoundTripSurvivesShardLoss covers the erasure-coded spill mode
// (spec's "spill durability across disk loss"): with 4 data + 2 parity
// shards, losing up to ParityShards files must still let Load reconstruct
// the original payload.
func TestParityRoundTripSurvivesShardLoss(t *testing.T) {
	base := t.TempDir()
	dir, err := external.NewDir(base)
	dxtest.CheckError(t, err)
	dir.DataShards = 4
	dir.ParityShards = 2

	want := []byte("erasure coded payload that spans multiple shards of data")
	h, err := dir.Save(want)
	dxtest.CheckError(t, err)

	got, err := dir.Load(h)
	dxtest.CheckError(t, err)
	dxtest.Equal(t, string(got), string(want), "parity mode round trip with all shards present")

	entries, err := os.ReadDir(base)
	dxtest.CheckError(t, err)
	dxtest.Fatalf(t, len(entries) == 6, "expected 4 data + 2 parity shard files, found %d", len(entries))

	dxtest.CheckError(t, os.Remove(base+string(os.PathSeparator)+entries[0].Name()))
	dxtest.CheckError(t, os.Remove(base+string(os.PathSeparator)+entries[1].Name()))

	got, err = dir.Load(h)
	dxtest.CheckError(t, err)
	dxtest.Equal(t, string(got), string(want), "parity mode reconstructs after losing ParityShards worth of files")
}

// TestParityRemoveClearsAllShards covers Remove in parity mode: it must
// clean up every shard file, not just the first.
func TestParityRemoveClearsAllShards(t *testing.T) {
	base := t.TempDir()
	dir, err := external.NewDir(base)
	dxtest.CheckError(t, err)
	dir.DataShards = 2
	dir.ParityShards = 1

	h, err := dir.Save([]byte("short payload"))
	dxtest.CheckError(t, err)
	dxtest.CheckError(t, dir.Remove(h))

	entries, err := os.ReadDir(base)
	dxtest.CheckError(t, err)
	dxtest.Equal(t, len(entries), 0, "Remove in parity mode clears every shard file")
}
