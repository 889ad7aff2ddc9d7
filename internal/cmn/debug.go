package cmn

import "github.com/diatomic/diy/internal/nlog"

// Debug gates expensive assertions the way the teacher's cmn/debug build
// tag does; flip to true in development builds or via init() in tests.
var Debug = false

// Assert aborts the process if cond is false. Reserved for contract
// violations spec §7 calls out as fatal (e.g. a negative work counter).
func Assert(cond bool, msg string) {
	if !Debug {
		return
	}
	if !cond {
		nlog.Fatalf("assertion failed: %s", msg)
	}
}

// AssertNoErr is Assert(err == nil, ...).
func AssertNoErr(err error) {
	if !Debug || err == nil {
		return
	}
	nlog.Fatalf("assertion failed: %v", err)
}
