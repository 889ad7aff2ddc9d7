// Command diy is the example driver for the distributed block-parallel
// runtime (spec §1 "example/test drivers exercising each module"),
// grounded in original_source/examples/{simple,iexchange-particles,sort,
// kd-tree}.cpp, re-expressed as cobra subcommands over one in-process
// diy module rather than separate MPI binaries.
package main

import (
	"os"

	"github.com/diatomic/diy/internal/nlog"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		nlog.Errorln(err)
		os.Exit(1)
	}
}
