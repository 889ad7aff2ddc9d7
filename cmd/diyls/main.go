// Command diyls inspects block-snapshot files written by snapshot.WriteBlocks
// (spec §6), the Go analogue of aistore's cmd/cli object inspection commands:
// urfave/cli for the command surface, mpb/v4 for a progress bar while
// records are walked (cli/object.go's filePutOrAppend2Arch progress-bar
// pattern, adapted from upload progress to scan progress — see DESIGN.md).
package main

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/urfave/cli"
	"github.com/vbauerster/mpb/v4"
	"github.com/vbauerster/mpb/v4/decor"

	"github.com/diatomic/diy/block"
	"github.com/diatomic/diy/snapshot"
)

// allRank is a trivial assign.Assigner that claims every gid belongs to
// rank 0, so ReadBlocks (which only ever filters on assigner.Rank) hands
// back every record in the snapshot regardless of how many ranks wrote it.
type allRank struct{}

func (allRank) Rank(int64) int { return 0 }
func (allRank) NBlocks() int64 { return 0 }

func main() {
	app := cli.NewApp()
	app.Name = "diyls"
	app.Usage = "list and inspect diy snapshot files"
	app.Commands = []cli.Command{
		{
			Name:      "ls",
			Usage:     "list every block recorded in a snapshot",
			ArgsUsage: "SNAPSHOT",
			Action:    runLs,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runLs(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.NewExitError("missing SNAPSHOT argument", 1)
	}
	path := c.Args().Get(0)

	funcs := block.Funcs{}
	links, _, err := snapshot.ReadBlocks(path, allRank{}, 0, funcs)
	if err != nil {
		return err
	}

	gids := make([]int64, 0, len(links))
	for gid := range links {
		gids = append(gids, gid)
	}
	sort.Slice(gids, func(i, j int) bool { return gids[i] < gids[j] })

	progress := mpb.New(mpb.WithWidth(64))
	bar := progress.AddBar(int64(len(gids)),
		mpb.PrependDecorators(decor.Name("scanning ", decor.WC{W: 10})),
		mpb.AppendDecorators(decor.CountersNoUnit("%d / %d")),
	)

	for _, gid := range gids {
		lnk := links[gid]
		fmt.Printf("gid=%d neighbors=%d\n", gid, lnk.Size())
		bar.IncrBy(1)
		time.Sleep(time.Millisecond)
	}
	progress.Wait()
	return nil
}
