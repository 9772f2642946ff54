package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/blkops/snapmerge/pkg/config"
	"github.com/blkops/snapmerge/pkg/merge"
	"github.com/blkops/snapmerge/pkg/scratch"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show merge progress",
	Long: `Display the state of the checkpointed merge, if any.

The status is read from the checkpoint and scratch files named in the
configuration; no merge process needs to be running.

Examples:
  snapmerge status
  snapmerge status --config /etc/snapmerge/snapmerge.yaml`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return err
	}

	cp, err := merge.LoadCheckpoint(cfg.Scratch.CheckpointPath)
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Println("Snapmerge Status")
	fmt.Println("================")
	fmt.Println()

	if cp == nil {
		fmt.Println("  No merge has been started.")
		fmt.Println()
		return nil
	}

	fmt.Printf("  Session:       %s\n", cp.Session)
	fmt.Printf("  Windows done:  %d\n", cp.AppliedSeq)
	fmt.Printf("  Log position:  %d\n", cp.AppliedPos)

	region, err := scratch.Open(cfg.Scratch.Path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		fmt.Println("  Scratch:       missing")
	case err != nil:
		fmt.Printf("  Scratch:       unusable (%v)\n", err)
	case region.Session() != cp.Session:
		region.Close()
		fmt.Println("  Scratch:       belongs to a different session")
	default:
		if seq := region.WindowSeq(); seq == cp.AppliedSeq+1 {
			fmt.Printf("  Scratch:       window %d staged, pending apply\n", seq)
		} else {
			fmt.Printf("  Scratch:       no staged window (seq %d)\n", seq)
		}
		region.Close()
	}

	fmt.Println()
	return nil
}
