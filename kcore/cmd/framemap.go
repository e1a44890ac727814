package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sarchlab/kcore/kernel"
	"github.com/sarchlab/kcore/mem/vm/paging"
	"github.com/sarchlab/kcore/monitoring"
)

var framemapCmd = &cobra.Command{
	Use:   "framemap <out.png>",
	Short: "Draw the frame states of a freshly booted kernel.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pages, _ := cmd.Flags().GetUint32("touch")

		k := kernel.MakeBuilder().WithConfig(cfg).Build("Kernel")

		if pages > 0 {
			if err := touchHeap(k, pages); err != nil {
				return err
			}
		}

		err := monitoring.SaveFrameMap(args[0], k.KernelPool, k.ProcessPool)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "frame map written to %s\n", args[0])

		return nil
	},
}

func init() {
	rootCmd.AddCommand(framemapCmd)

	framemapCmd.Flags().Uint32("touch", 0,
		"heap pages to allocate and touch before drawing")
}

func touchHeap(k *kernel.Kernel, pages uint32) error {
	addr, err := k.HeapPool.Allocate(pages * paging.PageSize)
	if err != nil {
		return err
	}

	for i := uint32(0); i < pages; i++ {
		if err := k.MMU.WriteUint32(addr+i*paging.PageSize, i); err != nil {
			return err
		}
	}

	return nil
}
