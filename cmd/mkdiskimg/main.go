// Command mkdiskimg builds and inspects the MBR+FAT16 disk images this
// kernel's ATA driver and FAT16 filesystem boot from. It runs on the
// host, outside the freestanding kernel build, so it is free to use the
// ordinary Go ecosystem (cobra/pflag for its CLI, errgroup for bounded
// concurrency while seeding files, zerolog via kernel/diag for
// structured output) the way the retrieved pack's host-side tools do.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "mkdiskimg",
		Short: "Build and inspect MBR+FAT16 disk images",
	}
	root.AddCommand(newCreateCommand(), newInspectCommand())
	return root
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
