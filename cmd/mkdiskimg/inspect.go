package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"protios/kernel/diag"
	"protios/kernel/driver/ata"
	"protios/kernel/fs/fat16"
)

type inspectOptions struct {
	image string
	json  bool
}

func newInspectCommand() *cobra.Command {
	opts := &inspectOptions{}
	cmd := &cobra.Command{
		Use:   "inspect <image>",
		Short: "Print the partition table and root directory of a disk image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.image = args[0]
			return runInspect(opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&opts.json, "json", false, "emit newline-delimited JSON instead of console output")
	return cmd
}

func runInspect(opts *inspectOptions, out io.Writer) error {
	var log diag.Logger
	if opts.json {
		log = diag.New(out)
	} else {
		log = diag.NewConsole(out)
	}

	img, err := os.ReadFile(opts.image)
	if err != nil {
		return err
	}

	entries := readMBR(img)
	rootSlot := -1
	for i, e := range entries {
		if e.sectorCnt == 0 {
			continue
		}
		log.Info(diag.Fields{
			"slot":     i,
			"type":     fmt.Sprintf("%#x", e.partType),
			"startLBA": e.startLBA,
			"sectors":  e.sectorCnt,
		}, "partition table entry %d", i)

		if rootSlot < 0 && (e.partType == ata.PartTypeFAT16_0 || e.partType == ata.PartTypeFAT16_1) {
			rootSlot = i
		}
	}

	if rootSlot < 0 {
		log.Error(nil, "no FAT16 partition found")
		return fmt.Errorf("no FAT16 partition found in %s", opts.image)
	}

	e := entries[rootSlot]
	off := int(e.startLBA) * sectorSize
	end := off + int(e.sectorCnt)*sectorSize
	if end > len(img) {
		return fmt.Errorf("partition %d extends beyond the image file", rootSlot)
	}

	volume, ferr := fat16.Mount(&memBlockDevice{sectors: img[off:end]})
	if ferr != nil {
		log.Error(nil, "mount failed: %s", ferr.Message)
		return fmt.Errorf("mounting root partition: %s", ferr.Message)
	}

	dir, ferr := volume.Opendir("/")
	if ferr != nil {
		return fmt.Errorf("opening root directory: %s", ferr.Message)
	}
	defer dir.Close()

	for {
		entry, ok := dir.Readdir()
		if !ok {
			break
		}
		log.Info(diag.Fields{
			"name": entry.Name,
			"size": entry.Size,
			"type": entry.Type,
		}, "%s (%d bytes)", entry.Name, entry.Size)
	}

	return nil
}
