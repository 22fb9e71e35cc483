package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"protios/kernel/driver/ata"
	"protios/kernel/fs"
	"protios/kernel/fs/fat16"
)

type createOptions struct {
	output            string
	seedDir           string
	diskSize          int64
	partitionStart    int
	sectorsPerCluster int
	rootEntries       int
}

func newCreateCommand() *cobra.Command {
	opts := &createOptions{}
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Build an MBR-partitioned disk image with a FAT16 root partition",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreate(opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.output, "output", "o", "disk.img", "path to write the disk image to")
	flags.StringVar(&opts.seedDir, "seed-dir", "", "host directory whose top-level files are seeded into the root partition")
	flags.Int64Var(&opts.diskSize, "disk-size", 1<<20, "total disk image size, in bytes")
	flags.IntVar(&opts.partitionStart, "partition-start", 64, "LBA of the root partition's first sector")
	flags.IntVar(&opts.sectorsPerCluster, "sectors-per-cluster", 1, "FAT16 cluster size, in sectors")
	flags.IntVar(&opts.rootEntries, "root-entries", 64, "number of root-directory entries")

	return cmd
}

func runCreate(opts *createOptions) error {
	img, err := buildDiskImage(opts)
	if err != nil {
		return err
	}
	return os.WriteFile(opts.output, img, 0o644)
}

func buildDiskImage(opts *createOptions) ([]byte, error) {
	totalSectors := int(opts.diskSize) / sectorSize
	if opts.partitionStart >= totalSectors {
		return nil, fmt.Errorf("partition-start %d is beyond the %d-sector image", opts.partitionStart, totalSectors)
	}
	partitionSectors := totalSectors - opts.partitionStart

	layout, err := computeFAT16Layout(partitionSectors, opts.sectorsPerCluster, opts.rootEntries)
	if err != nil {
		return nil, err
	}

	img := make([]byte, totalSectors*sectorSize)
	writeMBR(img, []partitionEntry{{
		partType:  ata.PartTypeFAT16_0,
		startLBA:  uint32(opts.partitionStart),
		sectorCnt: uint32(partitionSectors),
	}})

	part := img[opts.partitionStart*sectorSize:]
	writeDBR(part, layout)

	volume, ferr := fat16.Mount(&memBlockDevice{sectors: part})
	if ferr != nil {
		return nil, fmt.Errorf("formatting root partition: %s", ferr.Message)
	}

	if opts.seedDir != "" {
		if err := seedFiles(volume, opts.seedDir); err != nil {
			return nil, err
		}
	}

	return img, nil
}

// seedFiles reads every top-level regular file under dir with bounded
// concurrency (one goroutine per entry, fanned out with errgroup — the
// host file reads are where concurrency actually helps) and then commits
// each file into volume sequentially: fat16.FileSystem carries no
// internal locking of its own (kernel/fs.VFS normally supplies that via
// the mount mutex, which this standalone host tool has no scheduler to
// drive), so writes must not race each other.
func seedFiles(volume fs.FileSystem, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	type loadedFile struct {
		name string
		data []byte
	}
	loaded := make([]loadedFile, len(entries))

	g := new(errgroup.Group)
	for i, entry := range entries {
		if entry.IsDir() {
			continue
		}
		i, entry := i, entry
		g.Go(func() error {
			data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
			if err != nil {
				return err
			}
			loaded[i] = loadedFile{name: entry.Name(), data: data}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, f := range loaded {
		if f.name == "" {
			continue
		}
		h, ferr := volume.Open(f.name, fs.OCREAT|fs.OWRONLY)
		if ferr != nil {
			return fmt.Errorf("creating %s: %s", f.name, ferr.Message)
		}
		if _, ferr := h.Write(f.data); ferr != nil {
			h.Close()
			return fmt.Errorf("writing %s: %s", f.name, ferr.Message)
		}
		h.Close()
	}
	return nil
}
