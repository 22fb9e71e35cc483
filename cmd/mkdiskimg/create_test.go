package main

import (
	"os"
	"path/filepath"
	"testing"

	"protios/kernel/driver/ata"
	"protios/kernel/fs/fat16"
)

func TestBuildDiskImageWithoutSeedProducesMountableEmptyVolume(t *testing.T) {
	opts := &createOptions{
		diskSize:          1 << 20,
		partitionStart:    64,
		sectorsPerCluster: 1,
		rootEntries:       64,
	}

	img, err := buildDiskImage(opts)
	if err != nil {
		t.Fatalf("buildDiskImage: %v", err)
	}

	entries := readMBR(img)
	if entries[0].partType != ata.PartTypeFAT16_0 {
		t.Fatalf("expected a FAT16 partition entry, got %+v", entries[0])
	}

	part := img[int(entries[0].startLBA)*sectorSize : (int(entries[0].startLBA)+int(entries[0].sectorCnt))*sectorSize]
	volume, ferr := fat16.Mount(&memBlockDevice{sectors: part})
	if ferr != nil {
		t.Fatalf("expected the freshly formatted partition to mount: %s", ferr.Message)
	}

	dir, ferr := volume.Opendir("/")
	if ferr != nil {
		t.Fatalf("Opendir: %s", ferr.Message)
	}
	if _, ok := dir.Readdir(); ok {
		t.Fatal("expected an empty root directory")
	}
}

func TestBuildDiskImageSeedsHostFiles(t *testing.T) {
	seedDir := t.TempDir()
	for name, contents := range map[string]string{
		"init":   "the first program",
		"README": "seeded file",
	} {
		if err := os.WriteFile(filepath.Join(seedDir, name), []byte(contents), 0o644); err != nil {
			t.Fatalf("seeding %s: %v", name, err)
		}
	}

	opts := &createOptions{
		diskSize:          1 << 20,
		partitionStart:    64,
		sectorsPerCluster: 1,
		rootEntries:       64,
		seedDir:           seedDir,
	}

	img, err := buildDiskImage(opts)
	if err != nil {
		t.Fatalf("buildDiskImage: %v", err)
	}

	entries := readMBR(img)
	part := img[int(entries[0].startLBA)*sectorSize : (int(entries[0].startLBA)+int(entries[0].sectorCnt))*sectorSize]
	volume, ferr := fat16.Mount(&memBlockDevice{sectors: part})
	if ferr != nil {
		t.Fatalf("mount: %s", ferr.Message)
	}

	seen := map[string]uint32{}
	dir, ferr := volume.Opendir("/")
	if ferr != nil {
		t.Fatalf("Opendir: %s", ferr.Message)
	}
	for {
		entry, ok := dir.Readdir()
		if !ok {
			break
		}
		seen[entry.Name] = entry.Size
	}

	if seen["INIT"] != uint32(len("the first program")) {
		t.Fatalf("expected INIT to be seeded with its host size, got %v", seen)
	}
	if seen["README"] != uint32(len("seeded file")) {
		t.Fatalf("expected README to be seeded with its host size, got %v", seen)
	}
}
