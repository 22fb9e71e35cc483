package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInspectReportsPartitionAndFiles(t *testing.T) {
	seedDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(seedDir, "init"), []byte("abc"), 0o644); err != nil {
		t.Fatalf("seeding init: %v", err)
	}

	img, err := buildDiskImage(&createOptions{
		diskSize:          1 << 20,
		partitionStart:    64,
		sectorsPerCluster: 1,
		rootEntries:       64,
		seedDir:           seedDir,
	})
	if err != nil {
		t.Fatalf("buildDiskImage: %v", err)
	}

	imgPath := filepath.Join(t.TempDir(), "disk.img")
	if err := os.WriteFile(imgPath, img, 0o644); err != nil {
		t.Fatalf("writing image: %v", err)
	}

	var out bytes.Buffer
	if err := runInspect(&inspectOptions{image: imgPath, json: true}, &out); err != nil {
		t.Fatalf("runInspect: %v", err)
	}

	var sawPartition, sawInit bool
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		var record map[string]interface{}
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			t.Fatalf("expected valid JSON line %q: %v", line, err)
		}
		if record["slot"] != nil {
			sawPartition = true
		}
		if record["name"] == "INIT" {
			sawInit = true
			if record["size"].(float64) != 3 {
				t.Fatalf("expected INIT size 3, got %v", record["size"])
			}
		}
	}

	if !sawPartition {
		t.Fatal("expected a partition table entry record")
	}
	if !sawInit {
		t.Fatal("expected an INIT directory entry record")
	}
}

func TestInspectFailsWithoutFAT16Partition(t *testing.T) {
	imgPath := filepath.Join(t.TempDir(), "blank.img")
	if err := os.WriteFile(imgPath, make([]byte, 64*sectorSize), 0o644); err != nil {
		t.Fatalf("writing image: %v", err)
	}

	var out bytes.Buffer
	if err := runInspect(&inspectOptions{image: imgPath, json: true}, &out); err == nil {
		t.Fatal("expected an error for an image with no FAT16 partition")
	}
}
