// Command mkimage assembles the raw boot disk: the two-stage loader in the
// reserved sectors in front of the first partition, and a FAT32 filesystem
// holding the kernel image and the user programs.
//
//	mkimage -out disk.img -boot boot.bin -loader loader.bin \
//	        -kernel kernel.elf shell.elf loop.elf
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	diskfs "github.com/diskfs/go-diskfs"
	diskpkg "github.com/diskfs/go-diskfs/disk"
	"github.com/diskfs/go-diskfs/filesystem"
	"github.com/diskfs/go-diskfs/partition/mbr"
)

var (
	outPath    = flag.String("out", "disk.img", "output disk image path")
	bootPath   = flag.String("boot", "boot.bin", "stage 1 boot sector (512 bytes)")
	loaderPath = flag.String("loader", "loader.bin", "stage 2 loader binary")
	kernelPath = flag.String("kernel", "kernel.elf", "kernel image")
	diskMiB    = flag.Int("size", 64, "disk size in MiB")
)

const (
	sectorSize = 512

	// the loader area: sector 0 is the boot sector, the stage 2 loader
	// follows, and the kernel image is read from a fixed sector run by
	// the loader before the filesystem is up
	loaderStartSector = 1
	kernelStartSector = 100

	partitionStartSector = 20480 // 10 MiB in
)

func main() {
	flag.Parse()

	if err := build(flag.Args()); err != nil {
		log.Fatal(err)
	}
}

func build(extraFiles []string) error {
	diskSize := int64(*diskMiB) << 20

	_ = os.Remove(*outPath)

	disk, err := diskfs.Create(*outPath, diskSize, diskfs.Raw, diskfs.SectorSizeDefault)
	if err != nil {
		return fmt.Errorf("create disk: %w", err)
	}

	table := &mbr.Table{
		LogicalSectorSize:  sectorSize,
		PhysicalSectorSize: sectorSize,
		Partitions: []*mbr.Partition{
			{
				Bootable: false,
				Type:     mbr.Fat32LBA,
				Start:    partitionStartSector,
				Size:     uint32(diskSize/sectorSize) - partitionStartSector,
			},
		},
	}
	if err := disk.Partition(table); err != nil {
		return fmt.Errorf("partition disk: %w", err)
	}

	spec := diskpkg.FilesystemSpec{Partition: 1, FSType: filesystem.TypeFat32, VolumeLabel: "MINOS"}
	fs, err := disk.CreateFilesystem(spec)
	if err != nil {
		return fmt.Errorf("create filesystem: %w", err)
	}

	files := append([]string{*kernelPath}, extraFiles...)
	for _, src := range files {
		if err := copyIn(fs, src); err != nil {
			return err
		}
	}

	if err := disk.File.Close(); err != nil {
		return err
	}

	// the boot sector, loader and kernel live outside the filesystem, in
	// the reserved area the real-mode loader reads with BIOS calls
	if err := writeRaw(*outPath, 0, *bootPath, sectorSize); err != nil {
		return err
	}
	if err := writeRaw(*outPath, loaderStartSector*sectorSize, *loaderPath,
		(kernelStartSector-loaderStartSector)*sectorSize); err != nil {
		return err
	}
	if err := writeRaw(*outPath, kernelStartSector*sectorSize, *kernelPath,
		(partitionStartSector-kernelStartSector)*sectorSize); err != nil {
		return err
	}

	log.Printf("wrote %s (%d MiB)", *outPath, *diskMiB)
	return nil
}

// copyIn places one host file into the root of the target filesystem.
func copyIn(fs filesystem.FileSystem, src string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	dest := "/" + filepath.Base(src)
	out, err := fs.OpenFile(dest, os.O_CREATE|os.O_RDWR)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copy %s: %w", dest, err)
	}

	log.Printf("added %s", dest)
	return nil
}

// writeRaw copies a binary into the image at a fixed byte offset, bounded
// by the space reserved for it.
func writeRaw(imgPath string, offset int64, src string, maxSize int64) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read %s: %w", src, err)
	}
	if int64(len(data)) > maxSize {
		return fmt.Errorf("%s: %d bytes exceeds the %d byte reserved area", src, len(data), maxSize)
	}

	img, err := os.OpenFile(imgPath, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer img.Close()

	if _, err := img.WriteAt(data, offset); err != nil {
		return fmt.Errorf("write %s at %d: %w", src, offset, err)
	}

	return nil
}
