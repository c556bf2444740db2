// Command sdfatctl is the host-side supervising program (spec §6) that
// invokes the sdfat32/sdspi library: mount, cd, ls, cat against a FAT32
// image, plus raw block-level readblock/writeblock/erase/wellwritten
// against a simulated card. It is the concrete realization of the
// "interactive menu in the source" collaborator.
package main

import (
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/soypat/sdfat32"
	"github.com/soypat/sdfat32/sdspi"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "sdfatctl",
		Usage: "inspect a FAT32 image and drive a simulated SD-in-SPI card",
		Commands: []*cli.Command{
			mountCmd,
			lsCmd,
			catCmd,
			diagnoseCmd,
			readBlockCmd,
			writeBlockCmd,
			eraseCmd,
			wellWrittenCmd,
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatalf("sdfatctl: %s", err)
	}
}

var imageFlag = &cli.StringFlag{
	Name:     "image",
	Usage:    "path to a flat FAT32 disk image file",
	Required: true,
}

var pathFlag = &cli.StringFlag{
	Name:  "path",
	Usage: "slash-delimited directory path from root, e.g. /docs/notes",
	Value: "/",
}

func loadImageDevice(c *cli.Context) (*sdfat32.ImageDevice, error) {
	data, err := os.ReadFile(c.String("image"))
	if err != nil {
		return nil, fmt.Errorf("reading image: %w", err)
	}
	return sdfat32.NewImageDevice(data), nil
}

// cdPath walks vol's cursor down path (slash-delimited, relative to root)
// one element at a time via SetCurrentDirectory.
func cdPath(vol *sdfat32.Volume, cursor sdfat32.Cursor, path string) (sdfat32.Cursor, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return cursor, nil
	}
	for _, elem := range strings.Split(path, "/") {
		if err := vol.SetCurrentDirectory(&cursor, elem); err != nil {
			return cursor, err
		}
	}
	return cursor, nil
}

var mountCmd = &cli.Command{
	Name:  "mount",
	Usage: "locate and validate the boot sector, print the derived geometry",
	Flags: []cli.Flag{imageFlag},
	Action: func(c *cli.Context) error {
		dev, err := loadImageDevice(c)
		if err != nil {
			return err
		}
		vol, cursor, err := sdfat32.Mount(dev)
		if err != nil {
			return err
		}
		fmt.Printf("bytesPerSector=%d sectorsPerCluster=%d reservedSectors=%d numberOfFATs=%d fatSize32=%d rootCluster=%d dataRegionFirstSector=%d\n",
			vol.BPB.BytesPerSector, vol.BPB.SectorsPerCluster, vol.BPB.ReservedSectorCount,
			vol.BPB.NumberOfFATs, vol.BPB.FATSize32, vol.BPB.RootCluster, vol.BPB.DataRegionFirstSector())
		fmt.Printf("root cursor: %s\n", cursor.LongName)
		return nil
	},
}

var lsCmd = &cli.Command{
	Name:  "ls",
	Usage: "list a directory",
	Flags: []cli.Flag{imageFlag, pathFlag,
		&cli.BoolFlag{Name: "hidden", Usage: "include hidden entries"},
		&cli.BoolFlag{Name: "csv", Usage: "write gocsv-formatted rows instead of the fixed columns"},
	},
	Action: func(c *cli.Context) error {
		dev, err := loadImageDevice(c)
		if err != nil {
			return err
		}
		vol, root, err := sdfat32.Mount(dev)
		if err != nil {
			return err
		}
		cursor, err := cdPath(vol, root, c.String("path"))
		if err != nil {
			return err
		}
		filter := sdfat32.DefaultFilter
		if c.Bool("hidden") {
			filter |= sdfat32.FilterHidden
		}
		if c.Bool("csv") {
			return vol.ListCurrentDirectoryCSV(cursor, filter, os.Stdout)
		}
		return vol.ListCurrentDirectory(cursor, filter, sdfat32.WriterSink{W: os.Stdout})
	},
}

var catCmd = &cli.Command{
	Name:      "cat",
	Usage:     "stream a file's contents (LF -> CRLF, NUL bytes dropped)",
	ArgsUsage: "FILENAME",
	Flags:     []cli.Flag{imageFlag, pathFlag},
	Action: func(c *cli.Context) error {
		name := c.Args().First()
		if name == "" {
			return cli.Exit("cat: FILENAME required", 1)
		}
		dev, err := loadImageDevice(c)
		if err != nil {
			return err
		}
		vol, root, err := sdfat32.Mount(dev)
		if err != nil {
			return err
		}
		cursor, err := cdPath(vol, root, c.String("path"))
		if err != nil {
			return err
		}
		return vol.PrintFile(cursor, name, sdfat32.WriterSink{W: os.Stdout})
	},
}

var diagnoseCmd = &cli.Command{
	Name:  "diagnose",
	Usage: "run every boot-sector validation check and report all failures",
	Flags: []cli.Flag{imageFlag},
	Action: func(c *cli.Context) error {
		dev, err := loadImageDevice(c)
		if err != nil {
			return err
		}
		var sector0 [512]byte
		if _, err := dev.ReadBlocks(sector0[:], 0); err != nil {
			return err
		}
		if err := sdfat32.Diagnostics(sector0[:]); err != nil {
			fmt.Println(err)
			return cli.Exit("", 1)
		}
		fmt.Println("boot sector OK")
		return nil
	},
}

// simBusFromImage preloads a SimBus's blocks from a flat image file, for the
// raw block-level commands: these drive an sdspi.Bus, not a BlockDevice, and
// SimBus is the only in-repo Bus implementation (real hardware bring-up is
// out of scope per spec §1).
func simBusFromImage(path string) (*sdspi.SimBus, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	bus := sdspi.NewSimBus()
	for lba := 0; (lba+1)*512 <= len(data); lba++ {
		var block [512]byte
		copy(block[:], data[lba*512:(lba+1)*512])
		bus.SetBlock(uint32(lba), block)
	}
	return bus, nil
}

var readBlockCmd = &cli.Command{
	Name:      "readblock",
	Usage:     "read one 512-byte block from a simulated card and hex-dump it",
	ArgsUsage: "LBA",
	Flags:     []cli.Flag{imageFlag},
	Action: func(c *cli.Context) error {
		lba, err := strconv.ParseUint(c.Args().First(), 10, 32)
		if err != nil {
			return cli.Exit("readblock: LBA must be a non-negative integer", 1)
		}
		bus, err := simBusFromImage(c.String("image"))
		if err != nil {
			return err
		}
		card := sdspi.NewCard(bus)
		var buf [512]byte
		if err := card.ReadSingleBlock(uint32(lba), &buf); err != nil {
			return err
		}
		fmt.Print(hex.Dump(buf[:]))
		return nil
	},
}

var writeBlockCmd = &cli.Command{
	Name:      "writeblock",
	Usage:     "write a hex-encoded 512-byte block to a simulated card",
	ArgsUsage: "LBA HEXDATA",
	Flags:     []cli.Flag{imageFlag},
	Action: func(c *cli.Context) error {
		args := c.Args()
		if args.Len() < 2 {
			return cli.Exit("writeblock: LBA and HEXDATA required", 1)
		}
		lba, err := strconv.ParseUint(args.Get(0), 10, 32)
		if err != nil {
			return cli.Exit("writeblock: LBA must be a non-negative integer", 1)
		}
		raw, err := hex.DecodeString(args.Get(1))
		if err != nil {
			return fmt.Errorf("decoding HEXDATA: %w", err)
		}
		var buf [512]byte
		copy(buf[:], raw)
		bus, err := simBusFromImage(c.String("image"))
		if err != nil {
			return err
		}
		card := sdspi.NewCard(bus)
		return card.WriteSingleBlock(uint32(lba), &buf)
	},
}

var eraseCmd = &cli.Command{
	Name:      "erase",
	Usage:     "erase an inclusive block range on a simulated card",
	ArgsUsage: "START END",
	Flags:     []cli.Flag{imageFlag},
	Action: func(c *cli.Context) error {
		args := c.Args()
		if args.Len() < 2 {
			return cli.Exit("erase: START and END required", 1)
		}
		start, err := strconv.ParseUint(args.Get(0), 10, 32)
		if err != nil {
			return cli.Exit("erase: START must be a non-negative integer", 1)
		}
		end, err := strconv.ParseUint(args.Get(1), 10, 32)
		if err != nil {
			return cli.Exit("erase: END must be a non-negative integer", 1)
		}
		bus, err := simBusFromImage(c.String("image"))
		if err != nil {
			return err
		}
		card := sdspi.NewCard(bus)
		return card.EraseBlocks(uint32(start), uint32(end))
	},
}

var wellWrittenCmd = &cli.Command{
	Name:  "wellwritten",
	Usage: "query the well-written-block count from the last multi-block write",
	Flags: []cli.Flag{imageFlag},
	Action: func(c *cli.Context) error {
		bus, err := simBusFromImage(c.String("image"))
		if err != nil {
			return err
		}
		card := sdspi.NewCard(bus)
		n, err := card.GetWellWrittenBlockCount()
		if err != nil {
			return err
		}
		fmt.Println(n)
		return nil
	},
}
