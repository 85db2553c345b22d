// Command afatfsctl is a small demo driver for the afatfs package: it mounts
// a raw FAT16/FAT32 image file and runs one of a few commands against it,
// polling the filesystem to completion itself so callers don't need to
// write their own event loop.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/asyncfatfs/afatfs"
	"github.com/asyncfatfs/afatfs/simulator"
)

func main() {
	app := cli.App{
		Usage: "Inspect and manipulate FAT16/FAT32 images",
		Commands: []*cli.Command{
			{
				Name:      "ls",
				Usage:     "List the contents of the current directory",
				ArgsUsage: "IMAGE",
				Action:    runLs,
			},
			{
				Name:      "cat",
				Usage:     "Print a file's contents to stdout",
				ArgsUsage: "IMAGE PATH",
				Action:    runCat,
			},
			{
				Name:      "put",
				Usage:     "Copy a local file into the image",
				ArgsUsage: "IMAGE PATH LOCALFILE",
				Action:    runPut,
			},
			{
				Name:      "mkdir",
				Usage:     "Create a directory in the image",
				ArgsUsage: "IMAGE PATH",
				Action:    runMkdir,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("afatfsctl: %s", err)
	}
}

// mountImage loads IMAGE from disk and drives mount to completion.
func mountImage(path string) (*afatfs.Filesystem, *simulator.Device, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	device, err := simulator.NewFromImage(raw)
	if err != nil {
		return nil, nil, err
	}

	fs := afatfs.Mount(device, afatfs.MountOptions{EnableFreefile: true})
	for fs.State() == afatfs.StateInitializing {
		fs.Poll()
	}
	if fs.State() == afatfs.StateFatal {
		return nil, nil, fmt.Errorf("mount failed: %s", fs.FatalError().Error())
	}
	return fs, device, nil
}

// drainUntil polls fs until done reports true.
func drainUntil(fs *afatfs.Filesystem, done *bool) {
	for !*done {
		fs.Poll()
	}
}

func persistAndClose(fs *afatfs.Filesystem, device *simulator.Device, path string) error {
	for !fs.Destroy() {
		fs.Poll()
	}
	return os.WriteFile(path, device.Image(), 0o644)
}

func runLs(c *cli.Context) error {
	if c.Args().Len() < 1 {
		return fmt.Errorf("usage: afatfsctl ls IMAGE")
	}
	fs, device, err := mountImage(c.Args().Get(0))
	if err != nil {
		return err
	}

	id := fs.CurrentDirectory()

	buf := make([]byte, 32)
	for {
		var done bool
		var n int
		var readErr error
		fs.Fread(id, buf, func(count int, e error) {
			n, readErr, done = count, e, true
		})
		drainUntil(fs, &done)
		if readErr != nil || n == 0 {
			break
		}
		if buf[0] != 0 && buf[0] != 0xE5 {
			fmt.Println(string(buf[0:11]))
		}
	}

	return persistAndClose(fs, device, c.Args().Get(0))
}

func runCat(c *cli.Context) error {
	if c.Args().Len() < 2 {
		return fmt.Errorf("usage: afatfsctl cat IMAGE PATH")
	}
	fs, device, err := mountImage(c.Args().Get(0))
	if err != nil {
		return err
	}

	var opened bool
	var openErr error
	var id afatfs.FileID
	fs.Fopen(c.Args().Get(1), afatfs.OpenRead, func(newID afatfs.FileID, e error) {
		id, openErr, opened = newID, e, true
	})
	drainUntil(fs, &opened)
	if openErr != nil {
		return openErr
	}

	buf := make([]byte, 512)
	for {
		var done bool
		var n int
		var readErr error
		fs.Fread(id, buf, func(count int, e error) {
			n, readErr, done = count, e, true
		})
		drainUntil(fs, &done)
		if n > 0 {
			os.Stdout.Write(buf[:n])
		}
		if readErr != nil || n == 0 {
			break
		}
	}

	fs.Fclose(id, func(error) {})
	return persistAndClose(fs, device, c.Args().Get(0))
}

func runPut(c *cli.Context) error {
	if c.Args().Len() < 3 {
		return fmt.Errorf("usage: afatfsctl put IMAGE PATH LOCALFILE")
	}
	fs, device, err := mountImage(c.Args().Get(0))
	if err != nil {
		return err
	}

	contents, err := os.ReadFile(c.Args().Get(2))
	if err != nil {
		return err
	}

	var opened bool
	var openErr error
	var id afatfs.FileID
	fs.Fopen(c.Args().Get(1), afatfs.OpenWrite|afatfs.OpenCreate|afatfs.OpenTruncate, func(newID afatfs.FileID, e error) {
		id, openErr, opened = newID, e, true
	})
	drainUntil(fs, &opened)
	if openErr != nil {
		return openErr
	}

	var written bool
	var writeErr error
	fs.Fwrite(id, contents, func(n int, e error) {
		written, writeErr = true, e
	})
	drainUntil(fs, &written)
	if writeErr != nil {
		return writeErr
	}

	fs.Fclose(id, func(error) {})
	return persistAndClose(fs, device, c.Args().Get(0))
}

func runMkdir(c *cli.Context) error {
	if c.Args().Len() < 2 {
		return fmt.Errorf("usage: afatfsctl mkdir IMAGE PATH")
	}
	fs, device, err := mountImage(c.Args().Get(0))
	if err != nil {
		return err
	}

	var done bool
	var mkdirErr error
	fs.Mkdir(c.Args().Get(1), func(e error) {
		mkdirErr, done = e, true
	})
	drainUntil(fs, &done)
	if mkdirErr != nil {
		return mkdirErr
	}

	return persistAndClose(fs, device, c.Args().Get(0))
}
