// Silk links one or more SIMOBJ object files into a ROM or disk image.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/aldenwood/simulatron/internal/link"
	"github.com/aldenwood/simulatron/internal/log"
	"github.com/aldenwood/simulatron/internal/objfile"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr *os.File) int {
	fs := flag.NewFlagSet("silk", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		target  string
		output  string
		verbose int
	)

	fs.StringVar(&target, "t", "", "link target: ROM or DISK")
	fs.StringVar(&target, "target", "", "link target: ROM or DISK")
	fs.StringVar(&output, "o", "", "output path (default: stdout)")
	fs.StringVar(&output, "output", "", "output path (default: stdout)")
	fs.BoolFunc("v", "increase verbosity, up to three times", func(string) error {
		verbose++
		return nil
	})

	if err := fs.Parse(args); err != nil {
		return 1
	}

	objPaths := fs.Args()

	t, err := parseTarget(target)
	if err != nil {
		fmt.Fprintln(stderr, "silk:", err)
		return 1
	}
	if len(objPaths) == 0 {
		fmt.Fprintln(stderr, "silk: no object files given")
		return 1
	}
	if verbose > 3 {
		verbose = 3
	}
	if link.Verbosity(verbose) >= link.VerbosityRename {
		// Rename and relocation notices are logged at debug level.
		log.LogLevel.Set(log.Debug)
	}

	l := link.New(link.Verbosity(verbose))

	for _, p := range objPaths {
		f, err := os.Open(p)
		if err != nil {
			fmt.Fprintln(stderr, "silk:", err)
			return 1
		}

		obj, err := objfile.Parse(f)
		f.Close()
		if err != nil {
			fmt.Fprintf(stderr, "silk: %s: %s\n", p, err)
			return 1
		}

		if err := l.Merge(p, obj); err != nil {
			fmt.Fprintln(stderr, "silk:", err)
			return 1
		}
	}

	base := uint32(0)
	if t == link.TargetROM {
		base = 0x0040
	}

	image, err := l.Image(t, base)
	if err != nil {
		fmt.Fprintln(stderr, "silk:", err)
		return 1
	}

	if output == "" {
		if _, err := stdout.Write(image); err != nil {
			fmt.Fprintln(stderr, "silk:", err)
			return 1
		}
		return 0
	}

	if err := writeImage(output, image); err != nil {
		fmt.Fprintln(stderr, "silk:", err)
		return 1
	}

	return 0
}

func parseTarget(s string) (link.Target, error) {
	switch strings.ToUpper(s) {
	case "ROM":
		return link.TargetROM, nil
	case "DISK":
		return link.TargetDisk, nil
	default:
		return 0, errors.New("-t|--target must be ROM or DISK")
	}
}

// writeImage writes to a temporary file in the same directory, then
// renames it into place, so a failed write never leaves a partial output
// file at the requested path.
func writeImage(path string, image []byte) error {
	tmp, err := os.CreateTemp(dirOf(path), ".silk-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(image); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), path)
}

func dirOf(path string) string {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return "."
	}
	return path[:i]
}
