// Package main provides fsbroker-seed, a tool to seed a project tree of
// source-like files for benchmarking the broker's read/edit/search paths.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"

	flag "github.com/spf13/pflag"

	"github.com/agentfs/broker/internal/clihost"
)

func main() {
	var (
		root  = flag.String("root", filepath.Join(os.TempDir(), "fsbroker-bench"), "root directory to seed")
		count = flag.Int("count", 1000, "number of files to generate")
		lines = flag.Int("lines", 40, "lines per file")
	)

	flag.Usage = func() {
		fmt.Fprint(os.Stderr, "Usage: fsbroker-seed [flags]\n\n")
		fmt.Fprint(os.Stderr, "Seeds -root with -count source-like files for fsbroker-bench.\n\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	o := clihost.NewIO(os.Stdout, os.Stderr)

	failed, err := seedTree(*root, *count, *lines)
	if err != nil {
		o.ErrPrintln("error:", err)
		os.Exit(1)
	}

	for _, f := range failed {
		o.WarnLLM(fmt.Sprintf("failed to seed file %d", f.index), "re-run fsbroker-seed; "+f.err.Error())
	}

	o.Printf("seeded %d files under %s\n", *count-len(failed), *root)
	os.Exit(o.Finish())
}

type seedFailure struct {
	index int
	err   error
}

var extensions = []string{".go", ".py", ".md", ".txt", ".json"}

func seedTree(root string, count, linesPerFile int) ([]seedFailure, error) {
	_ = os.RemoveAll(root)

	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("creating root: %w", err)
	}

	numWorkers := runtime.NumCPU()
	indexCh := make(chan int, numWorkers*2)
	failCh := make(chan seedFailure, numWorkers)

	var wg sync.WaitGroup

	for range numWorkers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for i := range indexCh {
				if err := writeSeedFile(root, i, linesPerFile); err != nil {
					failCh <- seedFailure{index: i, err: err}
				}
			}
		}()
	}

	go func() {
		for i := 1; i <= count; i++ {
			indexCh <- i
		}

		close(indexCh)
	}()

	go func() {
		wg.Wait()
		close(failCh)
	}()

	var failed []seedFailure
	for f := range failCh {
		failed = append(failed, f)
	}

	return failed, nil
}

func writeSeedFile(root string, i, linesPerFile int) error {
	// Spread files across a few nested directories so list/find/grep have
	// a real tree to walk instead of one flat directory.
	dir := filepath.Join(root, "pkg", strconv.Itoa(i%20))

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}

	ext := extensions[i%len(extensions)]
	name := fmt.Sprintf("file_%06d%s", i, ext)

	var body strings.Builder

	for line := 1; line <= linesPerFile; line++ {
		if line%13 == 0 {
			fmt.Fprintf(&body, "// TODO(seed): revisit line %d of file %d\n", line, i)

			continue
		}

		fmt.Fprintf(&body, "line %d of seeded file %d\n", line, i)
	}

	return os.WriteFile(filepath.Join(dir, name), []byte(body.String()), 0o600)
}
