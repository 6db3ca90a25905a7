// Package main provides fsbroker-bench, an in-process micro-benchmark of
// the broker's read -> edit -> commit path against a seeded project tree.
//
// Unlike the teacher's cmd/tk-bench, which shells out to a built CLI binary
// under hyperfine, fsbroker-bench drives [broker.Context] directly: the
// broker is a library (spec.md §1 keeps the ToolHost/MCP layer out of
// scope), so there is no host binary to hyperfine against.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/agentfs/broker/internal/broker"
	"github.com/agentfs/broker/internal/clihost"
	"github.com/agentfs/broker/internal/config"
)

func main() {
	var (
		root    = flag.String("root", filepath.Join(os.TempDir(), "fsbroker-bench"), "seeded project root (see fsbroker-seed)")
		iters   = flag.Int("iters", 200, "iterations per scenario")
		outFile = flag.String("out", "", "markdown report path; empty prints to stdout")
	)

	flag.Usage = func() {
		fmt.Fprint(os.Stderr, "Usage: fsbroker-bench [flags]\n\n")
		fmt.Fprint(os.Stderr, "Benchmarks read/edit/list/grep against a tree seeded by fsbroker-seed.\n\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	o := clihost.NewIO(os.Stdout, os.Stderr)

	report, err := run(o, *root, *iters)
	if err != nil {
		o.ErrPrintln("error:", err)
		os.Exit(1)
	}

	if *outFile == "" {
		o.Printf("%s", report)
	} else if err := os.WriteFile(*outFile, []byte(report), 0o600); err != nil {
		o.ErrPrintln("failed to write report:", err)
		os.Exit(1)
	} else {
		o.ErrPrintln("wrote", *outFile)
	}

	os.Exit(o.Finish())
}

type scenarioResult struct {
	label string
	runs  int
	mean  time.Duration
	min   time.Duration
	max   time.Duration
}

func run(o *clihost.IO, root string, iters int) (string, error) {
	if _, err := os.Stat(root); err != nil {
		return "", fmt.Errorf("seeded root missing at %s; run fsbroker-seed first: %w", root, err)
	}

	c, err := broker.New(config.BrokerConfig{Roots: []string{root}})
	if err != nil {
		return "", fmt.Errorf("constructing broker context: %w", err)
	}

	ctx := context.Background()
	path := filepath.Join("pkg", "1", "file_000001.py")

	var results []scenarioResult

	results = append(results, timeScenario(o, "list (root)", iters, func() error {
		_, err := c.List(broker.ListRequest{Path: "."})
		return err
	}))

	results = append(results, timeScenario(o, "grep (TODO across tree)", iters, func() error {
		_, err := c.Grep(ctx, broker.GrepRequest{Path: ".", Query: "TODO"})
		return err
	}))

	results = append(results, timeScenario(o, "read+edit+commit (single line)", iters, func() error {
		resp, err := c.Read(ctx, broker.ReadRequest{
			Path:     path,
			Selector: broker.ReadSelector{StartLine: u32(1), EndLine: u32(1)},
		})
		if err != nil {
			return err
		}

		_, err = c.Edit(ctx, broker.EditRequest{
			Edits: []broker.FileEdit{{
				Path:        path,
				AccessToken: resp.Ranges[0].Token,
				Operations: []broker.EditOp{{
					Kind:    broker.OpReplace,
					Start:   1,
					End:     1,
					Content: fmt.Sprintf("line 1 of seeded file 1 (rewritten at %s)", time.Now().UTC().Format(time.RFC3339Nano)),
				}},
			}},
		})

		return err
	}))

	return renderReport(root, iters, results), nil
}

func timeScenario(o *clihost.IO, label string, iters int, fn func() error) scenarioResult {
	o.ErrPrintln("---", label, "---")

	res := scenarioResult{label: label, runs: iters}

	var total time.Duration

	var failures int

	for i := range iters {
		start := time.Now()

		if err := fn(); err != nil {
			failures++

			if failures <= 3 {
				o.WarnLLM(fmt.Sprintf("%s iteration %d failed", label, i), err.Error())
			}

			continue
		}

		elapsed := time.Since(start)
		total += elapsed

		if res.min == 0 || elapsed < res.min {
			res.min = elapsed
		}

		if elapsed > res.max {
			res.max = elapsed
		}
	}

	if completed := iters - failures; completed > 0 {
		res.mean = total / time.Duration(completed)
	}

	return res
}

func renderReport(root string, iters int, results []scenarioResult) string {
	var report string

	report += fmt.Sprintf("## fsbroker-bench run %s\n\n", time.Now().UTC().Format(time.RFC3339))
	report += fmt.Sprintf("- root: %s\n- iterations: %d\n\n", root, iters)
	report += "| Scenario | Runs | Mean | Min | Max |\n"
	report += "|:---|---:|---:|---:|---:|\n"

	for _, res := range results {
		report += fmt.Sprintf("| %s | %d | %s | %s | %s |\n",
			res.label, res.runs, res.mean, res.min, res.max)
	}

	return report
}

func u32(v uint32) *uint32 { return &v }
