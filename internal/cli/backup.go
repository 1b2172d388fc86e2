package cli

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/pxaudio/pxctl/internal/batch"
)

func runBackup(a *App, args []string) int {
	if len(args) == 0 {
		return a.usageError("usage: backup create [-f FILE] | backup restore -f FILE")
	}

	fs := flag.NewFlagSet("backup "+args[0], flag.ContinueOnError)
	fs.SetOutput(a.Stderr)
	file := fs.String("f", "", "backup file path")
	if err := fs.Parse(args[1:]); err != nil {
		return ExitUsage
	}

	ctx, cancel := a.reqCtx()
	defer cancel()
	c, code := a.connect(ctx)
	if code != ExitOK {
		return code
	}
	defer c.Close()

	switch args[0] {
	case "create":
		result, err := c.Call(ctx, "backup_create", nil)
		if err != nil {
			return a.fail(err)
		}
		if *file != "" {
			if err := os.WriteFile(*file, append([]byte(result), '\n'), 0o644); err != nil {
				return a.fail(fmt.Errorf("write backup file: %w", err))
			}
			a.printOK("backup written to %s", *file)
			return ExitOK
		}
		a.printResult(result)
		return ExitOK

	case "restore":
		if *file == "" {
			return a.usageError("backup restore: -f FILE is required")
		}
		data, err := os.ReadFile(*file)
		if err != nil {
			return a.fail(fmt.Errorf("read backup file: %w", err))
		}
		if !json.Valid(data) {
			return a.usageError("%s is not valid JSON", *file)
		}
		if _, err := c.Call(ctx, "backup_restore", json.RawMessage(data)); err != nil {
			return a.fail(err)
		}
		a.printOK("backup restored from %s", *file)
		return ExitOK

	default:
		return a.usageError("unknown backup command %q", args[0])
	}
}

// batchCreate snapshots the device setup into a line-oriented batch file.
func (a *App) batchCreate(file string) int {
	ctx, cancel := a.reqCtx()
	defer cancel()
	c, code := a.connect(ctx)
	if code != ExitOK {
		return code
	}
	defer c.Close()

	snapshot, err := c.SetupGetAll(ctx)
	if err != nil {
		return a.fail(err)
	}
	content, err := batch.Create(snapshot)
	if err != nil {
		return a.fail(err)
	}
	if err := os.WriteFile(file, content, 0o644); err != nil {
		return a.fail(fmt.Errorf("write batch file: %w", err))
	}
	a.printOK("setup written to %s", file)
	return ExitOK
}

// batchApply replays a batch file against the device.
func (a *App) batchApply(file string) int {
	f, err := os.Open(file)
	if err != nil {
		return a.usageError("open batch file: %v", err)
	}
	defer f.Close()

	entries, err := batch.Read(f)
	if err != nil {
		return a.usageError("%s: %v", file, err)
	}
	if len(entries) == 0 {
		a.printOK("%s: nothing to apply", file)
		return ExitOK
	}

	ctx, cancel := a.reqCtx()
	defer cancel()
	c, code := a.connect(ctx)
	if code != ExitOK {
		return code
	}
	defer c.Close()

	sum, err := batch.Apply(ctx, c, entries)
	if err != nil {
		return a.fail(err)
	}
	a.printOK("%s", sum)
	for _, failure := range sum.Failures {
		fmt.Fprintf(a.Stderr, "pxctl: line %d (%s): %v\n", failure.Line, failure.Method, failure.Err)
	}
	if sum.Failed > 0 {
		return ExitRPC
	}
	return ExitOK
}
