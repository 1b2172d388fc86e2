package cli

import (
	"flag"
	"strings"
)

func runLogs(a *App, args []string) int {
	if len(args) == 0 {
		return a.usageError("usage: logs get [--limit N] | logs set-level <level>")
	}
	switch args[0] {
	case "get":
		fs := flag.NewFlagSet("logs get", flag.ContinueOnError)
		fs.SetOutput(a.Stderr)
		limit := fs.Int("limit", 0, "only the most recent N entries")
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

		var params any
		if *limit > 0 {
			params = map[string]any{"limit": *limit}
		}
		result, err := c.Call(ctx, "logs_get", params)
		if err != nil {
			return a.fail(err)
		}
		a.printResult(result)
		return ExitOK

	case "set-level":
		if len(args) != 2 {
			return a.usageError("usage: logs set-level %s", strings.Join(logLevels, "|"))
		}
		level := args[1]
		valid := false
		for _, l := range logLevels {
			if level == l {
				valid = true
				break
			}
		}
		if !valid {
			return a.usageError("unknown log level %q (have %s)", level, strings.Join(logLevels, ", "))
		}

		ctx, cancel := a.reqCtx()
		defer cancel()
		c, code := a.connect(ctx)
		if code != ExitOK {
			return code
		}
		defer c.Close()

		if _, err := c.Call(ctx, "logs_set_level", map[string]any{"filter": level}); err != nil {
			return a.fail(err)
		}
		a.printOK("log level set to %s", level)
		return ExitOK

	default:
		return a.usageError("unknown logs command %q", args[0])
	}
}
