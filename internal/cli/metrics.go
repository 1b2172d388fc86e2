package cli

import "flag"

func runMetrics(a *App, args []string) int {
	if len(args) == 0 {
		return a.usageError("usage: metrics show | metrics subscribe [-i MS] [--for DURATION]")
	}

	fs := flag.NewFlagSet("metrics "+args[0], flag.ContinueOnError)
	fs.SetOutput(a.Stderr)
	interval := fs.Int("i", 1000, "update interval in milliseconds")
	dwell := fs.Duration("for", 0, "stop after this long (default: until interrupt)")
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

	params := map[string]any{"interval": *interval}
	switch args[0] {
	case "show":
		// One reading: subscribe, print the first update, unsubscribe. Keep
		// the interval short so show does not sit idle for a second.
		params["interval"] = 100
		return a.listen(c, listenOpts{
			method:      "metrics_subscribe",
			unsubscribe: "metrics_unsubscribe",
			params:      params,
			count:       1,
			dwell:       a.timeout(),
		})
	case "subscribe":
		return a.listen(c, listenOpts{
			method:      "metrics_subscribe",
			unsubscribe: "metrics_unsubscribe",
			params:      params,
			dwell:       *dwell,
		})
	default:
		return a.usageError("unknown metrics command %q", args[0])
	}
}
