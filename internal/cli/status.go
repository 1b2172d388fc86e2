package cli

import "flag"

// statusSections maps `status get <section>` to the status tree.
var statusSections = map[string]string{
	"info":     "/info",
	"state":    "/state",
	"network":  "/network",
	"audio":    "/audio",
	"firmware": "/firmware",
}

func runStatus(a *App, args []string) int {
	if len(args) == 0 {
		return a.usageError("usage: status get all|info|state|network|audio|firmware | status subscribe")
	}
	switch args[0] {
	case "get":
		return a.statusGet(args[1:])
	case "all":
		return a.statusGet([]string{"all"})
	case "subscribe":
		return a.statusSubscribe(args[1:])
	default:
		return a.usageError("unknown status command %q", args[0])
	}
}

func (a *App) statusGet(args []string) int {
	if len(args) != 1 {
		return a.usageError("usage: status get all|info|state|network|audio|firmware")
	}

	ctx, cancel := a.reqCtx()
	defer cancel()
	c, code := a.connect(ctx)
	if code != ExitOK {
		return code
	}
	defer c.Close()

	if args[0] == "all" {
		result, err := c.Call(ctx, "status_get_all", nil)
		if err != nil {
			return a.fail(err)
		}
		a.printResult(result)
		return ExitOK
	}

	path, ok := statusSections[args[0]]
	if !ok {
		return a.usageError("unknown status section %q", args[0])
	}
	result, err := c.StatusGet(ctx, path)
	if err != nil {
		return a.fail(err)
	}
	a.printResult(result)
	return ExitOK
}

func (a *App) statusSubscribe(args []string) int {
	fs := flag.NewFlagSet("status subscribe", flag.ContinueOnError)
	fs.SetOutput(a.Stderr)
	dwell := fs.Duration("for", 0, "stop after this long (default: until interrupt)")
	if err := fs.Parse(args); err != nil {
		return ExitUsage
	}

	ctx, cancel := a.reqCtx()
	defer cancel()
	c, code := a.connect(ctx)
	if code != ExitOK {
		return code
	}
	defer c.Close()

	return a.listen(c, listenOpts{
		method:      "status_subscribe",
		unsubscribe: "status_unsubscribe",
		dwell:       *dwell,
	})
}
