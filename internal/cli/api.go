package cli

import "encoding/json"

func runAPI(a *App, args []string) int {
	if len(args) != 1 {
		return a.usageError("usage: api ping|version")
	}

	ctx, cancel := a.reqCtx()
	defer cancel()
	c, code := a.connect(ctx)
	if code != ExitOK {
		return code
	}
	defer c.Close()

	switch args[0] {
	case "ping":
		pong, err := c.Ping(ctx)
		if err != nil {
			return a.fail(err)
		}
		if a.cfg.Quiet {
			raw, _ := json.Marshal(pong)
			a.printResult(raw)
		} else {
			a.printOK("%s", pong)
		}
		return ExitOK
	case "version":
		result, err := c.Call(ctx, "api_version", nil)
		if err != nil {
			return a.fail(err)
		}
		a.printResult(result)
		return ExitOK
	default:
		return a.usageError("unknown api command %q", args[0])
	}
}
