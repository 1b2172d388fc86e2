package cli

func runDiagnostics(a *App, args []string) int {
	if len(args) != 1 || (args[0] != "get" && args[0] != "show") {
		return a.usageError("usage: diagnostics get")
	}

	ctx, cancel := a.reqCtx()
	defer cancel()
	c, code := a.connect(ctx)
	if code != ExitOK {
		return code
	}
	defer c.Close()

	result, err := c.Call(ctx, "diagnostics_get", nil)
	if err != nil {
		return a.fail(err)
	}
	a.printResult(result)
	return ExitOK
}
