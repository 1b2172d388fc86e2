package cli

import (
	"flag"
	"fmt"
	"strings"
	"text/tabwriter"
)

func runSetup(a *App, args []string) int {
	if len(args) == 0 {
		return a.usageError("usage: setup get|set|list|subscribe|batch ...")
	}
	switch args[0] {
	case "get":
		return a.setupGet(args[1:])
	case "set":
		return a.setupSet(args[1:])
	case "list":
		return a.setupList()
	case "subscribe":
		return a.setupSubscribe(args[1:])
	case "batch":
		return a.setupBatch(args[1:])
	default:
		return a.usageError("unknown setup command %q", args[0])
	}
}

// resolveResource parses the per-resource flags (--channel, --band, ...) and
// expands the path template. Remaining args are returned for set to consume.
func (a *App) resolveResource(name string, args []string) (resource, string, []string, error) {
	res, ok := findResource(name)
	if !ok {
		return resource{}, "", nil, fmt.Errorf("unknown resource %q (see: pxctl setup list)", name)
	}

	fs := flag.NewFlagSet("setup "+name, flag.ContinueOnError)
	fs.SetOutput(a.Stderr)
	values := map[string]*int{}
	for _, ra := range res.args {
		values[ra.name] = fs.Int(ra.name, 0, fmt.Sprintf("%s number (%d..%d)", ra.name, ra.min, ra.max))
	}
	if err := fs.Parse(args); err != nil {
		return resource{}, "", nil, err
	}

	resolved := make(map[string]int, len(values))
	for name, v := range values {
		resolved[name] = *v
	}
	path, err := res.expandPath(resolved)
	if err != nil {
		return resource{}, "", nil, err
	}
	return res, path, fs.Args(), nil
}

func (a *App) setupGet(args []string) int {
	if len(args) == 0 {
		return a.usageError("usage: setup get all | setup get <resource> [--channel N] ...")
	}

	ctx, cancel := a.reqCtx()
	defer cancel()
	c, code := a.connect(ctx)
	if code != ExitOK {
		return code
	}
	defer c.Close()

	if args[0] == "all" {
		result, err := c.SetupGetAll(ctx)
		if err != nil {
			return a.fail(err)
		}
		a.printResult(result)
		return ExitOK
	}

	_, path, rest, err := a.resolveResource(args[0], args[1:])
	if err != nil {
		return a.usageError("%v", err)
	}
	if len(rest) != 0 {
		return a.usageError("unexpected arguments after setup get: %s", strings.Join(rest, " "))
	}

	result, err := c.SetupGet(ctx, path)
	if err != nil {
		return a.fail(err)
	}
	a.printResult(result)
	return ExitOK
}

func (a *App) setupSet(args []string) int {
	if len(args) == 0 {
		return a.usageError("usage: setup set <resource> [--channel N] key=value ...")
	}
	res, path, pairs, err := a.resolveResource(args[0], args[1:])
	if err != nil {
		return a.usageError("%v", err)
	}
	value, err := res.buildValue(pairs)
	if err != nil {
		return a.usageError("%v", err)
	}

	ctx, cancel := a.reqCtx()
	defer cancel()
	c, code := a.connect(ctx)
	if code != ExitOK {
		return code
	}
	defer c.Close()

	if err := c.SetupSet(ctx, path, value); err != nil {
		return a.fail(err)
	}
	a.printOK("set %s", path)
	return ExitOK
}

func (a *App) setupList() int {
	w := tabwriter.NewWriter(a.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RESOURCE\tPATH\tFIELDS")
	for _, r := range setupResources {
		var fields []string
		for _, f := range r.fields {
			if f.kind == kindEnum {
				fields = append(fields, f.name+"="+strings.Join(f.enum, "|"))
			} else {
				fields = append(fields, f.name)
			}
		}
		desc := strings.Join(fields, " ")
		if desc == "" {
			desc = "(read-only)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.name, r.path, desc)
	}
	w.Flush()
	return ExitOK
}

func (a *App) setupSubscribe(args []string) int {
	fs := flag.NewFlagSet("setup subscribe", flag.ContinueOnError)
	fs.SetOutput(a.Stderr)
	dwell := fs.Duration("for", 0, "stop after this long (default: until interrupt)")
	if err := fs.Parse(args); err != nil {
		return ExitUsage
	}

	var params any
	if paths := fs.Args(); len(paths) > 0 {
		for _, p := range paths {
			if !strings.HasPrefix(p, "/") {
				return a.usageError("subscription path %q must start with /", p)
			}
		}
		params = map[string]any{"paths": paths}
	}

	ctx, cancel := a.reqCtx()
	defer cancel()
	c, code := a.connect(ctx)
	if code != ExitOK {
		return code
	}
	defer c.Close()

	return a.listen(c, listenOpts{
		method:      "setup_subscribe",
		unsubscribe: "setup_unsubscribe",
		params:      params,
		dwell:       *dwell,
	})
}

func (a *App) setupBatch(args []string) int {
	if len(args) == 0 {
		return a.usageError("usage: setup batch create|apply -f FILE")
	}
	fs := flag.NewFlagSet("setup batch "+args[0], flag.ContinueOnError)
	fs.SetOutput(a.Stderr)
	file := fs.String("f", "", "batch file path")
	if err := fs.Parse(args[1:]); err != nil {
		return ExitUsage
	}
	if *file == "" {
		return a.usageError("setup batch %s: -f FILE is required", args[0])
	}

	switch args[0] {
	case "create":
		return a.batchCreate(*file)
	case "apply":
		return a.batchApply(*file)
	default:
		return a.usageError("unknown setup batch command %q", args[0])
	}
}
