// Package cli implements the pxctl command tree. Every command group is a
// small dispatcher over path/method tables; the heavy lifting happens in
// pkg/pxclient.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pxaudio/pxctl/internal/config"
	"github.com/pxaudio/pxctl/pkg/jrpc"
	"github.com/pxaudio/pxctl/pkg/pxclient"
)

// Exit codes reported to the shell.
const (
	ExitOK      = 0
	ExitUsage   = 2
	ExitConnect = 3
	ExitRPC     = 4
	ExitTimeout = 5
)

// App carries the resolved configuration and output streams for one
// invocation.
type App struct {
	Stdout io.Writer
	Stderr io.Writer

	log *logrus.Logger
	cfg *config.Config
}

func New() *App {
	return &App{Stdout: os.Stdout, Stderr: os.Stderr}
}

type groupFunc func(a *App, args []string) int

var groups = map[string]groupFunc{
	"api":         runAPI,
	"setup":       runSetup,
	"device":      runDevice,
	"status":      runStatus,
	"preset":      runPreset,
	"logs":        runLogs,
	"metrics":     runMetrics,
	"backup":      runBackup,
	"diagnostics": runDiagnostics,
}

// Run parses global flags, resolves configuration, and dispatches to a
// command group. The return value is the process exit code.
func (a *App) Run(args []string) int {
	fs := flag.NewFlagSet("pxctl", flag.ContinueOnError)
	fs.SetOutput(a.Stderr)

	var (
		targetS  = fs.String("t", "", "device address (shorthand)")
		targetL  = fs.String("target", "", "device address")
		portS    = fs.Int("p", 0, "device port (shorthand)")
		portL    = fs.Int("port", 0, "device port")
		timeout  = fs.Int("timeout", 0, "request timeout in milliseconds")
		cfgFile  = fs.String("config", "", "config file path")
		quietS   = fs.Bool("q", false, "print bare JSON results only (shorthand)")
		quietL   = fs.Bool("quiet", false, "print bare JSON results only")
		verboseS = fs.Bool("v", false, "log protocol traffic to stderr (shorthand)")
		verboseL = fs.Bool("verbose", false, "log protocol traffic to stderr")
	)
	fs.Usage = func() { a.printUsage(fs) }
	if err := fs.Parse(args); err != nil {
		return ExitUsage
	}

	var ov config.Overrides
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "t":
			ov.Target = targetS
		case "target":
			ov.Target = targetL
		case "p":
			ov.Port = portS
		case "port":
			ov.Port = portL
		case "timeout":
			ov.TimeoutMS = timeout
		case "q":
			ov.Quiet = quietS
		case "quiet":
			ov.Quiet = quietL
		case "v":
			ov.Verbose = verboseS
		case "verbose":
			ov.Verbose = verboseL
		}
	})

	cfg, err := config.Load(*cfgFile, ov)
	if err != nil {
		fmt.Fprintf(a.Stderr, "pxctl: %v\n", err)
		return ExitUsage
	}
	a.cfg = cfg
	a.log = newLogger(cfg, a.Stderr)

	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return ExitUsage
	}
	group, ok := groups[rest[0]]
	if !ok {
		fmt.Fprintf(a.Stderr, "pxctl: unknown command %q\n", rest[0])
		fs.Usage()
		return ExitUsage
	}
	return group(a, rest[1:])
}

func newLogger(cfg *config.Config, stderr io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(stderr)
	if cfg.Verbose {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.WarnLevel)
	}
	return log
}

func (a *App) printUsage(fs *flag.FlagSet) {
	fmt.Fprint(a.Stderr, `usage: pxctl [flags] <command> [args]

commands:
  api          ping, version
  setup        get, set, list, subscribe
  device       reboot, reset, power, find-me, time, firmware
  status       get, all, subscribe
  preset       create, show, clear, apply
  logs         get, level
  metrics      show, subscribe
  backup       create, restore
  diagnostics  show

flags:
`)
	fs.PrintDefaults()
}

// timeout returns the per-request deadline from the resolved config.
func (a *App) timeout() time.Duration {
	return time.Duration(a.cfg.TimeoutMS) * time.Millisecond
}

func (a *App) reqCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), a.timeout())
}

func (a *App) dial(ctx context.Context) (*pxclient.Client, error) {
	return pxclient.Dial(ctx, a.cfg.Target, a.cfg.Port, pxclient.WithLogger(a.log))
}

// connect dials the device, mapping failure to an exit code. A non-nil
// client must be closed by the caller.
func (a *App) connect(ctx context.Context) (*pxclient.Client, int) {
	c, err := a.dial(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			fmt.Fprintf(a.Stderr, "pxctl: connect to %s:%d timed out\n", a.cfg.Target, a.cfg.Port)
			return nil, ExitTimeout
		}
		fmt.Fprintf(a.Stderr, "pxctl: connect to %s:%d: %v\n", a.cfg.Target, a.cfg.Port, err)
		return nil, ExitConnect
	}
	return c, ExitOK
}

// fail prints err and classifies it into an exit code. Quiet mode gets
// device errors as machine-readable JSON on stdout.
func (a *App) fail(err error) int {
	var rpcErr *jrpc.RPCError
	if a.cfg.Quiet && errors.As(err, &rpcErr) {
		if line, merr := json.Marshal(map[string]any{"error": rpcErr}); merr == nil {
			fmt.Fprintln(a.Stdout, string(line))
		}
	}
	fmt.Fprintf(a.Stderr, "pxctl: %v\n", err)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ExitTimeout
	case errors.Is(err, pxclient.ErrClosed):
		return ExitConnect
	default:
		return ExitRPC
	}
}

func (a *App) usageError(format string, args ...any) int {
	fmt.Fprintf(a.Stderr, "pxctl: "+format+"\n", args...)
	return ExitUsage
}
