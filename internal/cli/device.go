package cli

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pxaudio/pxctl/internal/firmware"
)

func runDevice(a *App, args []string) int {
	if len(args) == 0 {
		return a.usageError("usage: device reboot|reset|power-on|power-off|find-me|time|fwupd ...")
	}
	switch args[0] {
	case "reboot":
		return a.deviceConfirmedOp("device_reboot", "reboot the device", args[1:])
	case "reset":
		return a.deviceReset(args[1:])
	case "power-on":
		return a.deviceSimpleOp("device_power_on", nil)
	case "power-off":
		return a.deviceSimpleOp("device_power_off", nil)
	case "find-me":
		return a.deviceFindMe(args[1:])
	case "time":
		return a.deviceTime(args[1:])
	case "fwupd":
		return a.deviceFwupd(args[1:])
	default:
		return a.usageError("unknown device command %q", args[0])
	}
}

func (a *App) deviceSimpleOp(method string, params any) int {
	ctx, cancel := a.reqCtx()
	defer cancel()
	c, code := a.connect(ctx)
	if code != ExitOK {
		return code
	}
	defer c.Close()

	if _, err := c.Call(ctx, method, params); err != nil {
		return a.fail(err)
	}
	a.printOK("ok")
	return ExitOK
}

// confirm prompts on stdin unless -y was given or quiet mode is on.
func (a *App) confirm(action string, assumeYes bool) bool {
	if assumeYes || a.cfg.Quiet {
		return true
	}
	fmt.Fprintf(a.Stdout, "really %s? [y/N] ", action)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func (a *App) deviceConfirmedOp(method, action string, args []string) int {
	fs := flag.NewFlagSet("device "+method, flag.ContinueOnError)
	fs.SetOutput(a.Stderr)
	yes := fs.Bool("y", false, "skip confirmation")
	if err := fs.Parse(args); err != nil {
		return ExitUsage
	}
	if !a.confirm(action, *yes) {
		a.printOK("aborted")
		return ExitOK
	}
	return a.deviceSimpleOp(method, nil)
}

func (a *App) deviceReset(args []string) int {
	fs := flag.NewFlagSet("device reset", flag.ContinueOnError)
	fs.SetOutput(a.Stderr)
	yes := fs.Bool("y", false, "skip confirmation")
	preserveNet := fs.Bool("preserve-network", false, "keep network settings through the reset")
	if err := fs.Parse(args); err != nil {
		return ExitUsage
	}
	if !a.confirm("factory-reset the device", *yes) {
		a.printOK("aborted")
		return ExitOK
	}
	var params any
	if *preserveNet {
		params = map[string]any{"preserve_network": true}
	}
	return a.deviceSimpleOp("device_reset", params)
}

func (a *App) deviceFindMe(args []string) int {
	fs := flag.NewFlagSet("device find-me", flag.ContinueOnError)
	fs.SetOutput(a.Stderr)
	timeoutSec := fs.Float64("t", 30, "how long the device should blink, in seconds (0 stops)")
	if err := fs.Parse(args); err != nil {
		return ExitUsage
	}
	return a.deviceSimpleOp("device_find_me", map[string]any{"timeout_sec": *timeoutSec})
}

func (a *App) deviceTime(args []string) int {
	if len(args) == 0 {
		return a.usageError("usage: device time show|set [-t RFC3339]")
	}
	switch args[0] {
	case "show":
		ctx, cancel := a.reqCtx()
		defer cancel()
		c, code := a.connect(ctx)
		if code != ExitOK {
			return code
		}
		defer c.Close()

		result, err := c.Call(ctx, "device_get_time", nil)
		if err != nil {
			return a.fail(err)
		}
		a.printResult(result)
		return ExitOK
	case "set":
		fs := flag.NewFlagSet("device time set", flag.ContinueOnError)
		fs.SetOutput(a.Stderr)
		// Default to the controller's clock, the common case in the field.
		stamp := fs.String("t", time.Now().UTC().Format(time.RFC3339), "RFC3339 timestamp")
		if err := fs.Parse(args[1:]); err != nil {
			return ExitUsage
		}
		if _, err := time.Parse(time.RFC3339, *stamp); err != nil {
			return a.usageError("bad timestamp %q: %v", *stamp, err)
		}
		return a.deviceSimpleOp("device_set_time", map[string]any{"time": *stamp})
	default:
		return a.usageError("unknown device time command %q", args[0])
	}
}

func (a *App) deviceFwupd(args []string) int {
	fs := flag.NewFlagSet("device fwupd", flag.ContinueOnError)
	fs.SetOutput(a.Stderr)
	file := fs.String("f", "", "firmware image file")
	if err := fs.Parse(args); err != nil {
		return ExitUsage
	}
	if *file == "" {
		return a.usageError("device fwupd: -f FILE is required")
	}

	// Firmware images are large; allow ten times the normal request deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 10*a.timeout())
	defer cancel()

	up := firmware.NewUploader(a.log)
	if !a.cfg.Quiet {
		up.Progress = firmware.ConsoleProgress(a.Stdout)
	}
	n, err := up.Upload(ctx, a.cfg.Target, a.cfg.Port, *file)
	if err != nil {
		return a.fail(err)
	}
	a.printOK("uploaded %d bytes, device will apply on next reboot", n)
	return ExitOK
}
