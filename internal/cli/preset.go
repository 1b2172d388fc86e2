package cli

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
)

func runPreset(a *App, args []string) int {
	if len(args) == 0 {
		return a.usageError("usage: preset create|show|clear|apply --channel N ...")
	}
	cmd := args[0]

	fs := flag.NewFlagSet("preset "+cmd, flag.ContinueOnError)
	fs.SetOutput(a.Stderr)
	channel := fs.Int("channel", 0, "speaker channel (1..4)")
	name := fs.String("name", "", "preset name")
	file := fs.String("f", "", "preset file")
	if err := fs.Parse(args[1:]); err != nil {
		return ExitUsage
	}
	if *channel < 1 || *channel > 4 {
		return a.usageError("preset %s: --channel must be 1..4", cmd)
	}

	ctx, cancel := a.reqCtx()
	defer cancel()
	c, code := a.connect(ctx)
	if code != ExitOK {
		return code
	}
	defer c.Close()

	switch cmd {
	case "create":
		// Snapshot the channel's running preset, optionally to a file.
		params := map[string]any{"channel": *channel}
		if *name != "" {
			params["name"] = *name
		}
		result, err := c.Call(ctx, "preset_create", params)
		if err != nil {
			return a.fail(err)
		}
		if *file != "" {
			if err := os.WriteFile(*file, append([]byte(result), '\n'), 0o644); err != nil {
				return a.fail(fmt.Errorf("write preset file: %w", err))
			}
			a.printOK("preset for channel %d written to %s", *channel, *file)
			return ExitOK
		}
		a.printResult(result)
		return ExitOK

	case "show":
		result, err := c.Call(ctx, "preset_show", map[string]any{"channel": *channel})
		if err != nil {
			return a.fail(err)
		}
		a.printResult(result)
		return ExitOK

	case "clear":
		if _, err := c.Call(ctx, "preset_clear", map[string]any{"channel": *channel}); err != nil {
			return a.fail(err)
		}
		a.printOK("preset cleared on channel %d", *channel)
		return ExitOK

	case "apply":
		if *file == "" {
			return a.usageError("preset apply: -f FILE is required")
		}
		data, err := os.ReadFile(*file)
		if err != nil {
			return a.fail(fmt.Errorf("read preset file: %w", err))
		}
		// Accept both a bare preset object and the preset_create envelope.
		var envelope struct {
			Preset json.RawMessage `json:"preset"`
		}
		preset := json.RawMessage(data)
		if err := json.Unmarshal(data, &envelope); err == nil && len(envelope.Preset) > 0 {
			preset = envelope.Preset
		}
		params := map[string]any{"channel": *channel, "preset": preset}
		if _, err := c.Call(ctx, "preset_apply", params); err != nil {
			return a.fail(err)
		}
		a.printOK("preset applied to channel %d", *channel)
		return ExitOK

	default:
		return a.usageError("unknown preset command %q", cmd)
	}
}
