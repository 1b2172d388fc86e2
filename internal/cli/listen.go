package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pxaudio/pxctl/pkg/jrpc"
	"github.com/pxaudio/pxctl/pkg/pxclient"
)

// listenOpts shapes a subscription listen loop.
type listenOpts struct {
	method      string // *_subscribe method
	unsubscribe string // matching *_unsubscribe method
	params      any
	// count stops the loop after that many notifications; 0 means run until
	// interrupted.
	count int
	// dwell caps the total listening time; 0 means no cap.
	dwell time.Duration
}

// listen subscribes, streams notifications to stdout until interrupted (or
// the count/dwell limit hits), then unsubscribes and closes cleanly.
func (a *App) listen(c *pxclient.Client, opts listenOpts) int {
	ctx, cancel := a.reqCtx()
	defer cancel()

	notes := make(chan jrpc.Notification, 64)
	subID, err := c.Subscribe(ctx, opts.method, opts.params, func(n jrpc.Notification) {
		select {
		case notes <- n:
		default:
			// Drop rather than stall the read loop; the device keeps sending.
		}
	})
	if err != nil {
		return a.fail(fmt.Errorf("%s: %w", opts.method, err))
	}
	if !a.cfg.Quiet {
		fmt.Fprintf(a.Stdout, "subscribed (%s), ctrl-c to stop\n", subID)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	var deadline <-chan time.Time
	if opts.dwell > 0 {
		timer := time.NewTimer(opts.dwell)
		defer timer.Stop()
		deadline = timer.C
	}

	seen := 0
loop:
	for {
		select {
		case n := <-notes:
			a.printNotification(n)
			seen++
			if opts.count > 0 && seen >= opts.count {
				break loop
			}
		case <-sigs:
			break loop
		case <-deadline:
			break loop
		}
	}

	unsubCtx, unsubCancel := context.WithTimeout(context.Background(), a.timeout())
	defer unsubCancel()
	if err := c.Unsubscribe(unsubCtx, opts.unsubscribe, subID); err != nil {
		a.log.WithError(err).Warn("unsubscribe failed")
	}
	return ExitOK
}

func (a *App) printNotification(n jrpc.Notification) {
	if a.cfg.Quiet {
		fmt.Fprintln(a.Stdout, string(n.Params))
		return
	}
	line, err := json.Marshal(map[string]any{"method": n.Method, "params": json.RawMessage(n.Params)})
	if err != nil {
		return
	}
	fmt.Fprintln(a.Stdout, string(line))
}
