package cli

import (
	"encoding/json"
	"fmt"

	"github.com/pxaudio/pxctl/pkg/util"
)

// printResult writes a raw JSON-RPC result to stdout. Quiet mode emits the
// bare JSON on one line for scripting; otherwise it is pretty-printed.
func (a *App) printResult(raw json.RawMessage) {
	if a.cfg.Quiet {
		fmt.Fprintln(a.Stdout, string(raw))
		return
	}
	fmt.Fprintln(a.Stdout, util.PrettyJSON(raw))
}

// printOK reports a side-effect command that returned no useful result.
// Quiet mode stays silent.
func (a *App) printOK(format string, args ...any) {
	if a.cfg.Quiet {
		return
	}
	fmt.Fprintf(a.Stdout, format+"\n", args...)
}
