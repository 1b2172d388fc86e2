// Package batch reads, applies, and generates newline-delimited command
// files. Each non-blank, non-comment line holds one JSON object with a
// "method" and optional "params"; the whole file is sent to the device as a
// single JSON-RPC batch.
package batch

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/pxaudio/pxctl/pkg/jrpc"
	"github.com/pxaudio/pxctl/pkg/pxclient"
)

// Entry is one command from a batch file, tagged with its source line for
// error reporting.
type Entry struct {
	Line    int
	Request jrpc.Request
}

// Read parses a batch file. Blank lines and lines starting with '#' are
// skipped. Parse errors carry the offending line number.
func Read(r io.Reader) ([]Entry, error) {
	var entries []Entry
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var cmd struct {
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.Unmarshal([]byte(line), &cmd); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if cmd.Method == "" {
			return nil, fmt.Errorf("line %d: missing method", lineNo)
		}

		var params any
		if len(cmd.Params) > 0 {
			params = json.RawMessage(cmd.Params)
		}
		entries = append(entries, Entry{
			Line:    lineNo,
			Request: jrpc.Request{JSONRPC: jrpc.Version, Method: cmd.Method, Params: params},
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// Failure describes one command the device rejected.
type Failure struct {
	Line   int
	Method string
	Err    *jrpc.RPCError
}

// Summary is the outcome of applying a batch file.
type Summary struct {
	Succeeded int
	Failed    int
	Failures  []Failure
}

func (s Summary) String() string {
	return fmt.Sprintf("%d succeeded, %d failed", s.Succeeded, s.Failed)
}

// Apply sends all entries as one batch and reconciles the device's answers,
// which may arrive in any order, back to their source lines by request id.
func Apply(ctx context.Context, c *pxclient.Client, entries []Entry) (*Summary, error) {
	if len(entries) == 0 {
		return &Summary{}, nil
	}

	reqs := make([]jrpc.Request, len(entries))
	for i, e := range entries {
		reqs[i] = e.Request
	}
	resps, err := c.CallBatch(ctx, reqs)
	if err != nil {
		return nil, err
	}

	byID := make(map[uint64]*jrpc.Response, len(resps))
	for i := range resps {
		byID[resps[i].ID] = &resps[i]
	}

	sum := &Summary{}
	for i, e := range entries {
		resp, ok := byID[reqs[i].ID]
		if !ok {
			sum.Failed++
			sum.Failures = append(sum.Failures, Failure{
				Line:   e.Line,
				Method: e.Request.Method,
				Err:    &jrpc.RPCError{Code: -32603, Message: "no response received"},
			})
			continue
		}
		if resp.Error != nil {
			sum.Failed++
			sum.Failures = append(sum.Failures, Failure{Line: e.Line, Method: e.Request.Method, Err: resp.Error})
			continue
		}
		sum.Succeeded++
	}
	return sum, nil
}
