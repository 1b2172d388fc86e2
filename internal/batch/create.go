package batch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// section groups the setup paths written under one banner comment. Paths
// are emitted in device order so a generated file reads like the setup tree.
type section struct {
	banner string
	paths  []string
}

var backupSections = []section{
	{"installation", []string{"/install"}},
	{"gpio", []string{"/gpio"}},
	{"network", []string{"/network"}},
	{"power", []string{"/power"}},
	{"audio inputs", []string{
		"/audio/input/analog",
		"/audio/input/digital",
		"/audio/input/network",
		"/audio/input/config",
	}},
	{"signal generator", []string{"/audio/input/generator"}},
	{"summing matrix", []string{"/audio/output/summing_matrix"}},
	{"digital outputs", []string{"/audio/output/digital"}},
	{"network outputs", []string{"/audio/output/network"}},
}

// Create renders a device setup snapshot (the result of setup_get_all) as a
// batch file that restores it. Speaker channels get one banner each so a
// restore file can be trimmed per output by hand.
func Create(snapshot json.RawMessage) ([]byte, error) {
	var tree map[string]any
	if err := json.Unmarshal(snapshot, &tree); err != nil {
		return nil, fmt.Errorf("decode setup snapshot: %w", err)
	}

	var buf bytes.Buffer
	for _, sec := range backupSections {
		wroteBanner := false
		for _, path := range sec.paths {
			value, ok := lookup(tree, path)
			if !ok {
				continue
			}
			if !wroteBanner {
				fmt.Fprintf(&buf, "# %s\n", sec.banner)
				wroteBanner = true
			}
			if err := writeSet(&buf, path, value); err != nil {
				return nil, err
			}
		}
		if wroteBanner {
			buf.WriteByte('\n')
		}
	}

	speakers, ok := lookup(tree, "/audio/output/speaker")
	if ok {
		channels, _ := speakers.(map[string]any)
		for _, ch := range sortedKeys(channels) {
			fmt.Fprintf(&buf, "# speaker channel %s\n", ch)
			path := "/audio/output/speaker/" + ch
			if err := writeSet(&buf, path, channels[ch]); err != nil {
				return nil, err
			}
			buf.WriteByte('\n')
		}
	}
	return buf.Bytes(), nil
}

func writeSet(buf *bytes.Buffer, path string, value any) error {
	line, err := json.Marshal(map[string]any{
		"method": "setup_set",
		"params": map[string]any{"path": path, "value": value},
	})
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	buf.Write(line)
	buf.WriteByte('\n')
	return nil
}

func lookup(tree map[string]any, path string) (any, bool) {
	node := any(tree)
	start := 1 // skip leading slash
	for start <= len(path) {
		end := start
		for end < len(path) && path[end] != '/' {
			end++
		}
		obj, ok := node.(map[string]any)
		if !ok {
			return nil, false
		}
		node, ok = obj[path[start:end]]
		if !ok {
			return nil, false
		}
		start = end + 1
	}
	return node, true
}

// sortedKeys orders speaker channels numerically where possible.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, errA := strconv.Atoi(keys[i])
		b, errB := strconv.Atoi(keys[j])
		if errA == nil && errB == nil {
			return a < b
		}
		return keys[i] < keys[j]
	})
	return keys
}
