package mockdevice

import (
	"fmt"
	"strconv"
	"strings"
)

// LogEntry is one line of the device log ring.
type LogEntry struct {
	Level   string `json:"level"`
	Message string `json:"message"`
	Time    string `json:"time"`
}

func defaultEQBands(n int) map[string]any {
	bands := make(map[string]any, n)
	for i := 1; i <= n; i++ {
		bands[strconv.Itoa(i)] = map[string]any{
			"type":   "parametric",
			"freq":   1000.0,
			"gain":   0.0,
			"q":      0.7,
			"bypass": false,
		}
	}
	return bands
}

func defaultSpeaker(ch int) map[string]any {
	return map[string]any{
		"name":         fmt.Sprintf("Speaker %d", ch),
		"primary_src":  fmt.Sprintf("analog/%d", ch),
		"fallback_src": "off",
		"gain":         0.0,
		"mute":         false,
		"delay":        0.0,
		"ways":         "FR",
		"drive_mode":   "output_low_z",
		"user": map[string]any{
			"gain":          0.0,
			"mute":          false,
			"delay":         0.0,
			"polarity":      false,
			"generator_mix": "off",
			"hpf":           map[string]any{"type": "off", "freq": 80.0},
			"eq": map[string]any{
				"bypass": false,
				"bands":  defaultEQBands(8),
			},
			"fir": map[string]any{"enabled": false, "taps": []any{}},
		},
		"array": map[string]any{
			"gain":     0.0,
			"delay":    0.0,
			"polarity": false,
			"eq": map[string]any{
				"bypass": false,
				"bands":  defaultEQBands(8),
			},
			"fir":       map[string]any{"enabled": false, "taps": []any{}},
			"crossover": map[string]any{"type": "off", "freq": 120.0},
		},
		"preset": map[string]any{
			"name":              "",
			"preset_customized": false,
			"crossover": map[string]any{
				"high_pass": map[string]any{"type": "off", "freq": 80.0},
				"low_pass":  map[string]any{"type": "off", "freq": 18000.0},
			},
			"eq": map[string]any{
				"bypass": false,
				"bands":  defaultEQBands(8),
			},
			"fir":          map[string]any{"enabled": false, "taps": []any{}},
			"peak_limiter": map[string]any{"threshold": 12.0, "attack": 1.0, "release": 50.0},
			"rms_limiter":  map[string]any{"threshold": 8.0, "attack": 10.0, "release": 200.0},
			"clip_limiter": map[string]any{"mode": "normal"},
		},
	}
}

func defaultSetup() map[string]any {
	speakers := make(map[string]any, 4)
	digital := make(map[string]any, 4)
	network := make(map[string]any, 4)
	analogIn := make(map[string]any, 4)
	digitalIn := make(map[string]any, 4)
	networkIn := make(map[string]any, 4)
	gpio := make(map[string]any, 8)
	matrix := make(map[string]any, 4)
	for i := 1; i <= 4; i++ {
		ch := strconv.Itoa(i)
		speakers[ch] = defaultSpeaker(i)
		digital[ch] = map[string]any{"src": fmt.Sprintf("analog/%d", i), "gain": 0.0}
		network[ch] = map[string]any{"src": "off", "gain": 0.0}
		analogIn[ch] = map[string]any{"name": fmt.Sprintf("Analog %d", i), "gain": 0.0, "phantom": false}
		digitalIn[ch] = map[string]any{"name": fmt.Sprintf("Digital %d", i), "gain": 0.0}
		networkIn[ch] = map[string]any{"name": fmt.Sprintf("Network %d", i), "gain": 0.0}
		matrix[fmt.Sprintf("speaker/%d", i)] = map[string]any{
			fmt.Sprintf("analog/%d", i): map[string]any{"gain": 0.0, "enabled": true},
		}
	}
	for i := 1; i <= 8; i++ {
		gpio[strconv.Itoa(i)] = map[string]any{"type": "off"}
	}

	return map[string]any{
		"install": map[string]any{"venue": "", "position": "", "notes": ""},
		"gpio":    gpio,
		"network": map[string]any{
			"mode": "split",
			"lan1": map[string]any{"dhcp": true, "ip": "", "netmask": "", "gateway": ""},
			"lan2": map[string]any{"dhcp": true, "ip": "", "netmask": "", "gateway": ""},
		},
		"power": map[string]any{"power_on_mode": "audio", "standby_timeout": 1200.0},
		"audio": map[string]any{
			"input": map[string]any{
				"analog":  analogIn,
				"digital": digitalIn,
				"network": networkIn,
				"config":  map[string]any{"sample_rate": 48000.0, "fallback_time": 2.0},
				"generator": map[string]any{
					"type": "pink_noise", "level": -30.0, "freq": 440.0, "mix_mode": "off",
				},
			},
			"output": map[string]any{
				"summing_matrix": matrix,
				"speaker":        speakers,
				"digital":        digital,
				"network":        network,
			},
		},
	}
}

func defaultStatus() map[string]any {
	return map[string]any{
		"info": map[string]any{
			"serial": "PX4-000123",
			"model":  "PX4",
			"vendor": "pxaudio",
		},
		"state": map[string]any{"power": "on", "find_me": false},
		"network": map[string]any{
			"lan1": map[string]any{"link": true, "ip": "192.168.64.100"},
			"lan2": map[string]any{"link": false, "ip": ""},
		},
		"audio": map[string]any{
			"sample_rate": 48000.0,
			"clock":       "internal",
		},
		"firmware": map[string]any{"version": "1.4.2", "state": "idle"},
	}
}

func defaultLogs() []LogEntry {
	return []LogEntry{
		{Level: "info", Message: "system boot", Time: "2026-01-01T00:00:00Z"},
		{Level: "info", Message: "audio clock locked", Time: "2026-01-01T00:00:01Z"},
		{Level: "warning", Message: "lan2 link down", Time: "2026-01-01T00:00:02Z"},
		{Level: "info", Message: "control api ready", Time: "2026-01-01T00:00:03Z"},
	}
}

func splitPath(path string) ([]string, error) {
	if !strings.HasPrefix(path, "/") {
		return nil, fmt.Errorf("path must start with /")
	}
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil, nil
	}
	return strings.Split(trimmed, "/"), nil
}

// resolvePath walks the tree. The final segment may be a leaf value.
func resolvePath(tree map[string]any, segs []string) (any, bool) {
	var node any = tree
	for _, seg := range segs {
		m, ok := node.(map[string]any)
		if !ok {
			return nil, false
		}
		node, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return node, true
}

// setPath writes value at segs. Object values are merged key-by-key into an
// existing object node; everything else replaces. Intermediate nodes must
// already exist: the device rejects writes to paths it does not know.
func setPath(tree map[string]any, segs []string, value any) error {
	if len(segs) == 0 {
		return fmt.Errorf("cannot set the tree root")
	}
	parent := tree
	for _, seg := range segs[:len(segs)-1] {
		next, ok := parent[seg].(map[string]any)
		if !ok {
			return fmt.Errorf("path not found")
		}
		parent = next
	}
	last := segs[len(segs)-1]
	existing, ok := parent[last]
	if !ok {
		return fmt.Errorf("path not found")
	}
	if dst, ok := existing.(map[string]any); ok {
		if src, ok := value.(map[string]any); ok {
			mergeTree(dst, src)
			return nil
		}
		return fmt.Errorf("cannot replace object node with scalar")
	}
	parent[last] = value
	return nil
}

func mergeTree(dst, src map[string]any) {
	for k, v := range src {
		if dv, ok := dst[k].(map[string]any); ok {
			if sv, ok := v.(map[string]any); ok {
				mergeTree(dv, sv)
				continue
			}
		}
		dst[k] = v
	}
}
