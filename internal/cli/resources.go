package cli

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Device-side value vocabularies. Keep these in sync with the firmware's
// control API; the device rejects anything else with -32602.
var (
	eqFilterTypes = []string{"parametric", "low_shelf", "high_shelf", "notch", "all_pass", "band_pass"}
	hpfTypes      = []string{"off", "butterworth_12", "butterworth_24", "linkwitz_riley_24", "linkwitz_riley_48"}
	crossoverTypes = []string{
		"off", "butterworth_6", "butterworth_12", "butterworth_18", "butterworth_24",
		"linkwitz_riley_12", "linkwitz_riley_24", "linkwitz_riley_48", "bessel_12", "bessel_24",
	}
	outputSrcChannels = []string{
		"off",
		"analog/1", "analog/2", "analog/3", "analog/4",
		"digital/1", "digital/2", "digital/3", "digital/4",
		"network/1", "network/2", "network/3", "network/4",
		"generator",
	}
	powerOnModes      = []string{"audio", "always", "remote"}
	gpioPinTypes      = []string{"off", "power", "mute", "preset", "fault", "trigger_in", "trigger_out"}
	speakerWays       = []string{"FR", "2way", "3way", "4way"}
	generatorTypes    = []string{"off", "sine", "pink_noise", "white_noise", "sweep"}
	generatorMixModes = []string{"off", "mix", "replace"}
	clipLimiterModes  = []string{"off", "normal", "aggressive"}
	outputDriveModes  = []string{"output_low_z", "output_70v", "output_100v"}
	networkModes      = []string{"split", "switched", "redundant"}
	logLevels         = []string{"debug", "info", "warning", "error"}
)

type fieldKind int

const (
	kindString fieldKind = iota
	kindFloat
	kindInt
	kindBool
	kindEnum
)

// field describes one settable property of a setup resource.
type field struct {
	name string
	kind fieldKind
	enum []string
}

// parse converts a raw CLI value into the JSON value the device expects.
func (f field) parse(raw string) (any, error) {
	switch f.kind {
	case kindString:
		return raw, nil
	case kindFloat:
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: not a number: %q", f.name, raw)
		}
		return v, nil
	case kindInt:
		v, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: not an integer: %q", f.name, raw)
		}
		return v, nil
	case kindBool:
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: not a boolean: %q", f.name, raw)
		}
		return v, nil
	case kindEnum:
		for _, allowed := range f.enum {
			if raw == allowed {
				return raw, nil
			}
		}
		return nil, fmt.Errorf("%s: %q not one of %s", f.name, raw, strings.Join(f.enum, ", "))
	}
	return nil, fmt.Errorf("%s: unknown field kind", f.name)
}

// arg is a numeric path parameter a resource template needs.
type arg struct {
	name     string // flag name and {placeholder} in the template
	min, max int
}

var (
	argChannel = arg{"channel", 1, 4}
	argBand    = arg{"band", 1, 8}
	argPin     = arg{"pin", 1, 8}
	argLan     = arg{"lan", 1, 2}
)

// resource binds a CLI name to a setup-tree path template and the fields a
// `setup set` may write there.
type resource struct {
	name   string
	path   string // template with {channel}, {band}, {pin}, {lan}
	args   []arg
	fields []field
}

var setupResources = []resource{
	{name: "install", path: "/install", fields: []field{
		{name: "venue", kind: kindString},
		{name: "position", kind: kindString},
		{name: "notes", kind: kindString},
	}},
	{name: "gpio", path: "/gpio/{pin}", args: []arg{argPin}, fields: []field{
		{name: "type", kind: kindEnum, enum: gpioPinTypes},
	}},
	{name: "network", path: "/network", fields: []field{
		{name: "mode", kind: kindEnum, enum: networkModes},
	}},
	{name: "network-lan", path: "/network/lan{lan}", args: []arg{argLan}, fields: []field{
		{name: "dhcp", kind: kindBool},
		{name: "ip", kind: kindString},
		{name: "netmask", kind: kindString},
		{name: "gateway", kind: kindString},
	}},
	{name: "power", path: "/power", fields: []field{
		{name: "power_on_mode", kind: kindEnum, enum: powerOnModes},
		{name: "standby_timeout", kind: kindFloat},
	}},
	{name: "input-analog", path: "/audio/input/analog/{channel}", args: []arg{argChannel}, fields: []field{
		{name: "name", kind: kindString},
		{name: "gain", kind: kindFloat},
		{name: "phantom", kind: kindBool},
	}},
	{name: "input-digital", path: "/audio/input/digital/{channel}", args: []arg{argChannel}, fields: []field{
		{name: "name", kind: kindString},
		{name: "gain", kind: kindFloat},
	}},
	{name: "input-network", path: "/audio/input/network/{channel}", args: []arg{argChannel}, fields: []field{
		{name: "name", kind: kindString},
		{name: "gain", kind: kindFloat},
	}},
	{name: "input-config", path: "/audio/input/config", fields: []field{
		{name: "sample_rate", kind: kindFloat},
		{name: "fallback_time", kind: kindFloat},
	}},
	{name: "generator", path: "/audio/input/generator", fields: []field{
		{name: "type", kind: kindEnum, enum: generatorTypes},
		{name: "level", kind: kindFloat},
		{name: "freq", kind: kindFloat},
		{name: "mix_mode", kind: kindEnum, enum: generatorMixModes},
	}},
	{name: "summing-matrix", path: "/audio/output/summing_matrix"},
	{name: "speaker", path: "/audio/output/speaker/{channel}", args: []arg{argChannel}, fields: []field{
		{name: "name", kind: kindString},
		{name: "primary_src", kind: kindEnum, enum: outputSrcChannels},
		{name: "fallback_src", kind: kindEnum, enum: outputSrcChannels},
		{name: "gain", kind: kindFloat},
		{name: "mute", kind: kindBool},
		{name: "delay", kind: kindFloat},
		{name: "ways", kind: kindEnum, enum: speakerWays},
		{name: "drive_mode", kind: kindEnum, enum: outputDriveModes},
	}},
	{name: "speaker-user", path: "/audio/output/speaker/{channel}/user", args: []arg{argChannel}, fields: []field{
		{name: "gain", kind: kindFloat},
		{name: "mute", kind: kindBool},
		{name: "delay", kind: kindFloat},
		{name: "polarity", kind: kindBool},
		{name: "generator_mix", kind: kindEnum, enum: generatorMixModes},
	}},
	{name: "speaker-user-hpf", path: "/audio/output/speaker/{channel}/user/hpf", args: []arg{argChannel}, fields: []field{
		{name: "type", kind: kindEnum, enum: hpfTypes},
		{name: "freq", kind: kindFloat},
	}},
	{name: "speaker-user-eq", path: "/audio/output/speaker/{channel}/user/eq", args: []arg{argChannel}, fields: []field{
		{name: "bypass", kind: kindBool},
	}},
	{name: "speaker-user-eq-band", path: "/audio/output/speaker/{channel}/user/eq/bands/{band}", args: []arg{argChannel, argBand}, fields: []field{
		{name: "type", kind: kindEnum, enum: eqFilterTypes},
		{name: "freq", kind: kindFloat},
		{name: "gain", kind: kindFloat},
		{name: "q", kind: kindFloat},
		{name: "bypass", kind: kindBool},
	}},
	{name: "speaker-user-fir", path: "/audio/output/speaker/{channel}/user/fir", args: []arg{argChannel}, fields: []field{
		{name: "enabled", kind: kindBool},
	}},
	{name: "speaker-array", path: "/audio/output/speaker/{channel}/array", args: []arg{argChannel}, fields: []field{
		{name: "gain", kind: kindFloat},
		{name: "delay", kind: kindFloat},
		{name: "polarity", kind: kindBool},
	}},
	{name: "speaker-array-eq", path: "/audio/output/speaker/{channel}/array/eq", args: []arg{argChannel}, fields: []field{
		{name: "bypass", kind: kindBool},
	}},
	{name: "speaker-array-eq-band", path: "/audio/output/speaker/{channel}/array/eq/bands/{band}", args: []arg{argChannel, argBand}, fields: []field{
		{name: "type", kind: kindEnum, enum: eqFilterTypes},
		{name: "freq", kind: kindFloat},
		{name: "gain", kind: kindFloat},
		{name: "q", kind: kindFloat},
		{name: "bypass", kind: kindBool},
	}},
	{name: "speaker-array-crossover", path: "/audio/output/speaker/{channel}/array/crossover", args: []arg{argChannel}, fields: []field{
		{name: "type", kind: kindEnum, enum: crossoverTypes},
		{name: "freq", kind: kindFloat},
	}},
	{name: "speaker-preset", path: "/audio/output/speaker/{channel}/preset", args: []arg{argChannel}, fields: []field{
		{name: "name", kind: kindString},
	}},
	{name: "speaker-preset-crossover-hp", path: "/audio/output/speaker/{channel}/preset/crossover/high_pass", args: []arg{argChannel}, fields: []field{
		{name: "type", kind: kindEnum, enum: crossoverTypes},
		{name: "freq", kind: kindFloat},
	}},
	{name: "speaker-preset-crossover-lp", path: "/audio/output/speaker/{channel}/preset/crossover/low_pass", args: []arg{argChannel}, fields: []field{
		{name: "type", kind: kindEnum, enum: crossoverTypes},
		{name: "freq", kind: kindFloat},
	}},
	{name: "speaker-preset-eq-band", path: "/audio/output/speaker/{channel}/preset/eq/bands/{band}", args: []arg{argChannel, argBand}, fields: []field{
		{name: "type", kind: kindEnum, enum: eqFilterTypes},
		{name: "freq", kind: kindFloat},
		{name: "gain", kind: kindFloat},
		{name: "q", kind: kindFloat},
		{name: "bypass", kind: kindBool},
	}},
	{name: "speaker-preset-peak-limiter", path: "/audio/output/speaker/{channel}/preset/peak_limiter", args: []arg{argChannel}, fields: []field{
		{name: "threshold", kind: kindFloat},
		{name: "attack", kind: kindFloat},
		{name: "release", kind: kindFloat},
	}},
	{name: "speaker-preset-rms-limiter", path: "/audio/output/speaker/{channel}/preset/rms_limiter", args: []arg{argChannel}, fields: []field{
		{name: "threshold", kind: kindFloat},
		{name: "attack", kind: kindFloat},
		{name: "release", kind: kindFloat},
	}},
	{name: "speaker-preset-clip-limiter", path: "/audio/output/speaker/{channel}/preset/clip_limiter", args: []arg{argChannel}, fields: []field{
		{name: "mode", kind: kindEnum, enum: clipLimiterModes},
	}},
	{name: "output-digital", path: "/audio/output/digital/{channel}", args: []arg{argChannel}, fields: []field{
		{name: "src", kind: kindEnum, enum: outputSrcChannels},
		{name: "gain", kind: kindFloat},
	}},
	{name: "output-network", path: "/audio/output/network/{channel}", args: []arg{argChannel}, fields: []field{
		{name: "src", kind: kindEnum, enum: outputSrcChannels},
		{name: "gain", kind: kindFloat},
	}},
}

func findResource(name string) (resource, bool) {
	for _, r := range setupResources {
		if r.name == name {
			return r, true
		}
	}
	return resource{}, false
}

// expandPath substitutes the resource's numeric arguments into its template.
func (r resource) expandPath(values map[string]int) (string, error) {
	path := r.path
	for _, a := range r.args {
		v, ok := values[a.name]
		if !ok || v == 0 {
			return "", fmt.Errorf("--%s is required for %s", a.name, r.name)
		}
		if v < a.min || v > a.max {
			return "", fmt.Errorf("--%s must be %d..%d", a.name, a.min, a.max)
		}
		path = strings.ReplaceAll(path, "{"+a.name+"}", strconv.Itoa(v))
	}
	return path, nil
}

// buildValue turns key=value arguments into the object sent to setup_set.
func (r resource) buildValue(pairs []string) (map[string]any, error) {
	if len(r.fields) == 0 {
		return nil, fmt.Errorf("%s is read-only", r.name)
	}
	byName := make(map[string]field, len(r.fields))
	for _, f := range r.fields {
		byName[f.name] = f
	}

	value := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("expected key=value, got %q", pair)
		}
		f, ok := byName[key]
		if !ok {
			names := make([]string, 0, len(r.fields))
			for _, rf := range r.fields {
				names = append(names, rf.name)
			}
			sort.Strings(names)
			return nil, fmt.Errorf("%s has no field %q (have %s)", r.name, key, strings.Join(names, ", "))
		}
		v, err := f.parse(raw)
		if err != nil {
			return nil, err
		}
		value[key] = v
	}
	if len(value) == 0 {
		return nil, fmt.Errorf("no key=value pairs given")
	}
	return value, nil
}
