// Package cli parses the bundled player's command-line surface (spec §6
// "CLI surface"), in the style of the reference project's pkg/cli:
// flags reordered ahead of positional arguments, environment-variable
// fallbacks, and a dedicated help screen.
package cli

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds the parsed command-line configuration for the player.
type Config struct {
	File string // positional: the song/sound file to play

	BankPath     string // -p: bank file to load (SF2/DLS)
	OutPath      string // -o: offline render target WAV path
	MixRate      int    // -mr: mixing sample rate
	Loops        int    // -l: loop count
	VolumePct    int    // -v: master volume percent
	TimeLimitSec int    // -t: time limit in seconds (0 = unlimited)
	MuteChannels []int  // -mc: 1-based channel numbers to mute
	ReverbType   int    // -rv: reverb preset 0..11
	NoFadeout    bool   // -nf: disable fadeout on stop
	Quiet        bool   // -q
	Verbose      bool   // -d
	ShowHelp     bool   // -h / --help
}

const (
	defaultMixRate   = 44100
	defaultVolumePct = 100
)

// ParseArgs parses args (excluding argv[0]) into a Config (spec §6 "CLI
// surface").
func ParseArgs(args []string) (*Config, error) {
	reordered := reorderArgs(args)

	fs := flag.NewFlagSet("gmplayer", flag.ContinueOnError)
	cfg := &Config{}

	var mc string
	fs.StringVar(&cfg.BankPath, "p", "", "bank file to load (SF2/DLS)")
	fs.StringVar(&cfg.OutPath, "o", "", "offline render target WAV path")
	fs.IntVar(&cfg.MixRate, "mr", defaultMixRate, "mixing sample rate")
	fs.IntVar(&cfg.Loops, "l", 0, "loop count (0 = play once)")
	fs.IntVar(&cfg.VolumePct, "v", defaultVolumePct, "master volume percent")
	fs.IntVar(&cfg.TimeLimitSec, "t", 0, "time limit in seconds (0 = unlimited)")
	fs.StringVar(&mc, "mc", "", "1-based channel numbers to mute, comma-separated")
	fs.IntVar(&cfg.ReverbType, "rv", -1, "reverb type 0..11 (unset = disabled)")
	fs.BoolVar(&cfg.NoFadeout, "nf", false, "disable fadeout on stop")
	fs.BoolVar(&cfg.Quiet, "q", false, "quiet")
	fs.BoolVar(&cfg.Verbose, "d", false, "verbose")
	fs.BoolVar(&cfg.ShowHelp, "h", false, "show help")
	fs.BoolVar(&cfg.ShowHelp, "help", false, "show help")

	if err := fs.Parse(reordered); err != nil {
		return nil, err
	}

	if mc != "" {
		chans, err := parseChannelList(mc)
		if err != nil {
			return nil, err
		}
		cfg.MuteChannels = chans
	}

	if cfg.MixRate == defaultMixRate {
		if v := os.Getenv("GMPLAYER_MIX_RATE"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				cfg.MixRate = n
			}
		}
	}

	if cfg.MixRate <= 0 {
		return nil, fmt.Errorf("mixing sample rate must be positive, got %d", cfg.MixRate)
	}
	if cfg.TimeLimitSec < 0 {
		return nil, fmt.Errorf("time limit must be non-negative, got %d", cfg.TimeLimitSec)
	}
	if cfg.ReverbType != -1 && (cfg.ReverbType < 0 || cfg.ReverbType > 11) {
		return nil, fmt.Errorf("reverb type must be 0..11, got %d", cfg.ReverbType)
	}

	if fs.NArg() > 0 {
		cfg.File = fs.Arg(0)
	} else if !cfg.ShowHelp {
		return nil, fmt.Errorf("missing required argument: <file>")
	}

	return cfg, nil
}

func parseChannelList(csv string) ([]int, error) {
	parts := strings.Split(csv, ",")
	chans := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid channel number in -mc: %q", p)
		}
		chans = append(chans, n)
	}
	return chans, nil
}

// reorderArgs moves flags (and their values) ahead of positional
// arguments so flag.FlagSet's stop-at-first-positional parsing still
// finds every flag regardless of where the user placed the file path.
func reorderArgs(args []string) []string {
	var flags, positional []string

	boolFlags := map[string]bool{"-nf": true, "-q": true, "-d": true, "-h": true, "--help": true}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if len(arg) > 0 && arg[0] == '-' {
			flags = append(flags, arg)
			if i+1 < len(args) && len(args[i+1]) > 0 && args[i+1][0] != '-' && !boolFlags[arg] {
				i++
				flags = append(flags, args[i])
			}
		} else {
			positional = append(positional, arg)
		}
	}
	return append(flags, positional...)
}

// PrintHelp writes the player's usage text to stdout.
func PrintHelp() {
	fmt.Fprint(os.Stdout, `gmplayer - General MIDI playback engine

Usage:
  gmplayer [options] <file>

Arguments:
  file                  MIDI/RMF/RMI/XMF song, or a raw audio file to play as a Sound

Options:
  -p <bank>             load this bank (SF2/DLS) as the base SoundFont
  -o <out.wav>          offline render to WAV instead of live playback
  -mr <rate>            mixing sample rate (default 44100)
  -l <n>                loop count (0 = play once)
  -v <percent>          master volume percent (default 100)
  -t <seconds>          time limit, 0 = unlimited
  -mc <csv>             1-based channel numbers to mute
  -rv <0..11>           reverb type
  -nf                   disable fadeout on stop
  -q                    quiet
  -d                    verbose
  -h, --help            show this help

Environment Variables:
  GMPLAYER_MIX_RATE     default mixing sample rate when -mr is not given
  TMPDIR                consulted when writing temporary DLS/MXMF caches

Exit codes: 0 = success, 1 = engine error.
`)
}
