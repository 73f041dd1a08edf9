package cli

import (
	"os"
	"testing"
)

func TestParseArgs_ValidArgs(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected Config
	}{
		{
			name: "file only",
			args: []string{"song.mid"},
			expected: Config{
				File:      "song.mid",
				MixRate:   defaultMixRate,
				VolumePct: defaultVolumePct,
				ReverbType: -1,
			},
		},
		{
			name: "offline render with bank and volume",
			args: []string{"-p", "gm.sf2", "-o", "out.wav", "-v", "80", "song.mid"},
			expected: Config{
				File:       "song.mid",
				BankPath:   "gm.sf2",
				OutPath:    "out.wav",
				MixRate:    defaultMixRate,
				VolumePct:  80,
				ReverbType: -1,
			},
		},
		{
			name: "loop count and time limit",
			args: []string{"-l", "3", "-t", "30", "song.mid"},
			expected: Config{
				File:       "song.mid",
				Loops:      3,
				TimeLimitSec: 30,
				MixRate:    defaultMixRate,
				VolumePct:  defaultVolumePct,
				ReverbType: -1,
			},
		},
		{
			name: "mute channels and reverb",
			args: []string{"-mc", "1,10,16", "-rv", "5", "song.mid"},
			expected: Config{
				File:         "song.mid",
				MuteChannels: []int{1, 10, 16},
				ReverbType:   5,
				MixRate:      defaultMixRate,
				VolumePct:    defaultVolumePct,
			},
		},
		{
			name: "no-fadeout and quiet flags",
			args: []string{"-nf", "-q", "song.mid"},
			expected: Config{
				File:       "song.mid",
				NoFadeout:  true,
				Quiet:      true,
				MixRate:    defaultMixRate,
				VolumePct:  defaultVolumePct,
				ReverbType: -1,
			},
		},
		{
			name: "flags after the positional argument",
			args: []string{"song.mid", "-mr", "48000", "-d"},
			expected: Config{
				File:       "song.mid",
				MixRate:    48000,
				VolumePct:  defaultVolumePct,
				ReverbType: -1,
				Verbose:    true,
			},
		},
		{
			name: "help with no file",
			args: []string{"--help"},
			expected: Config{
				ShowHelp:   true,
				MixRate:    defaultMixRate,
				VolumePct:  defaultVolumePct,
				ReverbType: -1,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config, err := ParseArgs(tt.args)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if config.File != tt.expected.File {
				t.Errorf("File = %q, want %q", config.File, tt.expected.File)
			}
			if config.BankPath != tt.expected.BankPath {
				t.Errorf("BankPath = %q, want %q", config.BankPath, tt.expected.BankPath)
			}
			if config.OutPath != tt.expected.OutPath {
				t.Errorf("OutPath = %q, want %q", config.OutPath, tt.expected.OutPath)
			}
			if config.MixRate != tt.expected.MixRate {
				t.Errorf("MixRate = %d, want %d", config.MixRate, tt.expected.MixRate)
			}
			if config.Loops != tt.expected.Loops {
				t.Errorf("Loops = %d, want %d", config.Loops, tt.expected.Loops)
			}
			if config.VolumePct != tt.expected.VolumePct {
				t.Errorf("VolumePct = %d, want %d", config.VolumePct, tt.expected.VolumePct)
			}
			if config.TimeLimitSec != tt.expected.TimeLimitSec {
				t.Errorf("TimeLimitSec = %d, want %d", config.TimeLimitSec, tt.expected.TimeLimitSec)
			}
			if len(config.MuteChannels) != len(tt.expected.MuteChannels) {
				t.Fatalf("MuteChannels = %v, want %v", config.MuteChannels, tt.expected.MuteChannels)
			}
			for i := range config.MuteChannels {
				if config.MuteChannels[i] != tt.expected.MuteChannels[i] {
					t.Errorf("MuteChannels[%d] = %d, want %d", i, config.MuteChannels[i], tt.expected.MuteChannels[i])
				}
			}
			if config.ReverbType != tt.expected.ReverbType {
				t.Errorf("ReverbType = %d, want %d", config.ReverbType, tt.expected.ReverbType)
			}
			if config.NoFadeout != tt.expected.NoFadeout {
				t.Errorf("NoFadeout = %v, want %v", config.NoFadeout, tt.expected.NoFadeout)
			}
			if config.Quiet != tt.expected.Quiet {
				t.Errorf("Quiet = %v, want %v", config.Quiet, tt.expected.Quiet)
			}
			if config.Verbose != tt.expected.Verbose {
				t.Errorf("Verbose = %v, want %v", config.Verbose, tt.expected.Verbose)
			}
			if config.ShowHelp != tt.expected.ShowHelp {
				t.Errorf("ShowHelp = %v, want %v", config.ShowHelp, tt.expected.ShowHelp)
			}
		})
	}
}

func TestParseArgs_InvalidArgs(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "missing file", args: []string{}},
		{name: "negative time limit", args: []string{"-t", "-5", "song.mid"}},
		{name: "reverb type out of range", args: []string{"-rv", "12", "song.mid"}},
		{name: "non-numeric mute channel", args: []string{"-mc", "abc", "song.mid"}},
		{name: "non-positive mix rate", args: []string{"-mr", "0", "song.mid"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseArgs(tt.args)
			if err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestParseArgs_MixRateEnvironmentFallback(t *testing.T) {
	orig := os.Getenv("GMPLAYER_MIX_RATE")
	defer os.Setenv("GMPLAYER_MIX_RATE", orig)

	os.Setenv("GMPLAYER_MIX_RATE", "48000")
	config, err := ParseArgs([]string{"song.mid"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if config.MixRate != 48000 {
		t.Errorf("MixRate = %d, want 48000 from GMPLAYER_MIX_RATE", config.MixRate)
	}

	// An explicit -mr flag still wins over the environment variable.
	config, err = ParseArgs([]string{"-mr", "22050", "song.mid"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if config.MixRate != 22050 {
		t.Errorf("MixRate = %d, want 22050 (explicit flag overrides env)", config.MixRate)
	}
}
