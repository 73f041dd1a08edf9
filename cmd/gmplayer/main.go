// Command gmplayer is a reference driver for the General MIDI synthesis
// engine (spec §6 "CLI surface"): it loads a bank, loads a song or raw
// audio file, then either plays it live through ebiten/v2/audio or
// renders it to a WAV file.
package main

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/hajimehoshi/ebiten/v2/audio"

	"github.com/riffsynth/engine/pkg/cli"
	"github.com/riffsynth/engine/pkg/engine"
	"github.com/riffsynth/engine/pkg/fileutil"
	"github.com/riffsynth/engine/pkg/logger"
	"github.com/riffsynth/engine/pkg/voice"
)

// readAssetFile resolves path case-insensitively within its own directory
// before reading it, so a song or bank file referenced with the wrong case
// (common when asset lists were authored on a case-insensitive platform)
// still loads instead of failing with ENOENT.
func readAssetFile(path string) ([]byte, error) {
	dir := filepath.Dir(path)
	fs := fileutil.NewRealFS(dir)
	return fs.ReadFile(filepath.Base(path))
}

func main() {
	cfg, err := cli.ParseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if cfg.ShowHelp {
		cli.PrintHelp()
		return
	}

	level := "info"
	if cfg.Quiet {
		level = "error"
	} else if cfg.Verbose {
		level = "debug"
	}
	if err := logger.InitLogger(level); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logger.GetLogger()

	if err := run(cfg, log); err != nil {
		log.Error("gmplayer failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *cli.Config, log *slog.Logger) error {
	data, err := readAssetFile(cfg.File)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", cfg.File, err)
	}

	mixer, err := engine.Open(cfg.MixRate, voice.InterpLinear, engine.FlagNone, engine.MaxVoices, 0, cfg.VolumePct, true)
	if err != nil {
		return fmt.Errorf("failed to open mixer: %w", err)
	}
	defer mixer.Close()

	if cfg.BankPath != "" {
		bankData, err := readAssetFile(cfg.BankPath)
		if err != nil {
			return fmt.Errorf("failed to read bank %s: %w", cfg.BankPath, err)
		}
		if err := mixer.LoadBank(bankData); err != nil {
			return fmt.Errorf("failed to load bank %s: %w", cfg.BankPath, err)
		}
		log.Info("loaded bank", "path", cfg.BankPath)
	}

	if cfg.ReverbType >= 0 {
		mixer.SetReverbType(voice.ReverbType(cfg.ReverbType))
	}

	song, snd, err := loadPlayable(mixer, data)
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", cfg.File, err)
	}

	if song != nil {
		length, err := song.Preroll()
		if err != nil {
			return fmt.Errorf("preroll failed: %w", err)
		}
		log.Info("song loaded", "file", cfg.File, "length_micros", length)

		if cfg.Loops > 0 {
			if err := song.SetLoops(cfg.Loops); err != nil {
				return err
			}
		}
		for _, ch := range cfg.MuteChannels {
			if err := song.SetChannelMute(ch-1, true); err != nil {
				return err
			}
		}
		if err := song.Start(); err != nil {
			return err
		}
	} else {
		if err := snd.SetLoops(cfg.Loops); err != nil {
			return err
		}
		if err := snd.Play(127); err != nil {
			return err
		}
	}

	if cfg.OutPath != "" {
		return renderToFile(mixer, song, snd, cfg)
	}
	return playLive(mixer, song, snd, cfg, log)
}

// loadPlayable tries the song-container path first (spec §4.8
// Song_LoadFromMemory's magic sniff); a file that fails that sniff but
// looks like a RIFF/WAVE is loaded as a raw Sound instead (spec §6's
// "file ... or a raw audio file to play as a Sound").
func loadPlayable(mixer *engine.Mixer, data []byte) (*engine.Song, *engine.Sound, error) {
	song, err := mixer.LoadSongFromMemory(data)
	if err == nil {
		return song, nil, nil
	}
	if len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE")) {
		snd, sErr := mixer.NewSoundFromMemory(data)
		if sErr != nil {
			return nil, nil, sErr
		}
		return nil, snd, nil
	}
	return nil, nil, err
}

func renderToFile(mixer *engine.Mixer, song *engine.Song, snd *engine.Sound, cfg *cli.Config) error {
	if err := mixer.StartOutputToFile(cfg.OutPath); err != nil {
		return fmt.Errorf("failed to open %s for export: %w", cfg.OutPath, err)
	}

	deadline := timeLimit(cfg)
	start := time.Now()
	for mixer.ServiceAudioOutputToFile() {
		if playbackDone(song, snd) {
			break
		}
		if deadline > 0 && time.Since(start) >= deadline {
			break
		}
	}
	stopPlayback(song, snd, cfg.NoFadeout)
	return mixer.StopOutputToFile()
}

func playLive(mixer *engine.Mixer, song *engine.Song, snd *engine.Sound, cfg *cli.Config, log *slog.Logger) error {
	ctx := audio.NewContext(cfg.MixRate)
	player, err := ctx.NewPlayer(mixer)
	if err != nil {
		return fmt.Errorf("failed to create audio player: %w", err)
	}
	defer player.Close()
	player.Play()

	deadline := timeLimit(cfg)
	start := time.Now()
	for {
		if playbackDone(song, snd) {
			break
		}
		if deadline > 0 && time.Since(start) >= deadline {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	stopPlayback(song, snd, cfg.NoFadeout)
	log.Debug("playback finished", "elapsed", time.Since(start))
	return nil
}

func playbackDone(song *engine.Song, snd *engine.Sound) bool {
	if song != nil {
		return song.IsFinished()
	}
	return !snd.IsPlaying()
}

func stopPlayback(song *engine.Song, snd *engine.Sound, noFadeout bool) {
	if song != nil {
		if noFadeout {
			song.StopImmediate()
		} else {
			song.Stop()
		}
		song.Delete()
		return
	}
	snd.Stop()
	snd.Delete()
}

func timeLimit(cfg *cli.Config) time.Duration {
	if cfg.TimeLimitSec <= 0 {
		return 0
	}
	return time.Duration(cfg.TimeLimitSec) * time.Second
}
