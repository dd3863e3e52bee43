package play

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/audiolibrelab/sdrecord/internal/audio"
)

// Players in order of preference
var players = []string{"vlc", "mpv", "ffplay", "aplay"}

type Player struct {
	lookPath func(string) (string, error)
}

func New() *Player {
	return &Player{lookPath: exec.LookPath}
}

// Play plays a recording with the first available system player. info
// describes the samples of raw PCM files, which carry no header.
func (p *Player) Play(path string, info audio.StreamInfo) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("audio file not found: %s", path)
	}

	fmt.Printf("Playing: %s\n", path)

	player, err := p.findAudioPlayer(path)
	if err != nil {
		return fmt.Errorf("no suitable audio player found: %w", err)
	}

	cmd, err := command(player, path, info)
	if err != nil {
		return err
	}
	slog.Debug("Starting player", "cmd", cmd.String())

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("playback failed with %s: %w", player, err)
	}

	fmt.Println("Playback completed")
	return nil
}

func (p *Player) findAudioPlayer(path string) (string, error) {
	raw := isRaw(path)
	for _, player := range players {
		// vlc cannot be told the format of a headerless file
		if raw && player == "vlc" {
			continue
		}
		if _, err := p.lookPath(player); err == nil {
			return player, nil
		}
	}

	return "", fmt.Errorf("no audio player found (tried: %s)", strings.Join(players, ", "))
}

func command(player, path string, info audio.StreamInfo) (*exec.Cmd, error) {
	if !isRaw(path) {
		switch player {
		case "vlc":
			return exec.Command("vlc", "--play-and-exit", path), nil
		case "mpv":
			return exec.Command("mpv", "--no-video", path), nil
		case "ffplay":
			return exec.Command("ffplay", "-nodisp", "-autoexit", path), nil
		case "aplay":
			// aplay only understands WAV containers
			if !strings.EqualFold(filepath.Ext(path), ".wav") {
				return nil, fmt.Errorf("aplay requires WAV format, got %s", filepath.Ext(path))
			}
			return exec.Command("aplay", path), nil
		}
		return nil, fmt.Errorf("unsupported player: %s", player)
	}

	if err := info.Validate(); err != nil {
		return nil, fmt.Errorf("raw playback needs a stream format: %w", err)
	}
	rate := strconv.Itoa(info.SampleRate)
	channels := strconv.Itoa(info.Channels)

	switch player {
	case "mpv":
		return exec.Command("mpv", "--no-video",
			"--demuxer=rawaudio",
			"--demuxer-rawaudio-rate="+rate,
			"--demuxer-rawaudio-channels="+channels,
			"--demuxer-rawaudio-format="+rawFormat(info.BitDepth, "u8", "s16le", "s24le", "s32le"),
			path), nil
	case "ffplay":
		return exec.Command("ffplay", "-nodisp", "-autoexit",
			"-f", rawFormat(info.BitDepth, "u8", "s16le", "s24le", "s32le"),
			"-ar", rate, "-ac", channels, path), nil
	case "aplay":
		return exec.Command("aplay", "-t", "raw",
			"-f", rawFormat(info.BitDepth, "U8", "S16_LE", "S24_3LE", "S32_LE"),
			"-r", rate, "-c", channels, path), nil
	}
	return nil, fmt.Errorf("unsupported player for raw audio: %s", player)
}

func rawFormat(bitDepth int, u8, s16, s24, s32 string) string {
	switch bitDepth {
	case 8:
		return u8
	case 24:
		return s24
	case 32:
		return s32
	default:
		return s16
	}
}

func isRaw(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".pcm")
}
