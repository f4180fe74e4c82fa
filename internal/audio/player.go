package audio

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/rs/zerolog"
)

// playerCandidates are tried in order; the first one on PATH wins. All of
// them can play MP3; afplay needs a file instead of stdin.
var playerCandidates = []struct {
	command   string
	args      []string
	usesStdin bool
}{
	{"mpv", []string{"--no-terminal", "--really-quiet", "-"}, true},
	{"ffplay", []string{"-autoexit", "-nodisp", "-loglevel", "quiet", "-"}, true},
	{"mpg123", []string{"-q", "-"}, true},
	{"afplay", nil, false},
}

// Player plays synthesized audio through an external player binary. Killing
// the process on context cancellation is what makes barge-in cut playback
// off mid-word.
type Player struct {
	command   string
	args      []string
	usesStdin bool
	logger    zerolog.Logger
}

// NewPlayer picks the first available player binary.
func NewPlayer(logger zerolog.Logger) (*Player, error) {
	for _, c := range playerCandidates {
		if _, err := exec.LookPath(c.command); err == nil {
			logger.Info().Str("player", c.command).Msg("Audio player selected")
			return &Player{
				command:   c.command,
				args:      c.args,
				usesStdin: c.usesStdin,
				logger:    logger.With().Str("component", "player").Logger(),
			}, nil
		}
	}
	return nil, fmt.Errorf("no audio player found (tried mpv, ffplay, mpg123, afplay)")
}

// Play blocks until playback finishes or ctx is cancelled.
func (p *Player) Play(ctx context.Context, audio []byte) error {
	if p.usesStdin {
		cmd := exec.CommandContext(ctx, p.command, p.args...)
		cmd.Stdin = bytes.NewReader(audio)
		return p.run(ctx, cmd)
	}

	f, err := os.CreateTemp("", "cortexvoice-*.mp3")
	if err != nil {
		return fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(f.Name())

	if _, err := f.Write(audio); err != nil {
		f.Close()
		return fmt.Errorf("write audio: %w", err)
	}
	f.Close()

	cmd := exec.CommandContext(ctx, p.command, f.Name())
	return p.run(ctx, cmd)
}

func (p *Player) run(ctx context.Context, cmd *exec.Cmd) error {
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s: %w", p.command, err)
	}
	return nil
}
