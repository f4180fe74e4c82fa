package audio

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"

	"github.com/rs/zerolog"
)

// CommandCapture reads raw PCM from a recorder binary's stdout and feeds it
// to the Manager in fixed-size chunks. arecord on Linux, sox elsewhere.
type CommandCapture struct {
	config  *CaptureConfig
	manager *Manager
	logger  zerolog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewCommandCapture wires a recorder process to the audio manager.
func NewCommandCapture(config *CaptureConfig, manager *Manager, logger zerolog.Logger) *CommandCapture {
	if config == nil {
		config = DefaultCaptureConfig()
	}
	return &CommandCapture{
		config:  config,
		manager: manager,
		logger:  logger.With().Str("component", "capture").Logger(),
	}
}

// recorderCommand builds the capture command for whatever recorder is on
// PATH.
func (c *CommandCapture) recorderCommand(ctx context.Context) (*exec.Cmd, error) {
	rate := strconv.Itoa(c.config.SampleRate)
	channels := strconv.Itoa(c.config.Channels)

	if _, err := exec.LookPath("arecord"); err == nil {
		return exec.CommandContext(ctx, "arecord",
			"-q", "-f", "S16_LE", "-r", rate, "-c", channels, "-t", "raw"), nil
	}
	if _, err := exec.LookPath("sox"); err == nil {
		return exec.CommandContext(ctx, "sox",
			"-q", "-d", "-t", "raw", "-b", "16", "-e", "signed-integer",
			"-r", rate, "-c", channels, "-"), nil
	}
	if _, err := exec.LookPath("rec"); err == nil {
		return exec.CommandContext(ctx, "rec",
			"-q", "-t", "raw", "-b", "16", "-e", "signed-integer",
			"-r", rate, "-c", channels, "-"), nil
	}
	return nil, fmt.Errorf("no audio recorder found (tried arecord, sox, rec)")
}

// Start launches the recorder and begins streaming chunks into the manager.
func (c *CommandCapture) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	cmd, err := c.recorderCommand(ctx)
	if err != nil {
		cancel()
		return err
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("start recorder: %w", err)
	}

	c.cancel = cancel
	c.done = make(chan struct{})
	c.logger.Info().Str("recorder", cmd.Path).Msg("Audio capture started")

	go c.readLoop(ctx, cmd, stdout)
	return nil
}

func (c *CommandCapture) readLoop(ctx context.Context, cmd *exec.Cmd, stdout io.Reader) {
	defer close(c.done)
	defer cmd.Wait() //nolint:errcheck

	bytesPerSample := c.config.BitDepth / 8
	chunkBytes := c.config.SampleRate * bytesPerSample * c.config.Channels * c.config.ChunkDurationMs / 1000
	if chunkBytes <= 0 {
		chunkBytes = 3200 // 100ms at 16kHz mono 16-bit
	}

	buf := make([]byte, chunkBytes)
	for {
		if ctx.Err() != nil {
			return
		}
		n, err := io.ReadFull(stdout, buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			c.manager.ProcessChunk(chunk)
		}
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Error().Err(err).Msg("Audio capture stopped unexpectedly")
			}
			return
		}
	}
}

// Stop kills the recorder and waits for the read loop to drain.
func (c *CommandCapture) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
	c.logger.Info().Msg("Audio capture stopped")
}
