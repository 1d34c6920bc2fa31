package wake

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/mattn/go-shellwords"

	"github.com/ent0n29/voiced/internal/apperr"
	"github.com/ent0n29/voiced/internal/audio"
)

// ErrCaptureClosed is returned by ReadFrame after Close.
var ErrCaptureClosed = errors.New("capture closed")

// Capture is a blocking source of mono PCM16 frames.
type Capture interface {
	// ReadFrame fills dst completely or returns an error.
	ReadFrame(dst []int16) error
	Close() error
}

// CaptureOpener opens a capture at sampleRate that will be read frameLength samples at a time.
type CaptureOpener func(sampleRate, frameLength int) (Capture, error)

// ExecCapture reads raw PCM16LE from the stdout of a recorder process such as arecord or sox.
// The process is restarted on the next read after it exits.
type ExecCapture struct {
	args []string

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdout *io.PipeReader
	closed bool
	buf    []byte
}

// NewExecCaptureOpener returns an opener running command, with {rate} replaced by the sample rate.
func NewExecCaptureOpener(command string) CaptureOpener {
	return func(sampleRate, _ int) (Capture, error) {
		c, err := OpenExecCapture(command, sampleRate)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// OpenExecCapture checks that the recorder exists and starts it.
func OpenExecCapture(command string, sampleRate int) (*ExecCapture, error) {
	const op = "wake.capture.open"
	args, err := shellwords.Parse(command)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidInput, op, "parse capture command", err)
	}
	if len(args) == 0 {
		return nil, apperr.New(apperr.KindDependencyMissing, op, "capture command is empty")
	}
	rate := strconv.Itoa(sampleRate)
	for i, a := range args {
		args[i] = strings.ReplaceAll(a, "{rate}", rate)
	}
	if _, err := exec.LookPath(args[0]); err != nil {
		return nil, apperr.Wrap(apperr.KindDependencyMissing, op, "capture device unavailable", err)
	}
	c := &ExecCapture{args: args}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.startLocked(); err != nil {
		return nil, apperr.Wrap(apperr.KindDependencyMissing, op, "start capture", err)
	}
	return c, nil
}

func (c *ExecCapture) startLocked() (*io.PipeReader, error) {
	pr, pw := io.Pipe()
	cmd := exec.Command(c.args[0], c.args[1:]...)
	cmd.Stdout = pw
	if err := cmd.Start(); err != nil {
		_ = pr.Close()
		return nil, err
	}
	go func() {
		err := cmd.Wait()
		if err == nil {
			err = io.EOF
		}
		_ = pw.CloseWithError(err)
	}()
	c.cmd = cmd
	c.stdout = pr
	return pr, nil
}

func (c *ExecCapture) reader() (*io.PipeReader, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrCaptureClosed
	}
	if c.stdout != nil {
		return c.stdout, nil
	}
	return c.startLocked()
}

func (c *ExecCapture) ReadFrame(dst []int16) error {
	r, err := c.reader()
	if err != nil {
		return fmt.Errorf("start capture: %w", err)
	}
	if cap(c.buf) < len(dst)*audio.BytesPerSample {
		c.buf = make([]byte, len(dst)*audio.BytesPerSample)
	}
	buf := c.buf[:len(dst)*audio.BytesPerSample]
	if _, err := io.ReadFull(r, buf); err != nil {
		c.release(r)
		if c.isClosed() {
			return ErrCaptureClosed
		}
		return fmt.Errorf("read capture: %w", err)
	}
	audio.DecodeInt16(dst, buf)
	return nil
}

// release stops the process behind r unless another read already replaced it.
func (c *ExecCapture) release(r *io.PipeReader) {
	c.mu.Lock()
	if c.stdout != r {
		c.mu.Unlock()
		return
	}
	cmd := c.cmd
	c.cmd, c.stdout = nil, nil
	c.mu.Unlock()
	stopProcess(cmd, r)
}

func (c *ExecCapture) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close stops the recorder and unblocks a pending ReadFrame.
func (c *ExecCapture) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cmd, r := c.cmd, c.stdout
	c.cmd, c.stdout = nil, nil
	c.mu.Unlock()
	stopProcess(cmd, r)
	return nil
}

func stopProcess(cmd *exec.Cmd, r *io.PipeReader) {
	if r != nil {
		_ = r.Close()
	}
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}
