package wake

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-shellwords"

	"github.com/ent0n29/voiced/internal/apperr"
	"github.com/ent0n29/voiced/internal/audio"
)

const (
	spotterFrameLen = 512
	keywordExt      = ".ppn"
	// AccessKeyEnv is how the access key reaches the spotter process. It is never put on argv.
	AccessKeyEnv = "PICOVOICE_ACCESS_KEY"
)

var (
	errSpotterExited = errors.New("keyword spotter exited")
	errSpotterClosed = errors.New("keyword spotter closed")
)

// KeywordConfig names the keyword model. Path wins over Dir; from Dir the first .ppn file is used.
type KeywordConfig struct {
	Path      string
	Dir       string
	ModelPath string
}

// ResolveKeyword returns the keyword file to load.
func ResolveKeyword(kw KeywordConfig) (string, error) {
	if p := strings.TrimSpace(kw.Path); p != "" {
		if _, err := os.Stat(p); err != nil {
			return "", fmt.Errorf("keyword file: %w", err)
		}
		return p, nil
	}
	dir := strings.TrimSpace(kw.Dir)
	if dir == "" {
		return "", errors.New("no keyword path or directory configured")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("keyword dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), keywordExt) {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return "", fmt.Errorf("no %s keyword found in %s", keywordExt, dir)
	}
	slices.Sort(names)
	return filepath.Join(dir, names[0]), nil
}

// ExecEngine drives an external keyword spotter. Frames go to its stdin as PCM16LE and every
// non-empty stdout line is one detection. A spotter that exits is started again on the next frame.
type ExecEngine struct {
	keyword string
	bin     string
	args    []string
	env     []string
	hits    chan string

	mu     sync.Mutex
	proc   *spotterProc
	closed bool
}

type spotterProc struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	exited chan struct{}
}

// OpenExecEngine validates the credential and keyword file and starts the spotter.
func OpenExecEngine(command string, kw KeywordConfig, accessKey string, sensitivity float64) (*ExecEngine, error) {
	const op = "wake.exec.open"
	if strings.TrimSpace(command) == "" {
		return nil, apperr.New(apperr.KindDependencyMissing, op, "keyword spotter command not configured")
	}
	if strings.TrimSpace(accessKey) == "" {
		return nil, apperr.New(apperr.KindDependencyMissing, op, "access key not set")
	}
	if sensitivity < 0 || sensitivity > 1 {
		return nil, apperr.New(apperr.KindInvalidInput, op, "sensitivity must be within [0, 1]")
	}
	keyword, err := ResolveKeyword(kw)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDependencyMissing, op, "keyword unavailable", err)
	}
	args, err := shellwords.Parse(command)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidInput, op, "parse spotter command", err)
	}
	if len(args) == 0 {
		return nil, apperr.New(apperr.KindDependencyMissing, op, "keyword spotter command is empty")
	}
	bin, err := exec.LookPath(args[0])
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDependencyMissing, op, "keyword spotter not found", err)
	}

	args = append(args[1:],
		"--keyword", keyword,
		"--sensitivity", strconv.FormatFloat(sensitivity, 'f', 2, 64),
		"--sample-rate", strconv.Itoa(SampleRate),
		"--frame-length", strconv.Itoa(spotterFrameLen),
	)
	if kw.ModelPath != "" {
		args = append(args, "--model", kw.ModelPath)
	}
	e := &ExecEngine{
		keyword: strings.TrimSuffix(filepath.Base(keyword), filepath.Ext(keyword)),
		bin:     bin,
		args:    args,
		env:     append(os.Environ(), AccessKeyEnv+"="+accessKey),
		hits:    make(chan string, 8),
	}
	proc, err := e.start()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDependencyMissing, op, "start keyword spotter", err)
	}
	e.proc = proc
	return e, nil
}

func (e *ExecEngine) start() (*spotterProc, error) {
	cmd := exec.Command(e.bin, e.args...)
	cmd.Env = e.env
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("spotter stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("spotter stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	p := &spotterProc{cmd: cmd, stdin: stdin, exited: make(chan struct{})}
	go e.readHits(stdout, p.exited)
	return p, nil
}

func (e *ExecEngine) readHits(stdout io.Reader, exited chan struct{}) {
	defer close(exited)
	sc := bufio.NewScanner(stdout)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		select {
		case e.hits <- line:
		default:
		}
	}
}

func (e *ExecEngine) Name() string     { return EngineExec }
func (e *ExecEngine) FrameLength() int { return spotterFrameLen }

// Keyword is the keyword file name without extension.
func (e *ExecEngine) Keyword() string { return e.keyword }

// Process writes frame to the spotter and reports any detection it has printed since the last call.
// When the spotter has exited the call reaps it and returns errSpotterExited; the next call restarts it.
func (e *ExecEngine) Process(_ context.Context, frame []int16) (Detection, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return Detection{}, false, errSpotterClosed
	}
	if e.proc == nil {
		p, err := e.start()
		if err != nil {
			return Detection{}, false, fmt.Errorf("restart keyword spotter: %w", err)
		}
		e.proc = p
	}
	p := e.proc
	select {
	case <-p.exited:
		_ = p.stdin.Close()
		_ = p.cmd.Wait()
		e.proc = nil
		return Detection{}, false, errSpotterExited
	default:
	}
	if _, err := p.stdin.Write(audio.EncodeInt16(frame)); err != nil {
		return Detection{}, false, fmt.Errorf("write spotter frame: %w", err)
	}
	select {
	case line := <-e.hits:
		return Detection{Keyword: e.keyword, Text: line, At: time.Now()}, true, nil
	default:
		return Detection{}, false, nil
	}
}

func (e *ExecEngine) Close() error {
	e.mu.Lock()
	p := e.proc
	e.proc = nil
	e.closed = true
	e.mu.Unlock()
	if p == nil {
		return nil
	}
	_ = p.stdin.Close()
	select {
	case <-p.exited:
	case <-time.After(500 * time.Millisecond):
		_ = p.cmd.Process.Kill()
		<-p.exited
	}
	_ = p.cmd.Wait()
	return nil
}

var _ Engine = (*ExecEngine)(nil)
