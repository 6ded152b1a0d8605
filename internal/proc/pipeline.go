// Package proc supervises chains of external processes whose standard output
// feeds the next process's standard input, the way a shell pipeline would,
// but with a single owner responsible for tearing every member down.
package proc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultStopTimeout bounds how long Close waits for members to exit on their own.
const DefaultStopTimeout = 2 * time.Second

// waitDelay bounds the time Wait spends copying stderr after a member exits.
// It matters when a member leaves behind a grandchild that still holds the pipe.
const waitDelay = time.Second

// Command is one member of a pipeline.
type Command struct {
	Path string
	Args []string
}

func (c Command) String() string {
	return strings.TrimSpace(c.Path + " " + strings.Join(c.Args, " "))
}

// Pipeline is a running chain of processes. Read returns the last member's
// standard output. Close must be called exactly when the caller is done
// reading; it reaps every member, killing any that outlive the stop timeout.
type Pipeline struct {
	cmds    []*exec.Cmd
	names   []string
	stderr  []*tailBuffer
	errs    []error
	out     *os.File
	timeout time.Duration

	wg     sync.WaitGroup
	done   chan struct{}
	killed atomic.Bool

	closeOnce sync.Once
	closeErr  error
}

// Start launches cmds connected by pipes. If any member fails to start,
// the members already running are killed and reaped before Start returns.
// Cancelling ctx kills every member.
func Start(ctx context.Context, stopTimeout time.Duration, cmds ...Command) (*Pipeline, error) {
	if len(cmds) == 0 {
		return nil, errors.New("proc: empty pipeline")
	}
	if stopTimeout <= 0 {
		stopTimeout = DefaultStopTimeout
	}

	p := &Pipeline{
		cmds:    make([]*exec.Cmd, 0, len(cmds)),
		names:   make([]string, 0, len(cmds)),
		stderr:  make([]*tailBuffer, 0, len(cmds)),
		errs:    make([]error, len(cmds)),
		timeout: stopTimeout,
		done:    make(chan struct{}),
	}

	var stdin *os.File
	for _, c := range cmds {
		cmd := exec.CommandContext(ctx, c.Path, c.Args...)
		cmd.WaitDelay = waitDelay
		if stdin != nil {
			cmd.Stdin = stdin
		}

		r, w, err := os.Pipe()
		if err != nil {
			closeFile(stdin)
			p.abort()
			return nil, fmt.Errorf("create pipe for %s: %w", c.Path, err)
		}
		cmd.Stdout = w
		errBuf := &tailBuffer{limit: 2048}
		cmd.Stderr = errBuf

		if err := cmd.Start(); err != nil {
			closeFile(w)
			closeFile(r)
			closeFile(stdin)
			p.abort()
			return nil, fmt.Errorf("start %s: %w", c.Path, err)
		}

		// The child holds its own copies now.
		closeFile(w)
		closeFile(stdin)
		stdin = r

		p.track(cmd, c.Path, errBuf)
	}

	p.out = stdin
	go func() {
		p.wg.Wait()
		close(p.done)
	}()
	return p, nil
}

func (p *Pipeline) track(cmd *exec.Cmd, name string, errBuf *tailBuffer) {
	idx := len(p.cmds)
	p.cmds = append(p.cmds, cmd)
	p.names = append(p.names, name)
	p.stderr = append(p.stderr, errBuf)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.errs[idx] = cmd.Wait()
	}()
}

// abort kills and reaps whatever was started during a failed Start.
func (p *Pipeline) abort() {
	p.killed.Store(true)
	for _, cmd := range p.cmds {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
	}
	p.wg.Wait()
}

// Read reads from the last member's standard output.
func (p *Pipeline) Read(b []byte) (int, error) {
	return p.out.Read(b)
}

// Close releases the output pipe, waits up to the stop timeout for every
// member to exit, kills the survivors, and reaps them. It returns the first
// abnormal exit among members, annotated with the tail of its stderr. A
// pipeline that had to be killed reports no exit error.
func (p *Pipeline) Close() error {
	p.closeOnce.Do(func() {
		// Upstream writers see EPIPE once nobody reads.
		closeFile(p.out)

		timer := time.NewTimer(p.timeout)
		defer timer.Stop()

		select {
		case <-p.done:
		case <-timer.C:
			p.killed.Store(true)
			for _, cmd := range p.cmds {
				_ = cmd.Process.Kill()
			}
			<-p.done
		}

		if !p.killed.Load() {
			p.closeErr = p.exitErr()
		}
	})
	return p.closeErr
}

func (p *Pipeline) exitErr() error {
	for i, err := range p.errs[:len(p.cmds)] {
		if err == nil {
			continue
		}
		if tail := strings.TrimSpace(p.stderr[i].String()); tail != "" {
			return fmt.Errorf("%s: %w: %s", p.names[i], err, tail)
		}
		return fmt.Errorf("%s: %w", p.names[i], err)
	}
	return nil
}

// Exited reports whether every member has been reaped.
func (p *Pipeline) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Killed reports whether Close had to kill members.
func (p *Pipeline) Killed() bool {
	return p.killed.Load()
}

func closeFile(f *os.File) {
	if f != nil {
		_ = f.Close()
	}
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	buf   []byte
	limit int
}

func (t *tailBuffer) Write(b []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, b...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(b), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
