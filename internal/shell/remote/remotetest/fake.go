// Package remotetest provides an in-memory remote.Transport for tests.
package remotetest

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/artpar/shipyard/internal/core/domain"
	"github.com/artpar/shipyard/internal/shell/remote"
	"golang.org/x/crypto/ssh"
)

// CallKind classifies recorded calls.
type CallKind string

const (
	CallRun    CallKind = "run"
	CallStream CallKind = "stream"
	CallUpload CallKind = "upload"
	CallRead   CallKind = "read"
	CallWrite  CallKind = "write"
)

// Call is one recorded transport operation.
type Call struct {
	Kind   CallKind
	Cmd    string // run, stream
	Local  string // upload
	Remote string // upload, read, write
	Data   string // write
}

// Responder produces the result of a Run or Stream whose command matched.
type Responder func(call Call) (string, error)

type handler struct {
	match   string
	respond Responder
}

// Transport records every call and serves files from memory. Commands without
// a registered responder succeed with empty output.
type Transport struct {
	mu         sync.Mutex
	calls      []Call
	files      map[string]string
	handlers   []handler
	uploadErrs map[string]error
	readErr    error
	writeErr   error
	closed     bool
}

var _ remote.Transport = (*Transport)(nil)

// New returns an empty fake.
func New() *Transport {
	return &Transport{
		files:      make(map[string]string),
		uploadErrs: make(map[string]error),
	}
}

// On registers a responder for commands containing match. Later
// registrations take precedence over earlier ones.
func (f *Transport) On(match string, r Responder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append(f.handlers, handler{match: match, respond: r})
}

// Reply registers a fixed output for commands containing match.
func (f *Transport) Reply(match, output string) {
	f.On(match, func(Call) (string, error) { return output, nil })
}

// Fail registers a failure for commands containing match.
func (f *Transport) Fail(match string, err error) {
	f.On(match, func(Call) (string, error) { return "", err })
}

// FailUpload makes uploads of localPath fail with err.
func (f *Transport) FailUpload(localPath string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploadErrs[localPath] = err
}

// FailRead makes every ReadFile fail with err.
func (f *Transport) FailRead(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readErr = err
}

// FailWrite makes every WriteFile fail with err.
func (f *Transport) FailWrite(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeErr = err
}

// SetFile seeds a remote file.
func (f *Transport) SetFile(remotePath, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[remotePath] = content
}

// File returns a remote file's content.
func (f *Transport) File(remotePath string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	content, ok := f.files[remotePath]
	return content, ok
}

// Calls returns every recorded call in order.
func (f *Transport) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallsOf returns the recorded calls of one kind.
func (f *Transport) CallsOf(kind CallKind) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

// Commands returns the commands passed to Run and Stream.
func (f *Transport) Commands() []string {
	var out []string
	for _, c := range f.Calls() {
		if c.Kind == CallRun || c.Kind == CallStream {
			out = append(out, c.Cmd)
		}
	}
	return out
}

// CountMatching returns how many Run calls contained match.
func (f *Transport) CountMatching(match string) int {
	n := 0
	for _, c := range f.CallsOf(CallRun) {
		if strings.Contains(c.Cmd, match) {
			n++
		}
	}
	return n
}

// Closed reports whether Close was called.
func (f *Transport) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *Transport) record(c Call) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
}

func (f *Transport) respond(c Call) (string, error) {
	f.mu.Lock()
	var r Responder
	for i := len(f.handlers) - 1; i >= 0; i-- {
		if strings.Contains(c.Cmd, f.handlers[i].match) {
			r = f.handlers[i].respond
			break
		}
	}
	f.mu.Unlock()

	if r == nil {
		return "", nil
	}
	return r(c)
}

// Run implements remote.Transport.
func (f *Transport) Run(ctx context.Context, cmd string) ([]byte, error) {
	c := Call{Kind: CallRun, Cmd: cmd}
	f.record(c)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out, err := f.respond(c)
	return []byte(out), err
}

// Stream implements remote.Transport. The responder output is written to w;
// a responder may block on ctx to simulate a follow.
func (f *Transport) Stream(ctx context.Context, cmd string, w io.Writer) error {
	c := Call{Kind: CallStream, Cmd: cmd}
	f.record(c)
	if err := ctx.Err(); err != nil {
		return err
	}
	out, err := f.respond(c)
	if out != "" {
		if _, werr := io.WriteString(w, out); werr != nil {
			return werr
		}
	}
	return err
}

// Upload implements remote.Transport. The local path must exist.
func (f *Transport) Upload(ctx context.Context, localPath, remotePath string) error {
	f.record(Call{Kind: CallUpload, Local: localPath, Remote: remotePath})
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	err := f.uploadErrs[localPath]
	f.mu.Unlock()
	if err != nil {
		return err
	}

	if _, err := os.Stat(localPath); err != nil {
		return err
	}

	f.mu.Lock()
	f.files[remotePath] = "uploaded:" + localPath
	f.mu.Unlock()
	return nil
}

// ReadFile implements remote.Transport.
func (f *Transport) ReadFile(ctx context.Context, remotePath string) ([]byte, error) {
	f.record(Call{Kind: CallRead, Remote: remotePath})
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return nil, f.readErr
	}
	content, ok := f.files[remotePath]
	if !ok {
		return nil, fmt.Errorf("%w: %s", remote.ErrNotExist, remotePath)
	}
	return []byte(content), nil
}

// WriteFile implements remote.Transport.
func (f *Transport) WriteFile(ctx context.Context, remotePath string, data []byte, _ os.FileMode) error {
	f.record(Call{Kind: CallWrite, Remote: remotePath, Data: string(data)})
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.files[remotePath] = string(data)
	return nil
}

// Close implements remote.Transport.
func (f *Transport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Mutations returns the calls that may change remote state: uploads, writes
// and commands other than the ones listed as read-only.
func (f *Transport) Mutations(readOnly ...string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		switch c.Kind {
		case CallUpload, CallWrite:
			out = append(out, c)
		case CallRun:
			safe := false
			for _, ro := range readOnly {
				if strings.Contains(c.Cmd, ro) {
					safe = true
					break
				}
			}
			if !safe {
				out = append(out, c)
			}
		}
	}
	return out
}

// =============================================================================
// Dialer
// =============================================================================

// Dialer hands out a fixed Transport or fails.
type Dialer struct {
	Transport *Transport
	Err       error

	mu     sync.Mutex
	dialed int
}

var _ remote.Dialer = (*Dialer)(nil)

// Dial implements remote.Dialer.
func (d *Dialer) Dial(ctx context.Context, _ domain.DeployTarget, _ ssh.Signer) (remote.Transport, error) {
	d.mu.Lock()
	d.dialed++
	d.mu.Unlock()

	if d.Err != nil {
		return nil, d.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return d.Transport, nil
}

// Dialed returns how many times Dial was called.
func (d *Dialer) Dialed() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dialed
}
