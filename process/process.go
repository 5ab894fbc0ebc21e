// Package process manages the helper programs the Supervisor talks to
// over stdin/stdout (spec.md section 6's helper-process protocol): a
// Registry starts each configured helper once, feeds it outbound
// neighbor/session lines, and collects the commands it writes back onto
// a channel the Supervisor drains non-blockingly every iteration
// (spec.md section 5's "never touch Peer state directly" rule).
package process

import (
	"bufio"
	"context"
	"io"
	"net"
	"os/exec"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Command is one line a helper wrote to its stdout, tagged with the
// service key the original's Processes.write(service, string) would
// need to address a reply (spec_full.md section 5).
type Command struct {
	Service string
	Line    string
}

// Helper is one running helper process: its stdin, for lines the
// Registry writes to it, and the goroutine draining its stdout.
type Helper struct {
	name string
	cmd  *exec.Cmd
	in   io.WriteCloser
	log  *logrus.Entry
}

// Registry owns every configured helper process for the daemon's
// lifetime — started exactly once, per spec.md section 4.6's reload
// semantics; a reload never restarts helpers.
type Registry struct {
	mu      sync.Mutex
	helpers map[string]*Helper
	lines   chan Command
	group   *errgroup.Group
	log     *logrus.Entry
}

// New constructs an empty Registry. The context bounding each helper's
// stdout reader goroutine is passed to Start, not here.
func New() *Registry {
	return &Registry{
		helpers: make(map[string]*Helper),
		lines:   make(chan Command, 256),
		log:     logrus.WithField("component", "process"),
	}
}

// Start launches one helper under name, running command with args,
// wiring its stdin for outbound lines and its stdout for inbound
// commands. It must be called before the first Supervisor tick; the
// registry does not support adding helpers later.
func (r *Registry) Start(ctx context.Context, name, command string, args []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.helpers[name]; exists {
		return errors.Errorf("process: helper %q already started", name)
	}

	cmd := exec.CommandContext(ctx, command, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return errors.Wrap(err, "process: stdin pipe")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errors.Wrap(err, "process: stdout pipe")
	}
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return errors.Wrapf(err, "process: starting helper %q", name)
	}

	h := &Helper{
		name: name,
		cmd:  cmd,
		in:   stdin,
		log:  r.log.WithField("helper", name),
	}
	r.helpers[name] = h

	if r.group == nil {
		r.group, _ = errgroup.WithContext(ctx)
	}
	r.group.Go(func() error {
		return r.readLines(name, stdout)
	})
	return nil
}

func (r *Registry) readLines(service string, stdout io.Reader) error {
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		r.lines <- Command{Service: service, Line: line}
	}
	if err := scanner.Err(); err != nil {
		r.log.WithField("helper", service).WithError(err).Warn("helper stdout closed with an error")
		return err
	}
	r.log.WithField("helper", service).Debug("helper stdout closed")
	return nil
}

// Drain returns every command queued since the last call without
// blocking, for the Supervisor's "drain helper-process commands" step.
func (r *Registry) Drain() []Command {
	var cmds []Command
	for {
		select {
		case c := <-r.lines:
			cmds = append(cmds, c)
		default:
			return cmds
		}
	}
}

// Respond writes line back to the single helper identified by service,
// mirroring the original's Processes.write(service, string) addressing
// (spec_full.md section 5) rather than broadcasting a reply to every
// helper.
func (r *Registry) Respond(service, line string) error {
	r.mu.Lock()
	h, ok := r.helpers[service]
	r.mu.Unlock()
	if !ok {
		return errors.Errorf("process: unknown helper %q", service)
	}
	return h.write(line)
}

// Broadcast writes line to every running helper, used for the
// unaddressed outbound session lines (neighbor up/down, UPDATE
// forwarding) every helper is implicitly subscribed to, since the
// inbound grammar in spec.md section 6 has no subscribe/unsubscribe
// verb to narrow delivery.
func (r *Registry) Broadcast(line string) {
	r.mu.Lock()
	helpers := make([]*Helper, 0, len(r.helpers))
	for _, h := range r.helpers {
		helpers = append(helpers, h)
	}
	r.mu.Unlock()

	for _, h := range helpers {
		if err := h.write(line); err != nil {
			h.log.WithError(err).Warn("failed to write to helper")
		}
	}
}

func (h *Helper) write(line string) error {
	_, err := io.WriteString(h.in, line+"\n")
	if err != nil {
		return errors.Wrapf(err, "process: writing to helper %q", h.name)
	}
	return nil
}

// Shutdown closes every helper's stdin and waits for its stdout reader
// to finish, as the last step of spec.md section 4.6's shutdown
// sequence ("terminate helpers and remove the pidfile" — the pidfile
// removal is cmd/bgpd's job).
func (r *Registry) Shutdown() error {
	r.mu.Lock()
	helpers := make([]*Helper, 0, len(r.helpers))
	for _, h := range r.helpers {
		helpers = append(helpers, h)
	}
	r.mu.Unlock()

	for _, h := range helpers {
		if err := h.in.Close(); err != nil {
			h.log.WithError(err).Debug("closing helper stdin")
		}
	}
	if r.group == nil {
		return nil
	}
	if err := r.group.Wait(); err != nil {
		return errors.Wrap(err, "process: waiting for helpers to exit")
	}
	return nil
}

// The methods below implement peer.Announcer, translating a Peer's
// up/down/route-forwarding calls into the outbound line protocol of
// spec.md section 6 and broadcasting them to every helper.

func (r *Registry) NeighborUp(ip net.IP) {
	r.Broadcast("neighbor " + ip.String() + " up")
}

func (r *Registry) NeighborDown(ip net.IP, reason string) {
	line := "neighbor " + ip.String() + " down"
	if reason != "" {
		line += " " + reason
	}
	r.Broadcast(line)
}

func (r *Registry) UpdateStart(ip net.IP) {
	r.Broadcast("neighbor " + ip.String() + " update start")
}

func (r *Registry) Route(ip net.IP, line string) {
	r.Broadcast("neighbor " + ip.String() + " " + line)
}

func (r *Registry) UpdateEnd(ip net.IP) {
	r.Broadcast("neighbor " + ip.String() + " update end")
}
