package acquire

import (
	"fmt"
	"io"
	"os/exec"
	"path/filepath"

	"github.com/arc-language/goapt/internal/config"
)

// Worker drives one fetch-method subprocess. The parent writes 600/601
// messages to its stdin and receives 1xx/2xx/4xx messages from its stdout;
// a reader goroutine pumps those into the owning Acquire's event channel.
type Worker struct {
	method string
	cmd    *exec.Cmd
	stdin  io.WriteCloser

	caps    *Message
	current *qItem
	queue   *Queue
}

// workerEvent is what the scheduler's select loop consumes: a parsed
// message, a worker death (err != nil, msg == nil), or a delayed requeue.
type workerEvent struct {
	w       *Worker
	msg     *Message
	err     error
	requeue *Item
}

// spawnWorker launches the method binary for the given scheme and starts
// its reader pump.
func spawnWorker(methodDir, method string, events chan<- workerEvent) (*Worker, error) {
	path := filepath.Join(methodDir, method)
	cmd := exec.Command(path)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("acquire: starting method %s: %w", path, err)
	}
	w := &Worker{method: method, cmd: cmd, stdin: stdin}
	go w.pump(stdout, events)
	return w, nil
}

// newPipeWorker wraps an in-process pair of streams as a Worker, used by
// tests to stand in for a method subprocess.
func newPipeWorker(method string, in io.WriteCloser, out io.Reader, events chan<- workerEvent) *Worker {
	w := &Worker{method: method, stdin: in}
	go w.pump(out, events)
	return w
}

// pump parses messages off the worker's output until EOF or error, then
// reports the death so in-flight items get requeued.
func (w *Worker) pump(out io.Reader, events chan<- workerEvent) {
	mr := NewMessageReader(out)
	for {
		msg, err := mr.Next()
		if err != nil {
			events <- workerEvent{w: w, err: err}
			return
		}
		events <- workerEvent{w: w, msg: msg}
	}
}

// send writes one framed message to the worker.
func (w *Worker) send(m *Message) error {
	return m.WriteTo(w.stdin)
}

// sendConfiguration forwards the Acquire subtree as Config-Item entries,
// the worker-visible slice of the configuration space.
func (w *Worker) sendConfiguration(cfg *config.Tree) error {
	if cfg == nil {
		return nil
	}
	m := NewMessage(CodeConfiguration, "Configuration")
	n := 0
	var walk func(prefix string, nodes []*config.Tree)
	walk = func(prefix string, nodes []*config.Tree) {
		for _, node := range nodes {
			path := prefix
			if node.Name() != "" {
				path = prefix + "::" + node.Name()
			}
			if v := node.Value(); v != "" {
				n++
				m.Set(fmt.Sprintf("Config-Item-%d", n), fmt.Sprintf("%s=%s", path, v))
			}
			walk(path, node.Children(""))
		}
	}
	walk("Acquire", cfg.Children("Acquire"))
	if n == 0 {
		return nil
	}
	return w.send(m)
}

// shutdown closes the worker's stdin; the method exits on EOF and the
// pump goroutine reports its death. A subprocess additionally gets reaped.
func (w *Worker) shutdown() {
	if w.stdin != nil {
		w.stdin.Close()
	}
	if w.cmd != nil {
		go w.cmd.Wait()
	}
}
