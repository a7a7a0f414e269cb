package acquire

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/arc-language/goapt/internal/config"
	"github.com/arc-language/goapt/internal/errstack"
	"github.com/arc-language/goapt/internal/hashes"
)

// qItem is one scheduled (item, uri) pair waiting in a queue.
type qItem struct {
	item *Item
	uri  string
}

// Queue serializes fetches sharing a scheduling slot: one queue per host
// in "host" mode, one per URI scheme in "access" mode. FIFO within the
// queue; at most maxWorkers items in flight.
type Queue struct {
	name       string
	pending    []*qItem
	workers    []*Worker
	maxWorkers int
	broken     bool // method failed to spawn; everything routed here fails
}

// FetchFailed reports the items that ended in StateError after a Run.
type FetchFailed struct {
	Failed []string
}

func (e *FetchFailed) Error() string {
	return fmt.Sprintf("acquire: %d item(s) failed: %s", len(e.Failed), strings.Join(e.Failed, ", "))
}

// Acquire owns items and queues and runs the scheduling loop.
type Acquire struct {
	cfg *config.Tree
	es  *errstack.Stack
	log *log.Logger

	// MethodDir is where fetch-method binaries live.
	MethodDir string

	items  []*Item
	queues map[string]*Queue
	events chan workerEvent
	byHost bool

	// spawn is swappable so tests can inject pipe-backed workers.
	spawn func(method string) (*Worker, error)
}

// New builds a scheduler from the configuration tree. Queue mode and the
// stall timeout come from Acquire::Queue-Mode and Acquire::Max-Stall-Seconds.
func New(cfg *config.Tree, es *errstack.Stack, logger *log.Logger) *Acquire {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	a := &Acquire{
		cfg:       cfg,
		es:        es,
		log:       logger,
		MethodDir: cfg.Find("Dir::Bin::Methods", "/usr/lib/goapt/methods"),
		queues:    make(map[string]*Queue),
		events:    make(chan workerEvent, 64),
		byHost:    cfg.Find("Acquire::Queue-Mode", "host") == "host",
	}
	a.spawn = func(method string) (*Worker, error) {
		return spawnWorker(a.MethodDir, method, a.events)
	}
	return a
}

// Add registers an item. The scheduler owns it from here on; the returned
// reference stays valid until the next Run completes. Duplicate
// destinations are rejected so two items never race on one file.
func (a *Acquire) Add(it *Item) (*Item, error) {
	for _, other := range a.items {
		if other.DestFile == it.DestFile {
			return nil, fmt.Errorf("acquire: duplicate destination %s", it.DestFile)
		}
	}
	if len(it.URIs) == 0 {
		return nil, fmt.Errorf("acquire: item %s has no URIs", it.Desc)
	}
	it.State = StateIdle
	it.owner = a
	a.items = append(a.items, it)
	return it, nil
}

// Items returns the registered items in registration order.
func (a *Acquire) Items() []*Item { return a.items }

func (a *Acquire) queueFor(uri string) *Queue {
	name := queueName(uri, a.byHost)
	q, ok := a.queues[name]
	if !ok {
		q = &Queue{
			name:       name,
			maxWorkers: a.cfg.FindI("Acquire::Queue-Parallel", 1),
		}
		a.queues[name] = q
	}
	return q
}

func (a *Acquire) enqueue(it *Item) {
	it.State = StateIdle
	q := a.queueFor(it.CurrentURI())
	q.pending = append(q.pending, &qItem{item: it, uri: it.CurrentURI()})
}

// pump hands pending queue entries to free workers, spawning workers as
// needed. A queue whose method cannot be spawned fails everything in it.
func (a *Acquire) pump() {
	for _, q := range a.queues {
		for len(q.pending) > 0 {
			if q.broken {
				for _, qi := range q.pending {
					a.failItem(qi.item, nil, "fetch method unavailable")
				}
				q.pending = nil
				break
			}
			w := a.freeWorker(q)
			if w == nil {
				break
			}
			qi := q.pending[0]
			q.pending = q.pending[1:]
			w.current = qi
			qi.item.State = StateFetching
			a.log.Printf("start %s via %s", qi.uri, w.method)
			if err := w.send(qi.item.custom600()); err != nil {
				a.es.Errorf(errstack.KindIO, "acquire", err, "writing to %s method", w.method)
				a.requeueOrFail(qi.item, nil)
				w.current = nil
			}
		}
	}
}

// freeWorker finds or creates an idle worker for q, up to its slot limit.
func (a *Acquire) freeWorker(q *Queue) *Worker {
	for _, w := range q.workers {
		if w.current == nil {
			return w
		}
	}
	if len(q.workers) >= q.maxWorkers {
		return nil
	}
	method := methodName(q.pending[0].uri)
	w, err := a.spawn(method)
	if err != nil {
		a.es.Errorf(errstack.KindConfiguration, "acquire", err, "spawning method %s", method)
		q.broken = true
		return nil
	}
	w.queue = q
	q.workers = append(q.workers, w)
	w.sendConfiguration(a.cfg)
	return w
}

// Run schedules every idle item until all reach a terminal state. It
// returns nil when everything succeeded, a *FetchFailed when some items
// failed, and the context error on cancellation. Cancellation closes each
// worker's stdin and leaves in-flight items Idle for a later resume.
func (a *Acquire) Run(ctx context.Context) error {
	for _, it := range a.items {
		if it.State == StateIdle {
			a.enqueue(it)
		}
	}

	stallSecs := a.cfg.FindI("Acquire::Max-Stall-Seconds", 120)
	stall := time.NewTimer(time.Duration(stallSecs) * time.Second)
	defer stall.Stop()

	for !a.allTerminal() {
		a.pump()
		if a.allTerminal() {
			break
		}
		select {
		case ev := <-a.events:
			if !stall.Stop() {
				select {
				case <-stall.C:
				default:
				}
			}
			stall.Reset(time.Duration(stallSecs) * time.Second)
			a.handleEvent(ev)
		case <-stall.C:
			a.shutdownWorkers()
			return fmt.Errorf("acquire: no worker activity for %d seconds", stallSecs)
		case <-ctx.Done():
			a.shutdownWorkers()
			return ctx.Err()
		}
	}

	a.shutdownWorkers()

	var failed []string
	for _, it := range a.items {
		if it.State == StateError {
			failed = append(failed, it.Desc)
		}
	}
	if len(failed) > 0 {
		return &FetchFailed{Failed: failed}
	}
	return nil
}

func (a *Acquire) allTerminal() bool {
	for _, it := range a.items {
		if it.State != StateDone && it.State != StateError {
			return false
		}
	}
	return true
}

func (a *Acquire) shutdownWorkers() {
	for _, q := range a.queues {
		for _, w := range q.workers {
			if w.current != nil {
				// In-flight at cancellation: back to Idle so a re-run can
				// resume the partial.
				w.current.item.State = StateIdle
				w.current = nil
			}
			w.shutdown()
		}
		q.workers = nil
	}
}

func (a *Acquire) handleEvent(ev workerEvent) {
	if ev.requeue != nil {
		a.enqueue(ev.requeue)
		return
	}
	w := ev.w
	if ev.err != nil {
		// Worker died. Requeue whatever it held and drop it from its queue.
		if ev.err != io.EOF {
			a.es.Warnf("acquire", "method %s: %v", w.method, ev.err)
		}
		if w.queue != nil {
			keep := w.queue.workers[:0]
			for _, other := range w.queue.workers {
				if other != w {
					keep = append(keep, other)
				}
			}
			w.queue.workers = keep
		}
		if w.current != nil {
			it := w.current.item
			w.current = nil
			if it.State == StateFetching {
				a.enqueue(it)
			}
		}
		return
	}

	msg := ev.msg
	switch msg.Code {
	case CodeCapabilities:
		w.caps = msg
	case CodeLog:
		a.log.Printf("[%s] %s", w.method, msg.Get("Message"))
	case CodeStatus:
		a.log.Printf("[%s] status: %s", w.method, msg.Get("Message"))
	case CodeURIStart:
		if w.current != nil {
			w.current.item.State = StateFetching
		}
	case CodeURIDone:
		if w.current == nil {
			a.es.Warnf("acquire", "method %s reported completion with nothing in flight", w.method)
			return
		}
		it := w.current.item
		w.current = nil
		a.finishItem(it, msg)
	case CodeURIFailure, CodeGeneralFail:
		if w.current == nil {
			a.es.Warnf("acquire", "method %s reported failure with nothing in flight", w.method)
			return
		}
		it := w.current.item
		w.current = nil
		a.log.Printf("failure %s: %s", it.CurrentURI(), msg.Get("Message"))
		a.requeueOrFail(it, msg)
	default:
		// Unknown codes are logged and ignored per the protocol contract.
		a.log.Printf("[%s] unknown message code %d", w.method, msg.Code)
	}
}

// finishItem verifies a 201 and either completes the item or falls to the
// next URI on hash mismatch.
func (a *Acquire) finishItem(it *Item, msg *Message) {
	if msg.GetBool("IMS-Hit") {
		it.finalizeIMSHit()
		a.completeItem(it, msg)
		return
	}

	gotFile := msg.Get("Filename")
	if gotFile == "" {
		gotFile = it.fetchFile()
	}

	if ok, err := a.verifyHashes(it, gotFile, msg); err != nil {
		a.es.Errorf(errstack.KindIO, "acquire", err, "verifying %s", gotFile)
		a.requeueOrFail(it, msg)
		return
	} else if !ok {
		a.es.Errorf(errstack.KindIntegrityMismatch, "acquire", nil,
			"hash mismatch for %s from %s", it.Desc, it.CurrentURI())
		if gotFile != it.DestFile {
			os.Remove(gotFile)
		}
		a.requeueOrFail(it, msg)
		return
	}

	if err := it.moveIntoPlace(gotFile); err != nil {
		a.es.Errorf(errstack.KindIO, "acquire", err, "renaming %s into place", gotFile)
		a.requeueOrFail(it, msg)
		return
	}
	a.completeItem(it, msg)
}

func (a *Acquire) completeItem(it *Item, msg *Message) {
	if it.OnDone != nil {
		if err := it.OnDone(it, msg); err != nil {
			a.failItem(it, msg, err.Error())
			return
		}
	}
	it.State = StateDone
	a.log.Printf("done %s", it.Desc)
}

// verifyHashes checks the fetched file against the item's expected list.
// Hashes the worker reported are trusted as computed-in-stream; expected
// kinds the worker did not report are recomputed from the file, so a
// method reporting only a weak hash still gets strong verification.
func (a *Acquire) verifyHashes(it *Item, file string, msg *Message) (bool, error) {
	if it.Expected.Empty() {
		return true, nil
	}
	for _, kind := range hashes.AllKinds {
		want, ok := it.Expected.Find(kind)
		if !ok {
			continue
		}
		got := msg.Get(kind.String() + "-Hash")
		if got == "" {
			f, err := os.Open(file)
			if err != nil {
				return false, err
			}
			got, err = hashes.Sum(kind, f)
			f.Close()
			if err != nil {
				return false, err
			}
		}
		if !strings.EqualFold(got, want) {
			return false, nil
		}
	}
	return true, nil
}

// requeueOrFail moves an item to its next URI, or schedules a full retry
// pass with exponential backoff, or fails it for good.
func (a *Acquire) requeueOrFail(it *Item, msg *Message) {
	if it.nextURI() {
		it.Retries++
		a.enqueue(it)
		return
	}

	maxRetries := a.cfg.FindI("Acquire::Retries", 1)
	fullPasses := it.Retries / max(len(it.URIs), 1)
	if fullPasses < maxRetries {
		it.Retries++
		it.uriIndex = 0
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = 500 * time.Millisecond
		var delay time.Duration
		for i := 0; i <= fullPasses; i++ {
			delay = bo.NextBackOff()
		}
		a.log.Printf("retrying %s in %s", it.Desc, delay)
		time.AfterFunc(delay, func() { a.events <- workerEvent{requeue: it} })
		return
	}

	reason := "all URIs failed"
	if msg != nil && msg.Get("Message") != "" {
		reason = msg.Get("Message")
	}
	a.failItem(it, msg, reason)
}

func (a *Acquire) failItem(it *Item, msg *Message, reason string) {
	it.State = StateError
	it.ErrorText = reason
	a.es.Errorf(errstack.KindTransient, "acquire", nil, "%s: %s", it.Desc, reason)
	if it.OnFail != nil {
		it.OnFail(it, msg)
	}
}
