package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/uiblocks/internal/infrastructure/logging"
	"github.com/GriffinCanCode/uiblocks/internal/script/compiler"
	"github.com/GriffinCanCode/uiblocks/internal/script/extract"
	"github.com/GriffinCanCode/uiblocks/internal/script/lexer"
	"github.com/GriffinCanCode/uiblocks/internal/script/parser"
	"github.com/GriffinCanCode/uiblocks/internal/shared/id"
)

// State is the lifecycle state of a session.
type State int

const (
	StateCreated State = iota
	StateIdle
	StateExecuting
	StateAwaiting
	StateDestroyed
)

var stateNames = [...]string{
	StateCreated:   "created",
	StateIdle:      "idle",
	StateExecuting: "executing",
	StateAwaiting:  "awaiting",
	StateDestroyed: "destroyed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(text []byte) error {
	for i, name := range stateNames {
		if name == string(text) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", text)
}

// pending is a fragment waiting for its batch.
type pending struct {
	id   string
	body string
}

// unit is a fragment that compiled.
type unit struct {
	id     string
	source string
	prog   *compiler.Program
}

// batch is the set of fragments drained together.
type batch struct {
	units    []unit
	globals  []string
	deadline time.Time
}

// Session runs the fragments of one terminal session. At most one batch
// is in flight; fragments run exactly once, in arrival order.
type Session struct {
	id   string
	core *core
	ctx  *Context
	log  *logging.Logger

	mu        sync.Mutex
	state     State
	queue     []pending
	carry     string
	visible   bool
	lastExec  time.Time
	awaiting  *batch
	inflight  chan struct{}
	extracted int
	executed  int
	failed    int
	batches   int
	latency   latencies
}

func newSession(sessionID string, c *core) *Session {
	return &Session{
		id:    sessionID,
		core:  c,
		log:   c.log.Session(sessionID),
		state: StateCreated,
	}
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// SessionID implements Host.
func (s *Session) SessionID() string {
	return s.id
}

// Context returns the execution context of the session.
func (s *Session) Context() *Context {
	return s.ctx
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Visible reports whether the session has a visible surface.
func (s *Session) Visible() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visible
}

// SetSurfaceVisible switches between immediate and coalesced scheduling.
func (s *Session) SetSurfaceVisible(visible bool) {
	s.mu.Lock()
	s.visible = visible
	s.mu.Unlock()
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	st := Stats{
		ID:          s.id,
		State:       s.state,
		Visible:     s.visible,
		Pending:     len(s.queue),
		Carry:       len(s.carry),
		Extracted:   s.extracted,
		Executed:    s.executed,
		Failed:      s.failed,
		Batches:     s.batches,
		LastExecute: s.lastExec,
		Latency:     s.latency.summary(),
	}
	s.mu.Unlock()

	if s.ctx != nil {
		st.StoreKeys = s.ctx.store.Len()
		st.Globals = s.ctx.Globals()
	}
	return st
}

// accept extracts the fragments of text, prefixed by the carried tail of
// the previous delivery, and queues them. It returns the display text
// and whether the queue should be drained right away.
func (s *Session) accept(text string) (string, bool) {
	marker := s.core.marker

	s.mu.Lock()
	if s.state == StateDestroyed {
		s.mu.Unlock()
		return extract.Strip(text, marker), false
	}

	combined := s.carry + text
	s.carry = ""

	head := combined
	overflow := 0
	if _, p := extract.All(combined, marker); p >= 0 {
		tail := combined[p:]
		if len(tail) > s.core.maxCarry {
			overflow = len(tail)
		} else {
			s.carry = tail
			head = combined[:p]
		}
	}

	frags, display := extract.Harvest(head, marker)
	for _, f := range frags {
		s.queue = append(s.queue, pending{id: id.NewFragmentID().String(), body: f.Body})
	}
	n := len(frags)
	s.extracted += n

	cold := !s.visible && len(s.queue) > 0 && (s.state == StateCreated || s.state == StateIdle)
	s.mu.Unlock()

	s.core.metrics.AddFragmentsExtracted(n)
	if overflow > 0 {
		s.report("", StageExtraction, fmt.Sprintf(
			"unterminated block of %d bytes exceeds the %d byte carry limit; dropped", overflow, s.core.maxCarry), nil)
	}
	return display, cold
}

// drain runs queued fragments while the scheduling policy allows it.
// Sessions without a visible surface drain immediately; visible sessions
// drain at most once per tick interval.
func (s *Session) drain(ctx context.Context) {
	for {
		now := s.core.clock.Now()

		s.mu.Lock()
		idle := s.state == StateCreated || s.state == StateIdle
		due := !s.visible || s.lastExec.IsZero() || now.Sub(s.lastExec) >= s.core.interval
		if !idle || len(s.queue) == 0 || !due {
			s.mu.Unlock()
			return
		}
		items := s.queue
		s.queue = nil
		s.claimLocked()
		s.mu.Unlock()

		b := s.prepare(ctx, items)
		unready := s.ctx.unready(b.globals)
		if len(unready) > 0 && s.core.readyTimeout > 0 {
			s.park(b, now.Add(s.core.readyTimeout), unready)
			return
		}
		if len(unready) > 0 {
			s.reportTimeout(unready)
		}
		s.run(ctx, b, unready)
	}
}

// tick is the periodic scheduling decision.
func (s *Session) tick(ctx context.Context) {
	now := s.core.clock.Now()

	s.mu.Lock()
	if s.state != StateAwaiting {
		s.mu.Unlock()
		s.drain(ctx)
		return
	}
	b := s.awaiting
	unready := s.ctx.unready(b.globals)
	if len(unready) > 0 && now.Before(b.deadline) {
		s.mu.Unlock()
		return
	}
	s.awaiting = nil
	s.claimLocked()
	s.mu.Unlock()

	if len(unready) > 0 {
		s.reportTimeout(unready)
	}
	s.run(ctx, b, unready)
	s.drain(ctx)
}

// isAwaiting reports whether the session is parked on capability readiness.
func (s *Session) isAwaiting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateAwaiting
}

func (s *Session) claimLocked() {
	s.state = StateExecuting
	s.inflight = make(chan struct{})
}

func (s *Session) releaseLocked() {
	if s.inflight != nil {
		close(s.inflight)
		s.inflight = nil
	}
}

// park holds a compiled batch until its capabilities are ready.
func (s *Session) park(b *batch, deadline time.Time, unready []string) {
	b.deadline = deadline

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDestroyed {
		s.releaseLocked()
		return
	}
	s.awaiting = b
	s.state = StateAwaiting
	s.releaseLocked()
	s.log.Debug("batch awaiting capabilities",
		zap.Strings("capabilities", unready),
		zap.Int("fragments", len(b.units)))
}

// prepare lexes, parses and compiles every fragment. Failures are
// reported and dropped; the survivors keep their order.
func (s *Session) prepare(ctx context.Context, items []pending) *batch {
	b := &batch{units: make([]unit, 0, len(items))}
	seen := make(map[string]bool)
	for _, item := range items {
		prog, err := s.compile(item.body)
		if err != nil {
			stage := classify(err)
			s.report(item.id, stage, err.Error(), err)
			s.record(ctx, Record{FragmentID: item.id, Source: item.body, Stage: stage, Error: err.Error()})
			continue
		}
		b.units = append(b.units, unit{id: item.id, source: item.body, prog: prog})
		for _, g := range prog.Globals {
			if !seen[g] {
				seen[g] = true
				b.globals = append(b.globals, g)
			}
		}
	}
	sort.Strings(b.globals)
	return b
}

func (s *Session) compile(body string) (*compiler.Program, error) {
	tokens, err := lexer.Tokenize(body)
	if err != nil {
		return nil, err
	}
	seq, err := parser.Parse(tokens)
	if err != nil {
		return nil, err
	}
	return compiler.Compile(seq, s.core.registry)
}

// run executes a claimed batch. Globals in withheld stay unbound for
// the whole batch.
func (s *Session) run(ctx context.Context, b *batch, withheld []string) {
	start := time.Now()
	defer func() { s.finish(len(b.units), time.Since(start)) }()

	if len(b.units) == 0 {
		return
	}

	if t := s.core.tracer; t != nil {
		span, spanCtx := t.StartSpan(ctx, "engine.batch")
		span.SetTag("session_id", s.id)
		span.SetTag("fragments", fmt.Sprint(len(b.units)))
		if len(withheld) > 0 {
			span.SetTag("withheld", strings.Join(withheld, ","))
		}
		ctx = spanCtx
		defer t.End(span, nil)
	}

	s.ctx.withhold(withheld)
	defer s.ctx.withhold(nil)

	for _, u := range b.units {
		if s.State() == StateDestroyed {
			return
		}
		s.execute(ctx, u)
	}
}

func (s *Session) execute(ctx context.Context, u unit) {
	start := time.Now()
	res := s.core.vm.Execute(ctx, u.prog, s.ctx)
	elapsed := time.Since(start)

	rec := Record{
		FragmentID: u.id,
		Source:     u.source,
		Steps:      res.Steps,
		Calls:      res.Calls,
		Duration:   elapsed,
	}
	if fp, err := u.prog.Fingerprint(); err == nil {
		rec.Fingerprint = fp
	}

	if res.Err != nil {
		stage := StageRuntime
		if res.Err.Unavailable {
			stage = StageCapabilityUnavailable
		}
		s.report(u.id, stage, res.Err.Error(), res.Err)
		rec.Stage = stage
		rec.Error = res.Err.Error()
	} else {
		s.mu.Lock()
		s.executed++
		s.mu.Unlock()
		s.core.metrics.RecordFragmentExecuted(res.Calls)
	}
	s.record(ctx, rec)
}

func (s *Session) finish(n int, elapsed time.Duration) {
	s.mu.Lock()
	if s.state != StateDestroyed {
		s.state = StateIdle
	}
	s.lastExec = s.core.clock.Now()
	if n > 0 {
		s.batches++
		s.latency.add(elapsed)
	}
	s.releaseLocked()
	s.mu.Unlock()

	if n > 0 {
		s.core.metrics.RecordBatch(elapsed)
		s.core.emit(Event{Kind: EventBatch, SessionID: s.id, Count: n})
	}
}

// destroy discards queued work, waits for the in-flight fragment and
// releases the capability handles.
func (s *Session) destroy(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateDestroyed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateDestroyed
	s.queue = nil
	s.awaiting = nil
	s.carry = ""
	wait := s.inflight
	s.mu.Unlock()

	if wait != nil {
		select {
		case <-wait:
		case <-ctx.Done():
			go func() {
				<-wait
				if err := s.ctx.release(); err != nil {
					s.log.Warn("failed to release capabilities", zap.Error(err))
				}
			}()
			return ctx.Err()
		}
	}
	return s.ctx.release()
}

func (s *Session) reportTimeout(unready []string) {
	s.report("", StageCapabilityTimeout, fmt.Sprintf(
		"%s not ready after %s; calls through %s will fail",
		strings.Join(unready, ", "), s.core.readyTimeout, plural(len(unready), "it", "them")), nil)
}

func (s *Session) report(fragmentID string, stage Stage, msg string, err error) {
	fe := &FragmentError{SessionID: s.id, FragmentID: fragmentID, Stage: stage, Msg: msg, Err: err}

	s.mu.Lock()
	s.failed++
	s.mu.Unlock()

	s.log.Warn("fragment failed",
		logging.FragmentID(fragmentID),
		zap.String("stage", stage.String()),
		zap.String("error", msg))
	s.core.metrics.RecordFragmentError(stage.Label())
	if s.core.onError != nil {
		s.core.onError(s.id, fe.Error())
	}
	st := stage
	s.core.emit(Event{Kind: EventFragmentError, SessionID: s.id, FragmentID: fragmentID, Stage: &st, Message: fe.Error()})
}

func (s *Session) print(line string) {
	s.log.Debug("console", zap.String("line", line))
	s.core.emit(Event{Kind: EventConsole, SessionID: s.id, Message: line})
}

func (s *Session) record(ctx context.Context, rec Record) {
	if s.core.recorder == nil {
		return
	}
	rec.SessionID = s.id
	rec.At = s.core.clock.Now()
	if err := s.core.recorder.Record(ctx, rec); err != nil {
		s.log.Warn("failed to record fragment", logging.FragmentID(rec.FragmentID), zap.Error(err))
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
