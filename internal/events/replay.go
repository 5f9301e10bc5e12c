package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// DefaultMaxStepDelay caps the inter-event delay during replay so long
// idle gaps in the original run do not stall playback.
const DefaultMaxStepDelay = 2 * time.Second

// PlaybackState is the controller state of a replay
type PlaybackState string

const (
	PlaybackPlaying PlaybackState = "playing"
	PlaybackPaused  PlaybackState = "paused"
	PlaybackDone    PlaybackState = "done"
)

type playbackCommandKind int

const (
	cmdPlay playbackCommandKind = iota
	cmdPause
	cmdStep
	cmdSeek
)

type playbackCommand struct {
	kind playbackCommandKind
	seek int
}

// PlaybackOptions configures a replay
type PlaybackOptions struct {
	// MaxStepDelay caps the delay between consecutive events (default 2s)
	MaxStepDelay time.Duration

	// AutoPlay starts the replay immediately instead of paused
	AutoPlay bool
}

// Playback re-emits a completed run's events to a single consumer with
// pacing derived from the original timestamps. The stream is framed by
// replay_started and replay_completed markers; the record's own events
// pass through unchanged.
type Playback struct {
	events   []Event
	maxDelay time.Duration

	out    chan Event
	ctrl   chan playbackCommand
	stopCh chan struct{}
	doneCh chan struct{}

	stopOnce sync.Once

	mu    sync.Mutex
	state PlaybackState
	pos   int
}

// NewPlayback creates a replay over the given events and starts its
// control loop. The caller consumes Events() and drives the controller.
func NewPlayback(evts []Event, opts PlaybackOptions) *Playback {
	maxDelay := opts.MaxStepDelay
	if maxDelay <= 0 {
		maxDelay = DefaultMaxStepDelay
	}

	state := PlaybackPaused
	if opts.AutoPlay {
		state = PlaybackPlaying
	}

	p := &Playback{
		events:   evts,
		maxDelay: maxDelay,
		out:      make(chan Event),
		ctrl:     make(chan playbackCommand, 4),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		state:    state,
	}

	go p.run()
	return p
}

// Events returns the replay stream. The channel closes when playback
// finishes or is stopped.
func (p *Playback) Events() <-chan Event {
	return p.out
}

// State returns the current controller state
func (p *Playback) State() PlaybackState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Position returns the index of the next event to emit
func (p *Playback) Position() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pos
}

// Len returns the number of events in the replay
func (p *Playback) Len() int {
	return len(p.events)
}

// Play resumes timed emission
func (p *Playback) Play() { p.send(playbackCommand{kind: cmdPlay}) }

// Pause halts timed emission; Step and Seek still work
func (p *Playback) Pause() { p.send(playbackCommand{kind: cmdPause}) }

// Step emits the next event immediately
func (p *Playback) Step() { p.send(playbackCommand{kind: cmdStep}) }

// Seek moves the cursor to index i (clamped) without emitting
func (p *Playback) Seek(i int) { p.send(playbackCommand{kind: cmdSeek, seek: i}) }

// Stop terminates the replay and closes the stream
func (p *Playback) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
	})
}

func (p *Playback) send(cmd playbackCommand) {
	select {
	case p.ctrl <- cmd:
	case <-p.stopCh:
	case <-p.doneCh:
	}
}

func (p *Playback) run() {
	defer close(p.out)
	defer close(p.doneCh)

	runID := ""
	if len(p.events) > 0 {
		runID = p.events[0].RunID
	}

	log.Debug().Str("run_id", runID).Int("events", len(p.events)).Msg("Replay started")

	if !p.emit(p.marker(TypeReplayStarted, runID)) {
		return
	}

	for {
		p.mu.Lock()
		pos := p.pos
		state := p.state
		p.mu.Unlock()

		if pos >= len(p.events) {
			break
		}

		if state == PlaybackPaused {
			select {
			case cmd := <-p.ctrl:
				p.apply(cmd)
			case <-p.stopCh:
				return
			}
			continue
		}

		timer := time.NewTimer(p.gap(pos))
		select {
		case cmd := <-p.ctrl:
			timer.Stop()
			p.apply(cmd)
		case <-timer.C:
			if !p.emitCurrent() {
				return
			}
		case <-p.stopCh:
			timer.Stop()
			return
		}
	}

	p.mu.Lock()
	p.state = PlaybackDone
	p.mu.Unlock()

	completed := p.marker(TypeReplayCompleted, runID)
	completed.Data = map[string]interface{}{"eventCount": len(p.events)}
	p.emit(completed)

	log.Debug().Str("run_id", runID).Int("events", len(p.events)).Msg("Replay completed")
}

func (p *Playback) apply(cmd playbackCommand) {
	switch cmd.kind {
	case cmdPlay:
		p.setState(PlaybackPlaying)
	case cmdPause:
		p.setState(PlaybackPaused)
	case cmdStep:
		p.mu.Lock()
		pos := p.pos
		p.mu.Unlock()
		if pos < len(p.events) {
			p.emitCurrent()
		}
	case cmdSeek:
		i := cmd.seek
		if i < 0 {
			i = 0
		}
		if i > len(p.events) {
			i = len(p.events)
		}
		p.mu.Lock()
		p.pos = i
		p.mu.Unlock()
	}
}

func (p *Playback) setState(s PlaybackState) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// gap returns the paced delay before the event at pos. The first event
// emits immediately; later gaps follow the original timestamps, capped.
func (p *Playback) gap(pos int) time.Duration {
	if pos == 0 {
		return 0
	}
	d := p.events[pos].Timestamp.Sub(p.events[pos-1].Timestamp)
	if d < 0 {
		return 0
	}
	if d > p.maxDelay {
		return p.maxDelay
	}
	return d
}

func (p *Playback) emitCurrent() bool {
	p.mu.Lock()
	pos := p.pos
	p.mu.Unlock()

	if !p.emit(p.events[pos]) {
		return false
	}

	p.mu.Lock()
	p.pos = pos + 1
	p.mu.Unlock()
	return true
}

func (p *Playback) emit(e Event) bool {
	select {
	case p.out <- e:
		return true
	case <-p.stopCh:
		return false
	}
}

func (p *Playback) marker(eventType, runID string) Event {
	return Event{
		ID:        uuid.NewString(),
		RunID:     runID,
		Timestamp: time.Now().UTC(),
		Type:      eventType,
		Agent:     AgentSystem,
		Severity:  SeverityInfo,
		Message:   eventType,
	}
}
