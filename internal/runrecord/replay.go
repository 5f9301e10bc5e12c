package runrecord

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/nadpilot/nadpilot/internal/events"
)

// CheckCompatible refuses records whose schema major differs from the
// running build's.
func CheckCompatible(recordVersion string) error {
	have, err := semver.NewVersion(SchemaVersion)
	if err != nil {
		return fmt.Errorf("invalid build schema version: %w", err)
	}
	got, err := semver.NewVersion(recordVersion)
	if err != nil {
		return fmt.Errorf("invalid record schema version %q: %w", recordVersion, err)
	}
	if got.Major() != have.Major() {
		return fmt.Errorf("record schema %s is incompatible with %s", recordVersion, SchemaVersion)
	}
	return nil
}

type playerState int

const (
	statePlaying playerState = iota
	statePaused
	stateDone
)

type playerCmd int

const (
	cmdPlay playerCmd = iota
	cmdPause
	cmdStep
)

// Player re-emits a frozen record's events to a single sink with pacing
// derived from the original timestamps, capped per event. The controls
// support play, pause, single-step, and seek.
type Player struct {
	rec      *RunRecord
	emit     func(events.Event)
	maxDelay time.Duration

	mu     sync.Mutex
	state  playerState
	cursor int
	cmds   chan playerCmd
	seeks  chan int
}

// NewPlayer validates the record and builds a player. emit receives
// every replayed event in original order.
func NewPlayer(rec *RunRecord, maxDelay time.Duration, emit func(events.Event)) (*Player, error) {
	if err := CheckCompatible(rec.SchemaVersion); err != nil {
		return nil, err
	}
	if rec.Status == StatusRunning {
		return nil, fmt.Errorf("cannot replay a running record")
	}
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	return &Player{
		rec:      rec,
		emit:     emit,
		maxDelay: maxDelay,
		state:    statePlaying,
		cmds:     make(chan playerCmd, 8),
		seeks:    make(chan int, 8),
	}, nil
}

// Play resumes a paused replay
func (p *Player) Play() { p.send(cmdPlay) }

// Pause halts the replay before the next event
func (p *Player) Pause() { p.send(cmdPause) }

// Step emits exactly one event while paused
func (p *Player) Step() { p.send(cmdStep) }

// Seek moves the cursor; the next emitted event is events[i]
func (p *Player) Seek(i int) {
	select {
	case p.seeks <- i:
	default:
	}
}

// Position returns the index of the next event to emit
func (p *Player) Position() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}

func (p *Player) send(c playerCmd) {
	select {
	case p.cmds <- c:
	default:
	}
}

// Run drives the replay to completion or ctx cancellation. It emits a
// replay_started marker, the record's events, and replay_completed.
func (p *Player) Run(ctx context.Context) error {
	p.emit(events.Event{
		Type:    events.TypeReplayStarted,
		RunID:   p.rec.ID,
		Message: fmt.Sprintf("Replaying run %s (%d events)", p.rec.ID, len(p.rec.Events)),
	})

	var prev *time.Time
	for {
		p.mu.Lock()
		i := p.cursor
		state := p.state
		p.mu.Unlock()
		if i >= len(p.rec.Events) {
			break
		}

		if state == statePaused {
			if err := p.waitResume(ctx); err != nil {
				return err
			}
			continue
		}

		e := p.rec.Events[i]
		if prev != nil {
			delay := e.Timestamp.Sub(*prev)
			if delay > p.maxDelay {
				delay = p.maxDelay
			}
			if delay > 0 {
				if err := p.sleep(ctx, delay); err != nil {
					return err
				}
				// a pause or seek landed during the gap; re-evaluate
				p.mu.Lock()
				moved := p.cursor != i || p.state == statePaused
				p.mu.Unlock()
				if moved {
					prev = nil
					continue
				}
			}
		}

		p.emit(e)
		ts := e.Timestamp
		prev = &ts

		p.mu.Lock()
		if p.cursor == i {
			p.cursor = i + 1
		}
		p.mu.Unlock()
	}

	p.mu.Lock()
	p.state = stateDone
	p.mu.Unlock()
	p.emit(events.Event{
		Type:    events.TypeReplayCompleted,
		RunID:   p.rec.ID,
		Message: fmt.Sprintf("Replay of run %s complete", p.rec.ID),
	})
	return nil
}

// waitResume blocks a paused player until play, step, seek, or cancel
func (p *Player) waitResume(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case i := <-p.seeks:
		p.applySeek(i)
		return nil
	case cmd := <-p.cmds:
		switch cmd {
		case cmdPlay:
			p.mu.Lock()
			p.state = statePlaying
			p.mu.Unlock()
		case cmdStep:
			p.stepOnce()
		}
		return nil
	}
}

// stepOnce emits the event at the cursor without leaving pause
func (p *Player) stepOnce() {
	p.mu.Lock()
	i := p.cursor
	if i < len(p.rec.Events) {
		p.cursor = i + 1
	}
	p.mu.Unlock()
	if i < len(p.rec.Events) {
		p.emit(p.rec.Events[i])
	}
}

func (p *Player) applySeek(i int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 {
		i = 0
	}
	if i > len(p.rec.Events) {
		i = len(p.rec.Events)
	}
	p.cursor = i
}

// sleep waits for d while still honoring control commands
func (p *Player) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		case i := <-p.seeks:
			p.applySeek(i)
			return nil
		case cmd := <-p.cmds:
			switch cmd {
			case cmdPause:
				p.mu.Lock()
				p.state = statePaused
				p.mu.Unlock()
				return nil
			case cmdStep:
				p.stepOnce()
			}
		}
	}
}
