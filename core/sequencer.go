package core

import (
	"context"

	"github.com/pkg/errors"

	"ioio/protocol"
)

// seqEventQueueMax bounds the backlog of undelivered sequencer events;
// the oldest are dropped first.
const seqEventQueueMax = 32

// SequencerEvent is one event reported by the motion sequencer, in
// arrival order.
type SequencerEvent struct {
	Type protocol.SequencerEvent
	// SlotsAvailable accompanies the opened and stopped events.
	SlotsAvailable int
}

// Sequencer is the open motion sequencer. Cues are pushed into a
// device-side queue; Push blocks while the queue is full.
type Sequencer struct {
	board *Board
	mon   *monitor
	seq   *Resource

	slots      int
	slotsValid bool
	paused     bool
	stalled    bool
	events     []SequencerEvent
}

// OpenSequencer opens the sequencer with an opaque channel
// configuration of 1..68 bytes.
func (b *Board) OpenSequencer(config []byte) (*Sequencer, error) {
	if err := b.checkConnected(); err != nil {
		return nil, err
	}
	if len(config) == 0 || len(config) > protocol.SequencerMax {
		return nil, errors.Wrapf(ErrIllegalArgument, "sequencer config of %d bytes", len(config))
	}
	s := &Sequencer{
		board: b,
		mon:   newMonitor(),
		seq:   &Resource{Kind: ResourceSequencer, ID: 0},
	}
	if err := b.rm.Alloc(s.seq); err != nil {
		return nil, err
	}
	b.bus.register(ResourceSequencer, 0, s)

	if err := b.out.SequencerConfigure(config); err != nil {
		return nil, errors.Wrapf(ErrConnectionLost, "opening sequencer: %v", err)
	}
	return s, nil
}

// Push appends a cue to the device-side queue, to play for duration
// ticks. It blocks while the queue is full.
func (s *Sequencer) Push(ctx context.Context, duration uint16, cue []byte) error {
	if len(cue) > protocol.SequencerMax {
		return errors.Wrapf(ErrIllegalArgument, "sequencer cue of %d bytes", len(cue))
	}
	s.mon.lock()
	for !s.slotsValid || s.slots == 0 {
		if s.mon.cause != nil {
			defer s.mon.unlock()
			return s.mon.cause
		}
		if err := s.mon.await(ctx); err != nil {
			s.mon.unlock()
			return err
		}
	}
	s.slots--
	s.mon.unlock()

	if err := s.board.out.SequencerPush(duration, cue); err != nil {
		return errors.Wrapf(ErrConnectionLost, "pushing cue: %v", err)
	}
	return nil
}

// Start begins or resumes playback of the cue queue.
func (s *Sequencer) Start() error {
	return s.control(protocol.SequencerActionStart, nil)
}

// Pause suspends playback, keeping the queue.
func (s *Sequencer) Pause() error {
	return s.control(protocol.SequencerActionPause, nil)
}

// Stop halts playback and discards the queue.
func (s *Sequencer) Stop() error {
	return s.control(protocol.SequencerActionStop, nil)
}

// ManualStart pushes a single cue to execute immediately, outside the
// queue. Playback must be stopped.
func (s *Sequencer) ManualStart(cue []byte) error {
	if len(cue) > protocol.SequencerMax {
		return errors.Wrapf(ErrIllegalArgument, "sequencer cue of %d bytes", len(cue))
	}
	return s.control(protocol.SequencerActionManualStart, cue)
}

// ManualStop ends a manual cue.
func (s *Sequencer) ManualStop() error {
	return s.control(protocol.SequencerActionManualStop, nil)
}

func (s *Sequencer) control(action protocol.SequencerAction, cue []byte) error {
	s.mon.lock()
	if s.mon.cause != nil {
		defer s.mon.unlock()
		return s.mon.cause
	}
	s.mon.unlock()
	if err := s.board.out.SequencerControl(action, cue); err != nil {
		return errors.Wrapf(ErrConnectionLost, "sequencer control: %v", err)
	}
	return nil
}

// WaitEvent blocks for the next sequencer event. Events are delivered
// in arrival order through an internal cursor.
func (s *Sequencer) WaitEvent(ctx context.Context) (SequencerEvent, error) {
	s.mon.lock()
	defer s.mon.unlock()
	for len(s.events) == 0 {
		if s.mon.cause != nil {
			return SequencerEvent{}, s.mon.cause
		}
		if err := s.mon.await(ctx); err != nil {
			return SequencerEvent{}, err
		}
	}
	ev := s.events[0]
	s.events = s.events[1:]
	return ev, nil
}

// Available returns the last known number of free cue slots.
func (s *Sequencer) Available() int {
	s.mon.lock()
	defer s.mon.unlock()
	return s.slots
}

// Paused reports whether the device signalled a pause.
func (s *Sequencer) Paused() bool {
	s.mon.lock()
	defer s.mon.unlock()
	return s.paused
}

// Stalled reports whether the device ran out of cues while running.
func (s *Sequencer) Stalled() bool {
	s.mon.lock()
	defer s.mon.unlock()
	return s.stalled
}

// Close shuts the sequencer down, discarding any queued cues.
func (s *Sequencer) Close() error {
	s.mon.lock()
	if s.mon.cause != nil {
		defer s.mon.unlock()
		return s.mon.cause
	}
	s.mon.fail(errors.Wrap(ErrIllegalState, "sequencer closed"))
	s.mon.unlock()

	s.board.bus.unregister(ResourceSequencer, 0)
	err := s.board.out.SequencerConfigure(nil)
	s.board.rm.Free(s.seq)
	if err != nil {
		return errors.Wrapf(ErrConnectionLost, "closing sequencer: %v", err)
	}
	return nil
}

func (s *Sequencer) descriptors() []*Resource {
	return []*Resource{s.seq}
}

func (s *Sequencer) dropped(cause error) {
	s.mon.lock()
	s.mon.fail(cause)
	s.mon.unlock()
}

// eventReceived runs on the dispatcher goroutine and folds the event
// into the cue-queue accounting before queueing it for WaitEvent.
func (s *Sequencer) eventReceived(event protocol.SequencerEvent, arg int) {
	s.mon.lock()
	switch event {
	case protocol.SequencerEventOpened:
		s.slots = arg
		s.slotsValid = true
	case protocol.SequencerEventNextCue:
		s.slots++
		s.stalled = false
		s.paused = false
	case protocol.SequencerEventStopped:
		s.slots = arg
		s.paused = false
		s.stalled = false
	case protocol.SequencerEventPaused:
		s.paused = true
	case protocol.SequencerEventStalled:
		s.stalled = true
	}
	if len(s.events) == seqEventQueueMax {
		s.events = s.events[1:]
	}
	s.events = append(s.events, SequencerEvent{Type: event, SlotsAvailable: arg})
	s.mon.broadcast()
	s.mon.unlock()
}
