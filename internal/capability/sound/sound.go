// Package sound queues audio cues for the Sound global. Nothing is
// synthesized here; the host drains cues and plays them.
package sound

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/GriffinCanCode/uiblocks/internal/capability/assets"
	"github.com/GriffinCanCode/uiblocks/internal/script/intrinsics"
	"github.com/GriffinCanCode/uiblocks/internal/script/value"
)

// Global is the script name of the capability.
const Global = "Sound"

const (
	// MaxQueue bounds undrained cues per session.
	MaxQueue = 256
	// MaxDuration bounds a single tone, in milliseconds.
	MaxDuration = 10000

	minFreq       = 20
	maxFreq       = 20000
	defaultVolume = 1.0
)

var (
	ErrQueueFull = fmt.Errorf("sound queue is full (%d cues)", MaxQueue)
	ErrNoAssets  = errors.New("no asset root configured")
)

// Cue kinds.
const (
	KindTone = "tone"
	KindPlay = "play"
	KindStop = "stop"
)

// Cue is one queued instruction for the host audio device.
type Cue struct {
	Kind     string  `json:"kind"`
	Freq     float64 `json:"freq,omitempty"`
	Duration float64 `json:"ms,omitempty"`
	Volume   float64 `json:"volume,omitempty"`
	Asset    string  `json:"asset,omitempty"`
	MIME     string  `json:"mime,omitempty"`
}

// Player collects the cues of one session.
type Player struct {
	assets *assets.Resolver

	mu    sync.Mutex
	queue []Cue
	total uint64
}

// New creates a player. resolver may be nil, in which case Sound.play
// fails.
func New(resolver *assets.Resolver) *Player {
	return &Player{assets: resolver}
}

// Ready always reports true.
func (p *Player) Ready() bool {
	return true
}

// Drain removes and returns the queued cues in order.
func (p *Player) Drain() []Cue {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.queue
	p.queue = nil
	return out
}

// Pending reports the number of undrained cues.
func (p *Player) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Total reports how many cues were ever queued.
func (p *Player) Total() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total
}

func (p *Player) push(c Cue) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) >= MaxQueue {
		return ErrQueueFull
	}
	p.queue = append(p.queue, c)
	p.total++
	return nil
}

// stop replaces every undrained cue with a single stop cue.
func (p *Player) stop() {
	p.mu.Lock()
	p.queue = append(p.queue[:0], Cue{Kind: KindStop})
	p.total++
	p.mu.Unlock()
}

// Register adds the Sound intrinsics.
func Register(b *intrinsics.Builder) *intrinsics.Builder {
	return b.
		Method(Global, "tone", 2, 3, "queue a tone of freq Hz for ms milliseconds", method(toneOp)).
		Method(Global, "play", 1, 2, "queue an audio asset", method(playOp)).
		Method(Global, "stop", 0, 0, "stop all sound", method(stopOp))
}

func method(fn func(p *Player, args []value.Value) error) intrinsics.Func {
	return func(_ context.Context, env intrinsics.Env, args []value.Value) (value.Value, error) {
		g, ok := env.Global(Global)
		if !ok {
			return value.NilValue, intrinsics.ErrUnavailable
		}
		p, ok := g.(*Player)
		if !ok {
			return value.NilValue, fmt.Errorf("%s is bound to %T", Global, g)
		}
		return value.NilValue, fn(p, args)
	}
}

func volume(args []value.Value, i int) (float64, error) {
	v, err := intrinsics.OptNumber(args, i, defaultVolume)
	if err != nil {
		return 0, err
	}
	if v < 0 || v > 1 {
		return 0, &intrinsics.ArgError{Index: i, Msg: fmt.Sprintf("volume must be within [0, 1], got %s", value.FormatNumber(v))}
	}
	return v, nil
}

func toneOp(p *Player, args []value.Value) error {
	freq, err := intrinsics.Number(args, 0)
	if err != nil {
		return err
	}
	if freq < minFreq || freq > maxFreq {
		return &intrinsics.ArgError{Index: 0, Msg: fmt.Sprintf("frequency must be within [%d, %d] Hz, got %s", minFreq, maxFreq, value.FormatNumber(freq))}
	}
	ms, err := intrinsics.NonNegative(args, 1)
	if err != nil {
		return err
	}
	if ms > MaxDuration {
		return &intrinsics.ArgError{Index: 1, Msg: fmt.Sprintf("duration exceeds %d ms", MaxDuration)}
	}
	vol, err := volume(args, 2)
	if err != nil {
		return err
	}
	return p.push(Cue{Kind: KindTone, Freq: freq, Duration: ms, Volume: vol})
}

func playOp(p *Player, args []value.Value) error {
	path, err := intrinsics.String(args, 0)
	if err != nil {
		return err
	}
	vol, err := volume(args, 1)
	if err != nil {
		return err
	}
	if p.assets == nil {
		return ErrNoAssets
	}
	a, err := p.assets.ResolveKind(path, "audio/")
	if err != nil {
		return err
	}
	return p.push(Cue{Kind: KindPlay, Volume: vol, Asset: a.Rel, MIME: a.MIME})
}

func stopOp(p *Player, _ []value.Value) error {
	p.stop()
	return nil
}
