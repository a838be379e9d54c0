package audio

import "io"

// Output format shared by every resource.
const (
	SampleRate = 44100
	Channels   = 2
	// BytesPerFrame is one stereo frame of signed 16-bit samples.
	BytesPerFrame = Channels * 2
)

// State is the state of the shared output context.
type State int32

const (
	StateSuspended State = iota
	StateRunning
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateSuspended:
		return "suspended"
	case StateRunning:
		return "running"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Context is the process-wide audio output. Players created from a suspended
// context stay silent until it is resumed.
type Context interface {
	State() State
	Resume() error
	Suspend() error
	// NewPlayer plays signed 16-bit little-endian stereo PCM read from r.
	NewPlayer(r io.Reader) Player
}

// Player is a single PCM stream on a Context.
type Player interface {
	Play()
	Pause()
	IsPlaying() bool
	SetVolume(volume float64)
	Close() error
}
