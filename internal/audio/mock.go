package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"sync"
	"time"
)

// MockContext is a Context that plays nothing. Players run for the playing
// time of their PCM divided by Speed, or until Finish is called when Speed
// is zero.
type MockContext struct {
	mu             sync.Mutex
	state          State
	resumeFailures int
	resumeCalls    int
	players        []*MockPlayer

	// Speed scales simulated playback; 0 means players never end on their own.
	Speed float64
}

// NewMockContext creates a mock context in the given state.
func NewMockContext(state State) *MockContext {
	return &MockContext{state: state}
}

// FailResumes makes the next n Resume calls fail.
func (mc *MockContext) FailResumes(n int) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.resumeFailures = n
}

// ResumeCalls is the number of Resume calls so far.
func (mc *MockContext) ResumeCalls() int {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.resumeCalls
}

// SetState forces the context state.
func (mc *MockContext) SetState(s State) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.state = s
}

func (mc *MockContext) State() State {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.state
}

func (mc *MockContext) Resume() error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.resumeCalls++
	if mc.state == StateClosed {
		return errors.New("context closed")
	}
	if mc.resumeFailures > 0 {
		mc.resumeFailures--
		return errors.New("resume refused")
	}
	mc.state = StateRunning
	return nil
}

func (mc *MockContext) Suspend() error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if mc.state == StateRunning {
		mc.state = StateSuspended
	}
	return nil
}

func (mc *MockContext) NewPlayer(r io.Reader) Player {
	data, _ := io.ReadAll(r)

	mc.mu.Lock()
	defer mc.mu.Unlock()

	p := &MockPlayer{data: data, volume: 1}
	if mc.Speed > 0 {
		p.remaining = time.Duration(float64(PCMDuration(len(data))) / mc.Speed)
	}
	mc.players = append(mc.players, p)
	return p
}

// Players returns every player created so far.
func (mc *MockContext) Players() []*MockPlayer {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return append([]*MockPlayer(nil), mc.players...)
}

// LastPlayer returns the most recently created player, or nil.
func (mc *MockContext) LastPlayer() *MockPlayer {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if len(mc.players) == 0 {
		return nil
	}
	return mc.players[len(mc.players)-1]
}

// MockPlayer records calls and simulates playback time.
type MockPlayer struct {
	mu        sync.Mutex
	data      []byte
	volume    float64
	playing   bool
	closed    bool
	finished  bool
	remaining time.Duration
	timer     *time.Timer
	started   time.Time
	plays     int
}

func (mp *MockPlayer) Play() {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	if mp.closed || mp.finished || mp.playing {
		return
	}
	mp.playing = true
	mp.plays++
	if mp.remaining > 0 {
		mp.started = time.Now()
		mp.timer = time.AfterFunc(mp.remaining, mp.Finish)
	}
}

func (mp *MockPlayer) Pause() {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	if !mp.playing {
		return
	}
	mp.playing = false
	if mp.timer != nil {
		mp.timer.Stop()
		mp.remaining -= time.Since(mp.started)
		if mp.remaining <= 0 {
			mp.remaining = time.Millisecond
		}
	}
}

// Finish simulates the stream reaching its end.
func (mp *MockPlayer) Finish() {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	mp.playing = false
	mp.finished = true
}

func (mp *MockPlayer) IsPlaying() bool {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.playing
}

func (mp *MockPlayer) SetVolume(volume float64) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	mp.volume = volume
}

// Volume returns the last volume set.
func (mp *MockPlayer) Volume() float64 {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.volume
}

// Plays counts Play calls that started playback.
func (mp *MockPlayer) Plays() int {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.plays
}

// Data returns the PCM the player was given.
func (mp *MockPlayer) Data() []byte {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.data
}

// Closed reports whether Close was called.
func (mp *MockPlayer) Closed() bool {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.closed
}

func (mp *MockPlayer) Close() error {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	mp.closed = true
	mp.playing = false
	if mp.timer != nil {
		mp.timer.Stop()
	}
	return nil
}

// SilentWAV builds a 16-bit stereo wav file of silence at the output sample
// rate.
func SilentWAV(d time.Duration) []byte {
	frames := int(d * SampleRate / time.Second)
	dataLen := frames * BytesPerFrame

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(Channels))
	binary.Write(&buf, binary.LittleEndian, uint32(SampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(SampleRate*BytesPerFrame))
	binary.Write(&buf, binary.LittleEndian, uint16(BytesPerFrame))
	binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(dataLen))
	buf.Write(make([]byte, dataLen))
	return buf.Bytes()
}
