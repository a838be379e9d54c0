//go:build !nocgo
// +build !nocgo

package audio

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/ebitengine/oto/v3"
)

// OtoContext is the Context backed by the system audio device.
type OtoContext struct {
	context *oto.Context
	state   atomic.Int32
}

// NewOtoContext opens the audio device. The context starts suspended, so
// nothing is audible until Resume succeeds.
func NewOtoContext(readyTimeout time.Duration) (*OtoContext, error) {
	options := &oto.NewContextOptions{
		SampleRate:   SampleRate,
		ChannelCount: Channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   50 * time.Millisecond,
	}

	context, readyChan, err := oto.NewContext(options)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio context: %w", err)
	}

	select {
	case <-readyChan:
	case <-time.After(readyTimeout):
		return nil, fmt.Errorf("audio context not ready after %v", readyTimeout)
	}

	oc := &OtoContext{context: context}
	if err := context.Suspend(); err != nil {
		log.Debug("Audio: Initial suspend failed", "error", err)
		oc.state.Store(int32(StateRunning))
	} else {
		oc.state.Store(int32(StateSuspended))
	}

	log.Debug("Audio: Context initialized", "sampleRate", SampleRate, "channels", Channels)
	return oc, nil
}

// State reports the context state. A context whose device has failed is
// closed.
func (oc *OtoContext) State() State {
	if oc.context.Err() != nil {
		return StateClosed
	}
	return State(oc.state.Load())
}

// Resume starts the device.
func (oc *OtoContext) Resume() error {
	if err := oc.context.Resume(); err != nil {
		return fmt.Errorf("failed to resume audio context: %w", err)
	}
	oc.state.Store(int32(StateRunning))
	return nil
}

// Suspend stops the device.
func (oc *OtoContext) Suspend() error {
	if err := oc.context.Suspend(); err != nil {
		return fmt.Errorf("failed to suspend audio context: %w", err)
	}
	oc.state.Store(int32(StateSuspended))
	return nil
}

// NewPlayer creates an oto player reading PCM from r.
func (oc *OtoContext) NewPlayer(r io.Reader) Player {
	return oc.context.NewPlayer(r)
}
