//go:build nocgo
// +build nocgo

package audio

import (
	"errors"
	"io"
	"time"
)

// OtoContext stub for builds without cgo.
type OtoContext struct{}

// NewOtoContext always fails without cgo.
func NewOtoContext(readyTimeout time.Duration) (*OtoContext, error) {
	return nil, errors.New("audio not available in nocgo build")
}

func (oc *OtoContext) State() State { return StateClosed }

func (oc *OtoContext) Resume() error { return errors.New("audio not available in nocgo build") }

func (oc *OtoContext) Suspend() error { return nil }

func (oc *OtoContext) NewPlayer(r io.Reader) Player { return nil }
