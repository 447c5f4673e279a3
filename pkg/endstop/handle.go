// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package endstop

// Controller is the micro-controller that owns an endstop pin.
type Controller interface {
	GetName() string
}

// Stepper is the part of a stepper motor an endstop needs to know about.
type Stepper interface {
	GetName() string
	IsActiveAxis(axis byte) bool
}

// HomeParams configures how an armed endstop samples its pin.
type HomeParams struct {
	SampleTime  float64 // seconds between samples
	SampleCount int     // consecutive matching samples needed to trigger
	Triggered   bool    // wait for triggered (true) or released (false)
}

// DefaultHomeParams mirrors the homing defaults used for probing endstops.
func DefaultHomeParams() HomeParams {
	return HomeParams{
		SampleTime:  0.000015,
		SampleCount: 4,
		Triggered:   true,
	}
}

// Handle is an endstop as seen by homing code. A physical Endstop
// implements it, and so does anything that forwards to one.
type Handle interface {
	// GetMCU returns the controller the endstop lives on.
	GetMCU() Controller
	AddStepper(s Stepper)
	GetSteppers() []Stepper

	// HomeStart arms the endstop at printTime.
	HomeStart(printTime float64, params HomeParams) error
	// HomeWait blocks until the armed endstop triggers or homeEndTime
	// passes, and returns the trigger time.
	HomeWait(homeEndTime float64) (float64, error)
	// QueryEndstop reports whether the endstop is triggered.
	QueryEndstop(printTime float64) (bool, error)
}
