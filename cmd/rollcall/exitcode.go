package main

import (
	"errors"

	"github.com/MrCodeEU/rollcall/pkg/camera"
	"github.com/MrCodeEU/rollcall/pkg/enrollment"
	"github.com/MrCodeEU/rollcall/pkg/ledger"
	"github.com/MrCodeEU/rollcall/pkg/recognition"
	"github.com/MrCodeEU/rollcall/pkg/training"
	"github.com/MrCodeEU/rollcall/pkg/vision"
)

// Exit codes:
//
//	0 - success
//	1 - unexpected error
//	2 - bad input: flags, config, unknown or invalid student
//	3 - camera unavailable, busy or not delivering frames
//	4 - no trained model or nothing to train on
//	5 - requested vision backend not available
const (
	exitOK = iota
	exitError
	exitUsage
	exitCamera
	exitNoModel
	exitBackend
)

type usageError struct {
	err error
}

func newUsageError(err error) error {
	return &usageError{err: err}
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}

	switch recognition.KindOf(err) {
	case recognition.KindCamera:
		return exitCamera
	case recognition.KindNoModel:
		return exitNoModel
	}

	var ue *usageError
	switch {
	case errors.As(err, &ue),
		errors.Is(err, ledger.ErrUnknownIdentity),
		errors.Is(err, ledger.ErrInvalidIdentity),
		errors.Is(err, enrollment.ErrInvalidTarget):
		return exitUsage
	case errors.Is(err, camera.ErrDeviceUnavailable),
		errors.Is(err, camera.ErrDeviceBusy),
		errors.Is(err, camera.ErrNoFrame):
		return exitCamera
	case errors.Is(err, recognition.ErrModelNotLoaded),
		errors.Is(err, training.ErrNoTrainingData):
		return exitNoModel
	case errors.Is(err, vision.ErrBackendNotAvailable):
		return exitBackend
	}
	return exitError
}
