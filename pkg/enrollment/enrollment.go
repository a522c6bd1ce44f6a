// Package enrollment captures face crops of one identity from the camera
// and stores them as training samples.
package enrollment

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/MrCodeEU/rollcall/pkg/camera"
	"github.com/MrCodeEU/rollcall/pkg/ledger"
	"github.com/MrCodeEU/rollcall/pkg/logging"
	"github.com/MrCodeEU/rollcall/pkg/storage"
	"github.com/MrCodeEU/rollcall/pkg/vision"
)

// maxReadFailures is how many consecutive failed reads abort a session.
const maxReadFailures = 10

// ErrInvalidTarget is returned for a sample target below one.
var ErrInvalidTarget = errors.New("sample target must be positive")

// SampleSink stores captured crops.
type SampleSink interface {
	Save(id int64, crop *image.Gray) (storage.Sample, error)
	Count(id int64) (int, error)
}

// IdentityLookup resolves identity ids.
type IdentityLookup interface {
	GetIdentity(ctx context.Context, id int64) (*ledger.Identity, error)
}

// Result describes an enrollment session.
type Result struct {
	IdentityID int64
	Name       string
	Saved      int // crops saved in this session
	Total      int // crops stored for the identity afterwards
	Frames     int
	Cancelled  bool
	Duration   time.Duration
}

// Enroller runs enrollment sessions.
type Enroller struct {
	Device        *camera.Device
	Detector      vision.Detector
	Samples       SampleSink
	Identities    IdentityLookup
	Params        vision.Params
	FrameInterval time.Duration
	// NoWait fails with camera.ErrDeviceBusy instead of queueing behind
	// the current holder of the device.
	NoWait bool

	// Progress, if set, is called after every saved crop.
	Progress func(saved, target int)
}

// Enroll captures target new crops of identityID. Numbering continues after
// the samples already stored, so enrolling twice adds to the corpus.
// Cancelling ctx ends the session early with a partial Result and no error.
func (e *Enroller) Enroll(ctx context.Context, identityID int64, target int) (Result, error) {
	start := time.Now()
	res := Result{IdentityID: identityID}
	if target < 1 {
		return res, ErrInvalidTarget
	}

	ident, err := e.Identities.GetIdentity(ctx, identityID)
	if err != nil {
		return res, err
	}
	res.Name = ident.Name

	log := logging.Component("enrollment").WithFields(logrus.Fields{
		"identity": identityID,
		"name":     ident.Name,
	})

	lease, err := e.acquire(ctx)
	if err != nil {
		if ctx.Err() != nil {
			res.Cancelled = true
			return res, nil
		}
		return res, err
	}
	defer lease.Release()

	log.Infof("Capturing %d samples from %s", target, e.Device.Path())

	failures := 0
	for res.Saved < target {
		if ctx.Err() != nil {
			res.Cancelled = true
			break
		}

		frame, err := lease.Read()
		if err != nil {
			if errors.Is(err, camera.ErrEndOfStream) {
				err = fmt.Errorf("source ended after %d of %d samples: %w", res.Saved, target, err)
				return e.finish(res, start), err
			}
			failures++
			log.WithError(err).Warn("Frame capture failed")
			if failures >= maxReadFailures {
				return e.finish(res, start), fmt.Errorf("%w: %d consecutive failures: %v", camera.ErrNoFrame, failures, err)
			}
			continue
		}
		failures = 0
		res.Frames++

		gray := vision.Gray(frame.Image)
		boxes, err := e.Detector.Detect(gray, e.Params)
		if err != nil {
			log.WithError(err).Warn("Face detection failed")
			continue
		}

		for _, box := range boxes {
			if res.Saved >= target {
				break
			}
			sample, err := e.Samples.Save(identityID, vision.Crop(gray, box))
			if err != nil {
				return e.finish(res, start), fmt.Errorf("failed to store sample: %w", err)
			}
			res.Saved++
			log.Debugf("Sample %d saved (%d/%d)", sample.Index, res.Saved, target)
			if e.Progress != nil {
				e.Progress(res.Saved, target)
			}
		}

		if res.Saved < target && !sleep(ctx, e.FrameInterval) {
			res.Cancelled = true
			break
		}
	}

	res = e.finish(res, start)
	if res.Cancelled {
		log.Warnf("Enrollment cancelled after %d of %d samples", res.Saved, target)
	} else {
		log.Infof("Enrollment complete: %d samples stored", res.Total)
	}
	return res, nil
}

func (e *Enroller) acquire(ctx context.Context) (*camera.Lease, error) {
	if e.NoWait {
		return e.Device.TryAcquire("enrollment")
	}
	return e.Device.Acquire(ctx, "enrollment")
}

func (e *Enroller) finish(res Result, start time.Time) Result {
	res.Duration = time.Since(start)
	if n, err := e.Samples.Count(res.IdentityID); err == nil {
		res.Total = n
	}
	return res
}

// sleep waits d or until ctx is done and reports whether it waited fully.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
