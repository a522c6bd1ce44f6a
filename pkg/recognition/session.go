package recognition

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/MrCodeEU/rollcall/pkg/camera"
	"github.com/MrCodeEU/rollcall/pkg/ledger"
	"github.com/MrCodeEU/rollcall/pkg/logging"
)

// maxReadFailures is how many consecutive failed reads end a session.
const maxReadFailures = 10

// Marker records attendance.
type Marker interface {
	MarkPresent(ctx context.Context, identityID int64, at time.Time) (ledger.Outcome, error)
}

// FrameSink receives annotated frames, e.g. the MJPEG broadcaster.
type FrameSink interface {
	Publish(img image.Image) error
}

// Stats summarizes a session.
type Stats struct {
	Frames      int
	Faces       int
	Events      int
	Marked      int
	WriteErrors int
	ReadErrors  int
	Duration    time.Duration
}

// Session is the recognition loop: it holds the camera for its whole run
// and forwards admitted events to the ledger.
type Session struct {
	Device        *camera.Device
	Recognizer    *Recognizer
	Ledger        Marker
	Sink          FrameSink
	Cooldown      time.Duration
	FrameInterval time.Duration

	// OnEvent, if set, is called after every ledger write attempt.
	OnEvent func(ev Event, outcome ledger.Outcome, err error)

	// Now stamps frames that carry no timestamp. Defaults to time.Now.
	Now func() time.Time
}

// Run processes frames until ctx is cancelled or a finite source ends.
// Cancellation is not an error. Only camera failures are fatal.
func (s *Session) Run(ctx context.Context) (Stats, error) {
	start := time.Now()
	var stats Stats
	log := logging.Component("session")

	now := s.Now
	if now == nil {
		now = time.Now
	}

	lease, err := s.Device.Acquire(ctx, "recognition")
	if err != nil {
		if ctx.Err() != nil {
			return stats, nil
		}
		return stats, NewError(KindCamera, true, err)
	}
	defer lease.Release()

	if !s.Recognizer.HasModel() {
		log.Warn("No recognition model loaded, faces will not be identified")
	}
	log.Infof("Recognition started on %s", s.Device.Path())

	tracker := NewCooldown(s.Cooldown)
	failures := 0
	for ctx.Err() == nil {
		frame, err := lease.Read()
		if err != nil {
			if errors.Is(err, camera.ErrEndOfStream) {
				log.Info("Input exhausted")
				break
			}
			stats.ReadErrors++
			failures++
			log.WithError(err).Warn("Frame capture failed")
			if failures >= maxReadFailures {
				stats.Duration = time.Since(start)
				return stats, NewError(KindCamera, true, fmt.Errorf("%d consecutive read failures: %w", failures, err))
			}
			continue
		}
		failures = 0
		stats.Frames++

		at := frame.Timestamp
		if at.IsZero() {
			at = now()
		}

		var res FrameResult
		res, tracker = s.Recognizer.Process(frame.Image, at, tracker)
		stats.Faces += len(res.Faces)

		for _, ev := range res.Events {
			stats.Events++
			outcome, err := s.Ledger.MarkPresent(ctx, ev.IdentityID, ev.At)
			if err != nil {
				stats.WriteErrors++
				log.WithError(NewError(KindLedger, false, err)).Errorf("Failed to mark %s present", ev.Name)
			} else {
				if outcome != ledger.AlreadyPresent {
					stats.Marked++
				}
				log.Infof("Recognized %s (id %d, confidence %.1f): %s", ev.Name, ev.IdentityID, ev.Confidence, outcome)
			}
			if s.OnEvent != nil {
				s.OnEvent(ev, outcome, err)
			}
		}

		if s.Sink != nil {
			if err := s.Sink.Publish(Annotate(frame.Image, res)); err != nil {
				log.WithError(err).Debug("Failed to publish frame")
			}
		}

		if s.FrameInterval > 0 {
			t := time.NewTimer(s.FrameInterval)
			select {
			case <-ctx.Done():
			case <-t.C:
			}
			t.Stop()
		}
	}

	stats.Duration = time.Since(start)
	log.Infof("Recognition stopped: %d frames, %d events, %d newly present", stats.Frames, stats.Events, stats.Marked)
	return stats, nil
}
