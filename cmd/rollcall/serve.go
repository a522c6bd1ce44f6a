package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/MrCodeEU/rollcall/pkg/enrollment"
	"github.com/MrCodeEU/rollcall/pkg/ledger"
	"github.com/MrCodeEU/rollcall/pkg/logging"
	"github.com/MrCodeEU/rollcall/pkg/recognition"
	"github.com/MrCodeEU/rollcall/pkg/stream"
	"github.com/MrCodeEU/rollcall/pkg/training"
	"github.com/MrCodeEU/rollcall/pkg/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run recognition with the attendance web interface",
	Long: `Run the recognition loop together with the web interface:

  /attendance          today's attendance table with the live camera view
  /attendance/export   the day as an Excel workbook
  /video_feed          annotated MJPEG stream
  /api/attendance      JSON, ?date=YYYY-MM-DD for other days

Admin endpoints (basic auth as "admin" when web.admin_password_hash is set):

  POST /api/model/train              retrain from stored samples and reload
  POST /api/model/reload             reload a model trained by 'rollcall train'
  POST /api/identities/{id}/enroll   capture samples, ?count=N
  POST /api/attendance/reset         mark everyone absent for the day

Without a trained model the stream still runs and faces are labelled
"no model" until a model is trained or reloaded. Enrollment needs the
camera, so it answers 409 while recognition runs; start with
--no-recognize to enroll from the browser.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "Listen address (default: web.addr)")
	serveCmd.Flags().String("input", "", "Replay a directory of images in a loop instead of the camera")
	serveCmd.Flags().Bool("no-reset", false, "Keep today's records instead of resetting them on start")
	serveCmd.Flags().Bool("no-recognize", false, "Leave the camera free for enrollment instead of running recognition")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	log := logging.Component("serve")

	addr := mustGetString(cmd, "addr")
	if addr == "" {
		addr = cfg.Web.Addr
	}

	l, err := openLedger(ctx)
	if err != nil {
		return err
	}
	defer l.Close()

	if cfg.Schedule.ResetOnStart && !mustGetBool(cmd, "no-reset") {
		if _, err := l.ResetToday(ctx); err != nil {
			return err
		}
	}
	if cfg.Schedule.ResetSpec != "" {
		sched, err := ledger.ScheduleReset(l, cfg.Schedule.ResetSpec)
		if err != nil {
			return newUsageError(err)
		}
		defer sched.Stop()
	}

	rec, reload, err := newRecognizer(ctx, l)
	switch {
	case errors.Is(err, recognition.ErrModelNotLoaded):
		log.WithError(err).Warn("Starting without a model, faces will not be recognized")
	case err != nil:
		return err
	}
	defer rec.Close()

	input := mustGetString(cmd, "input")
	device, err := openDevice(input, input != "")
	if err != nil {
		return err
	}

	samples, err := openSamples()
	if err != nil {
		return err
	}
	newClassifier, modelPath, err := classifierFactory()
	if err != nil {
		return err
	}
	trainer := &training.Trainer{
		Samples:       samples,
		NewClassifier: newClassifier,
		ModelPath:     modelPath,
	}

	enrollDet, err := newDetector()
	if err != nil {
		return err
	}
	defer enrollDet.Close()
	enroller := &enrollment.Enroller{
		Device:        device,
		Detector:      enrollDet,
		Samples:       samples,
		Identities:    l,
		Params:        detectionParams(),
		FrameInterval: cfg.Enrollment.FrameInterval,
		NoWait:        true,
	}

	recognize := !mustGetBool(cmd, "no-recognize")
	var frames *stream.Broadcaster
	opts := web.Options{
		Addr:              addr,
		AdminPasswordHash: cfg.Web.AdminPasswordHash,
		Ledger:            l,
		ReloadModel:       reload,
		ModelLoaded:       rec.HasModel,
		TrainModel:        trainer.Train,
		Enroll: func(ctx context.Context, id int64, count int) (enrollment.Result, error) {
			if count == 0 {
				count = cfg.Enrollment.SampleCount
			}
			return enroller.Enroll(ctx, id, count)
		},
	}
	if recognize {
		frames = stream.NewBroadcaster(cfg.Web.StreamQuality)
		opts.Stream = frames
	}
	server := web.NewServer(opts)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	if recognize {
		session := &recognition.Session{
			Device:        device,
			Recognizer:    rec,
			Ledger:        l,
			Sink:          frames,
			Cooldown:      cfg.Recognition.Cooldown,
			FrameInterval: frameInterval(device),
		}
		g.Go(func() error {
			stats, err := session.Run(gctx)
			log.WithField("marked", stats.Marked).Infof("Recognition stopped after %d frames", stats.Frames)
			return err
		})
	} else {
		log.Info("Recognition disabled, camera left free for enrollment")
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	fmt.Printf("Serving attendance on http://%s/attendance\n", displayAddr(addr))
	return g.Wait()
}

func displayAddr(addr string) string {
	if len(addr) > 0 && addr[0] == ':' {
		return "localhost" + addr
	}
	return addr
}
