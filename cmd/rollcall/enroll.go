package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/MrCodeEU/rollcall/pkg/enrollment"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll <id>",
	Short: "Capture face samples for a student",
	Long: `Capture face samples for a student from the camera. Every frame with a
face adds one grayscale crop to the student's corpus until --count crops were
saved in this session. Enrolling again adds more samples. Ctrl-C stops early
and keeps what was captured.

Examples:
  rollcall enroll 7
  rollcall enroll 7 --count 100
  rollcall enroll 7 --input ./frames/ana`,
	Args: cobra.ExactArgs(1),
	RunE: runEnroll,
}

var samplesCmd = &cobra.Command{
	Use:   "samples",
	Short: "Manage stored face samples",
}

var samplesRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete all face samples of a student, keeping the student",
	Args:  cobra.ExactArgs(1),
	RunE:  runSamplesRm,
}

func init() {
	rootCmd.AddCommand(enrollCmd, samplesCmd)
	samplesCmd.AddCommand(samplesRmCmd)

	enrollCmd.Flags().Int("count", 0, "Samples to capture (default: enrollment.sample_count)")
	enrollCmd.Flags().String("input", "", "Read frames from a directory of images instead of the camera")
}

func runEnroll(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	count := mustGetInt(cmd, "count")
	if count == 0 {
		count = cfg.Enrollment.SampleCount
	}

	l, err := openLedger(ctx)
	if err != nil {
		return err
	}
	defer l.Close()

	samples, err := openSamples()
	if err != nil {
		return err
	}
	device, err := openDevice(mustGetString(cmd, "input"), false)
	if err != nil {
		return err
	}
	det, err := newDetector()
	if err != nil {
		return err
	}
	defer det.Close()

	bar := progressbar.NewOptions(count,
		progressbar.OptionSetDescription(fmt.Sprintf("Enrolling %d", id)),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("samples"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionFullWidth(),
	)

	enroller := &enrollment.Enroller{
		Device:        device,
		Detector:      det,
		Samples:       samples,
		Identities:    l,
		Params:        detectionParams(),
		FrameInterval: cfg.Enrollment.FrameInterval,
		Progress: func(saved, target int) {
			_ = bar.Set(saved)
		},
	}

	fmt.Println("Look at the camera. Move your head slightly between frames.")
	res, err := enroller.Enroll(ctx, id, count)
	_ = bar.Finish()
	fmt.Println()
	if err != nil {
		return err
	}

	if res.Cancelled {
		fmt.Printf("Enrollment of %s stopped: %d of %d samples saved.\n", res.Name, res.Saved, count)
	} else {
		fmt.Printf("Enrollment of %s complete: %d samples saved from %d frames in %s.\n",
			res.Name, res.Saved, res.Frames, res.Duration.Round(10*time.Millisecond))
	}
	fmt.Printf("%s now has %d samples. Run 'rollcall train' to update the model.\n", res.Name, res.Total)
	return nil
}

func runSamplesRm(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	samples, err := openSamples()
	if err != nil {
		return err
	}
	n, err := samples.Delete(id)
	if err != nil {
		return err
	}
	fmt.Printf("Deleted %d face sample(s) of student %d.\n", n, id)
	return nil
}
