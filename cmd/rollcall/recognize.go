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

	"github.com/MrCodeEU/rollcall/pkg/ledger"
	"github.com/MrCodeEU/rollcall/pkg/recognition"
)

var recognizeCmd = &cobra.Command{
	Use:   "recognize",
	Short: "Mark recognized students present until stopped",
	Long: `Run the recognition loop on the camera and mark every recognized student
present for today. Stops on Ctrl-C, after --duration, or when an --input
directory runs out of images.

Examples:
  rollcall recognize
  rollcall recognize --duration 15m
  rollcall recognize --input ./frames/lecture`,
	Args: cobra.NoArgs,
	RunE: runRecognize,
}

func init() {
	rootCmd.AddCommand(recognizeCmd)

	recognizeCmd.Flags().Duration("duration", 0, "Stop after this long (0 = until interrupted)")
	recognizeCmd.Flags().String("input", "", "Read frames from a directory of images instead of the camera")
	recognizeCmd.Flags().Float64("threshold", 0, "Acceptance threshold (default: recognition.threshold)")
}

func runRecognize(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if d := mustGetDuration(cmd, "duration"); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	l, err := openLedger(ctx)
	if err != nil {
		return err
	}
	defer l.Close()

	rec, _, err := newRecognizer(ctx, l)
	if errors.Is(err, recognition.ErrModelNotLoaded) {
		rec.Close()
		return recognition.NewError(recognition.KindNoModel, true, err)
	}
	if err != nil {
		return err
	}
	defer rec.Close()

	if th, _ := cmd.Flags().GetFloat64("threshold"); th > 0 {
		rec.SetThreshold(th)
	}

	device, err := openDevice(mustGetString(cmd, "input"), false)
	if err != nil {
		return err
	}

	session := &recognition.Session{
		Device:        device,
		Recognizer:    rec,
		Ledger:        l,
		Cooldown:      cfg.Recognition.Cooldown,
		FrameInterval: frameInterval(device),
		OnEvent:       printEvent,
	}

	fmt.Printf("Recognizing on %s. Press Ctrl-C to stop.\n", device.Path())
	stats, err := session.Run(ctx)
	fmt.Printf("\n%d frames, %d faces, %d sightings, %d marked present in %s.\n",
		stats.Frames, stats.Faces, stats.Events, stats.Marked, stats.Duration.Round(time.Second))
	if stats.WriteErrors > 0 {
		fmt.Printf("%d attendance write(s) failed, see the log.\n", stats.WriteErrors)
	}
	return err
}

func printEvent(ev recognition.Event, outcome ledger.Outcome, err error) {
	ts := ev.At.Format("15:04:05")
	switch {
	case err != nil:
		fmt.Printf("%s  %-24s FAILED: %v\n", ts, ev.Name, err)
	case outcome == ledger.AlreadyPresent:
		fmt.Printf("%s  %-24s already present (%.1f)\n", ts, ev.Name, ev.Confidence)
	default:
		fmt.Printf("%s  %-24s present (%.1f)\n", ts, ev.Name, ev.Confidence)
	}
}
