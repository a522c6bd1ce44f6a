package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/MrCodeEU/rollcall/pkg/camera"
	"github.com/MrCodeEU/rollcall/pkg/vision"
	"github.com/MrCodeEU/rollcall/pkg/vision/opencv"
)

var backendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "List vision backends and what they provide",
	Args:  cobra.NoArgs,
	RunE:  runBackends,
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check cascade, model, samples, database and camera",
	Args:  cobra.NoArgs,
	RunE:  runDoctor,
}

func init() {
	rootCmd.AddCommand(backendsCmd, doctorCmd)
}

func runBackends(cmd *cobra.Command, args []string) error {
	mgr := vision.Default()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "BACKEND\tNAME\tCAPABILITIES\tTESTED")
	for _, b := range mgr.Backends() {
		caps := make([]string, len(b.Capabilities))
		for i, c := range b.Capabilities {
			caps[i] = string(c)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", b.Backend, b.Name, strings.Join(caps, ","), b.Tested)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Println()
	for _, c := range []vision.Capability{vision.CapDetect, vision.CapClassify, vision.CapCapture} {
		preferred := vision.BackendAuto
		switch c {
		case vision.CapDetect:
			preferred = vision.Backend(cfg.Detection.Backend)
		case vision.CapClassify:
			preferred = vision.Backend(cfg.Recognition.Backend)
		}
		b, err := mgr.Select(preferred, c)
		if err != nil {
			fmt.Printf("  %-9s -\n", c)
			continue
		}
		fmt.Printf("  %-9s %s\n", c, b)
	}
	for _, b := range mgr.Backends() {
		if b.Warning != "" {
			fmt.Printf("\nWarning (%s): %s\n", b.Backend, b.Warning)
		}
	}
	return nil
}

type check struct {
	name string
	run  func() (string, error)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	checks := []check{
		{"cascade", func() (string, error) {
			return opencv.Doctor(cfg.Detection.CascadePath)
		}},
		{"model", func() (string, error) {
			_, path, err := classifierFactory()
			if err != nil {
				return "", err
			}
			info, err := os.Stat(path)
			if err != nil {
				return "", fmt.Errorf("%s missing, run 'rollcall train'", path)
			}
			return fmt.Sprintf("%s (%d bytes, %s)", path, info.Size(), info.ModTime().Format("2006-01-02 15:04")), nil
		}},
		{"samples", func() (string, error) {
			samples, err := openSamples()
			if err != nil {
				return "", err
			}
			ids, err := samples.Identities()
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%s (%d student(s))", samples.Dir(), len(ids)), nil
		}},
		{"database", func() (string, error) {
			l, err := openLedger(ctx)
			if err != nil {
				return "", err
			}
			defer l.Close()
			ids, err := l.ListIdentities(ctx)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%s (%d student(s))", cfg.Database.Driver, len(ids)), nil
		}},
		{"camera", func() (string, error) {
			if camera.IsDir(cfg.Camera.Device) {
				return cfg.Camera.Device + " (image directory)", nil
			}
			for _, d := range camera.ListDevices() {
				if d.Path == cfg.Camera.Device {
					return fmt.Sprintf("%s (%s)", d.Path, d.Name), nil
				}
			}
			return "", fmt.Errorf("%w: %s not found", camera.ErrDeviceUnavailable, cfg.Camera.Device)
		}},
	}

	failed := 0
	for _, c := range checks {
		detail, err := c.run()
		if err != nil {
			failed++
			fmt.Printf("[FAIL] %-9s %v\n", c.name, err)
			continue
		}
		fmt.Printf("[ OK ] %-9s %s\n", c.name, detail)
	}
	if failed > 0 {
		return fmt.Errorf("%d check(s) failed", failed)
	}
	return nil
}
