package main

import (
	"compress/bzip2"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/MrCodeEU/rollcall/pkg/logging"
	"github.com/MrCodeEU/rollcall/pkg/vision/dlib"
	"github.com/MrCodeEU/rollcall/pkg/vision/opencv"
)

const cascadeURL = "https://raw.githubusercontent.com/opencv/opencv/4.x/data/haarcascades/" + opencv.DefaultCascade

var fetchModelsCmd = &cobra.Command{
	Use:   "fetch-models [dir]",
	Short: "Download the Haar cascade and the dlib detector models",
	Long: `Download the Haar cascade used by the opencv detector and the dlib model
files used by the dlib detector. Files already present are skipped.
The default directory is <storage.data_dir>/models.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runFetchModels,
}

func init() {
	rootCmd.AddCommand(fetchModelsCmd)
	fetchModelsCmd.Flags().Bool("skip-dlib", false, "Only download the Haar cascade")
}

type modelFile struct {
	Name string
	URL  string
}

func runFetchModels(cmd *cobra.Command, args []string) error {
	modelDir := cfg.ModelsDir()
	if len(args) > 0 {
		modelDir = args[0]
	}

	log := logging.Component("models")
	log.Infof("Downloading models to: %s", modelDir)

	if err := os.MkdirAll(modelDir, 0755); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}

	models := []modelFile{{Name: opencv.DefaultCascade, URL: cascadeURL}}
	if !mustGetBool(cmd, "skip-dlib") {
		for _, m := range dlib.Models {
			models = append(models, modelFile{Name: m.Name, URL: m.URL})
		}
	}

	for _, model := range models {
		targetPath := filepath.Join(modelDir, model.Name)
		if _, err := os.Stat(targetPath); err == nil {
			log.Infof("Model %s already exists, skipping", model.Name)
			continue
		}

		if err := downloadModel(model.URL, targetPath); err != nil {
			return fmt.Errorf("failed to download %s: %w", model.Name, err)
		}
		log.Infof("Successfully downloaded %s", model.Name)
	}

	fmt.Printf("All models are in %s\n", modelDir)
	if cascade := filepath.Join(modelDir, opencv.DefaultCascade); cfg.Detection.CascadePath != cascade {
		fmt.Printf("Set detection.cascade_path to %s to use the downloaded cascade.\n", cascade)
	}
	return nil
}

// downloadModel fetches url into targetPath, decompressing .bz2 archives.
// The file only appears under its final name once complete.
func downloadModel(url, targetPath string) error {
	client := &http.Client{
		Timeout: 10 * time.Minute,
	}

	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	out, err := os.CreateTemp(filepath.Dir(targetPath), ".download-*")
	if err != nil {
		return err
	}
	tmp := out.Name()
	defer os.Remove(tmp)

	bar := progressbar.DefaultBytes(resp.ContentLength, filepath.Base(targetPath))
	var src io.Reader = io.TeeReader(resp.Body, bar)
	if strings.HasSuffix(url, ".bz2") {
		src = bzip2.NewReader(src)
	}

	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, targetPath)
}
