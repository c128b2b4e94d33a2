package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"regoverlay/pkg/config"
	"regoverlay/pkg/workflow"
)

func main() {
	// Parse command line arguments
	static := flag.String("static", "", "Static (reference) image(s), path or glob")
	moving := flag.String("moving", "", "Moving image(s) registered to the static image, path or glob")
	affine := flag.String("affine", "", "Affine matrix file(s), path or glob")
	showMosaic := flag.Bool("mosaic", false, "Save a mosaic of all axial slices")
	animSliceType := flag.String("anim", "none", "Animation plane: saggital, coronal, axial or none")
	direct := flag.Bool("direct", false, "Write the animation directly from the overlay instead of rendering it")
	outDir := flag.String("out-dir", "", "Directory to save results in")
	mosaicFile := flag.String("mosaic-file", "", "Mosaic file name (default from config)")
	animateFile := flag.String("animate-file", "", "Animation file name (default from config)")
	configPath := flag.String("config", "", "Path to a YAML configuration file")
	computeMetrics := flag.Bool("metrics", false, "Compute similarity metrics between the static and moving images")
	saveSlices := flag.Bool("save-slices", false, "Save the overlay slices of the animation plane as PNG files")
	slicesDir := flag.String("slices-dir", "", "Directory, relative to the output directory, for saved slices")
	verbose := flag.Bool("verbose", false, "Print detailed progress")
	writeConfig := flag.String("write-config", "", "Write a default configuration file to this path and exit")
	flag.Parse()

	if *writeConfig != "" {
		if err := config.CreateDefaultConfigFile(*writeConfig); err != nil {
			log.Fatalf("Failed to write configuration: %v", err)
		}
		fmt.Printf("Default configuration written to: %s\n", *writeConfig)
		return
	}

	// Validate inputs
	if *static == "" || *moving == "" || *affine == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}
		cfg = loaded
	}

	// Command line flags override the configuration file
	if *outDir != "" {
		cfg.Output.OutDir = *outDir
	}
	if *mosaicFile != "" {
		cfg.Output.MosaicFile = *mosaicFile
	}
	if *animateFile != "" {
		cfg.Output.AnimateFile = *animateFile
	}
	if *slicesDir != "" {
		cfg.Output.SlicesDir = *slicesDir
	}
	if *saveSlices {
		cfg.Output.SaveSlices = true
	}
	if *verbose {
		cfg.Output.Verbose = true
	}

	fmt.Println("================================")
	fmt.Println("REGISTRATION OVERLAY VISUALISATION")
	fmt.Println("Static image in red, moving image in green")
	fmt.Println("================================")

	params := &workflow.Params{
		StaticFiles:    *static,
		MovingFiles:    *moving,
		AffineFiles:    *affine,
		ShowMosaic:     *showMosaic,
		AnimSliceType:  *animSliceType,
		Direct:         *direct,
		ComputeMetrics: *computeMetrics,
		Config:         cfg,
	}

	visualizer, err := workflow.NewVisualizer(params)
	if err != nil {
		log.Fatalf("Invalid arguments: %v", err)
	}

	startTime := time.Now()
	processErr := visualizer.Process()
	processingTime := time.Since(startTime)

	for _, res := range visualizer.Results() {
		if res.Metrics == nil {
			continue
		}
		m := res.Metrics
		fmt.Printf("\nRegistration Metrics for %s:\n", res.Moving)
		fmt.Printf("=======================================\n")
		fmt.Printf("Mutual Information (MI): %.3f\n", m.MI)
		fmt.Printf("Entropy Difference: %.3f\n", m.EntropyDiff)
		fmt.Printf("Root Mean Square Error (RMSE): %.6f\n", m.RMSE)
		fmt.Printf("Structural Similarity Index (SSIM): %.3f\n", m.SSIM)
		fmt.Printf("Correlation: %.3f\n", m.Correlation)
	}

	if processErr != nil {
		log.Fatalf("Visualisation failed: %v", processErr)
	}

	fmt.Printf("\nCompleted in %.2f seconds\n", processingTime.Seconds())
}
