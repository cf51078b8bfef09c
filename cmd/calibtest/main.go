// Command calibtest calibrates a simulated rig and prints the estimated
// matrix, its pseudo-inverse and the round-trip error of reference moves.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/golang/geo/r3"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"autopatch/internal/config"
	"autopatch/internal/rig"
	"autopatch/internal/vision"
	"autopatch/internal/vision/cv"
)

func main() {
	matcherName := flag.String("matcher", "sim", "Vision matcher: sim or cv")
	rounds := flag.Int("rounds", 0, "Trial move doublings per axis (0 = default)")
	span := flag.Float64("span", 50, "Half-width of the target grid (µm)")
	verbose := flag.Bool("v", false, "Log calibration steps")
	flag.Parse()

	log := zap.NewNop()
	if *verbose {
		log, _ = zap.NewDevelopment()
	}

	cfg := config.Default()
	cfg.Calibration.Settle = 0
	if *rounds > 0 {
		cfg.Calibration.Rounds = *rounds
	}

	var matcher vision.Matcher
	if *matcherName == "cv" {
		matcher = cv.New(cv.DefaultOptions())
	}
	r, err := rig.NewSimulated(cfg, log, rig.Options{Matcher: matcher})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build rig: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	origin := r.World.Tip()

	fmt.Printf("=== Calibrating (%s matcher) ===\n", *matcherName)
	if err := r.Calibrate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Calibration failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\nTrue M:\n%.4g\n", mat.Formatted(r.World.UnitMatrix(), mat.Squeeze()))
	fmt.Printf("\nEstimated M:\n%.4g\n", mat.Formatted(r.Unit.Matrix(), mat.Squeeze()))
	fmt.Printf("\nMinv:\n%.4g\n", mat.Formatted(r.Unit.Inverse(), mat.Squeeze()))
	fmt.Printf("\nr0: %v\n", r.Unit.Offset())

	var diff mat.Dense
	diff.Sub(r.World.UnitMatrix(), r.Unit.Matrix())
	fmt.Printf("Matrix error (Frobenius): %.3g\n", mat.Norm(&diff, 2))

	fmt.Printf("\nPer-target residuals:\n")
	s := *span
	worst := 0.0
	for _, target := range []r3.Vector{
		{X: -s, Y: -s, Z: -s / 2}, {X: s, Y: -s, Z: 0}, {X: -s, Y: s, Z: s / 2},
		{X: s, Y: s, Z: -s / 2}, {X: 0, Y: 0, Z: 0},
	} {
		if err := r.Unit.ReferenceMove(ctx, target); err != nil {
			fmt.Fprintf(os.Stderr, "Move to %v failed: %v\n", target, err)
			os.Exit(1)
		}
		reached := r.World.Tip().Sub(origin)
		e := reached.Sub(target).Norm()
		if e > worst {
			worst = e
		}
		fmt.Printf("  target=(%6.1f, %6.1f, %6.1f)  err=%.3f µm\n", target.X, target.Y, target.Z, e)
	}
	fmt.Printf("\nWorst error: %.3f µm\n", worst)
}
