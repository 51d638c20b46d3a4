package cli

import (
	"fmt"
	"math"
	"time"

	"github.com/spf13/cobra"

	"motioncor/internal/frames"
	"motioncor/internal/imaging"
	"motioncor/internal/motion"
)

type selftestOptions struct {
	frames    int
	size      int
	vx, vy    float64
	passes    int
	seed      int64
	noise     float64
	tolerance float64
	output    string
}

func newSelftestCmd(root *Root) *cobra.Command {
	var opts selftestOptions
	cmd := &cobra.Command{
		Use:   "selftest",
		Short: "Correct a synthetic drifting movie and compare with the true drift",
		Long: `Build a movie from one random texture translated by a constant velocity,
estimate its trajectory with the configured motion settings and print the
recovered shifts next to the true ones. Fails when any frame is off by more
than --tolerance pixels.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			worst, err := root.selftest(cmd, opts)
			if err != nil {
				return err
			}
			if worst > opts.tolerance {
				return fmt.Errorf("worst error %.3f px exceeds %.3f px", worst, opts.tolerance)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&opts.frames, "frames", 16, "Number of frames")
	cmd.Flags().IntVar(&opts.size, "size", 512, "Frame width and height")
	cmd.Flags().Float64Var(&opts.vx, "vx", 0.6, "Drift per frame along x")
	cmd.Flags().Float64Var(&opts.vy, "vy", -0.3, "Drift per frame along y")
	cmd.Flags().IntVar(&opts.passes, "passes", 0, "Refinement passes (default from config)")
	cmd.Flags().Int64Var(&opts.seed, "seed", 1, "Texture seed")
	cmd.Flags().Float64Var(&opts.noise, "noise", 0, "Additive noise amplitude")
	cmd.Flags().Float64Var(&opts.tolerance, "tolerance", 0.3, "Largest acceptable per-frame error in pixels")
	cmd.Flags().StringVar(&opts.output, "output", "", "Write the corrected sum to this file")
	return cmd
}

func (r *Root) selftest(cmd *cobra.Command, o selftestOptions) (float64, error) {
	if o.frames < 2 || o.size < 16 {
		return 0, fmt.Errorf("need at least 2 frames of 16x16, got %d of %dx%d", o.frames, o.size, o.size)
	}
	mopts, err := r.cfg.MotionOptions()
	if err != nil {
		return 0, err
	}
	mopts.Logger = r.log

	base := frames.Blobs(o.size, o.size, o.size*o.size/600, 1.5, o.seed)
	movie := frames.Drift(base, o.frames, o.vx, o.vy)
	if o.noise > 0 {
		for i, f := range movie {
			f.Add(frames.Noise(o.size, o.size, o.seed+int64(i)+1).Scale(o.noise))
		}
	}

	start := time.Now()
	traj, sum, err := motion.NewDriver(mopts).Correct(cmd.Context(), movie, o.passes)
	if err != nil {
		return 0, err
	}
	elapsed := time.Since(start)

	xs, ys := traj.Shifts(o.frames)
	worst := 0.0
	r.printf("%5s %9s %9s %9s %9s\n", "frame", "true x", "found x", "true y", "found y")
	for t := 0; t < o.frames; t++ {
		tx, ty := -o.vx*float64(t), -o.vy*float64(t)
		r.printf("%5d %9.3f %9.3f %9.3f %9.3f\n", t, tx, xs[t], ty, ys[t])
		worst = math.Max(worst, math.Hypot(xs[t]-tx, ys[t]-ty))
	}
	r.printf("worst error %.3f px in %s\n", worst, elapsed.Round(time.Millisecond))

	if o.output != "" {
		if err := imaging.Save(o.output, sum); err != nil {
			return worst, err
		}
	}
	return worst, nil
}
