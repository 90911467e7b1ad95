package cli

import (
	"fmt"

	"allais-survey-service/internal/stats"
	"github.com/spf13/cobra"
)

// NewPowerCmd prints the sample size needed for an effect, or the power reached at a given N.
func NewPowerCmd() *cobra.Command {
	var (
		effect float64
		power  float64
		alpha  float64
		n      int
		legacy bool
	)
	cmd := &cobra.Command{
		Use:   "power",
		Short: "Plan sample sizes for a two-group Allais comparison",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if n > 0 {
				p := stats.Power(n, effect, alpha)
				if legacy {
					p = stats.PowerApprox(n, effect)
				}
				fmt.Fprintf(out, "power at N=%d for h=%.3f: %.3f\n", n, effect, p)
				return nil
			}

			var (
				required int
				err      error
			)
			if legacy {
				required, err = stats.RequiredSampleSizeLegacy(effect)
			} else {
				required, err = stats.RequiredSampleSize(effect, power, alpha)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "required N for h=%.3f: %d (%d per group)\n", effect, required, (required+1)/2)
			return nil
		},
	}
	cmd.Flags().Float64Var(&effect, "effect", 0.5, "expected Cohen's h")
	cmd.Flags().Float64Var(&power, "power", 0.8, "target power")
	cmd.Flags().Float64Var(&alpha, "alpha", stats.SignificanceLevel, "two-tailed significance level")
	cmd.Flags().IntVar(&n, "n", 0, "report the power reached with this many valid responses instead")
	cmd.Flags().BoolVar(&legacy, "legacy", false, "use the fixed 1.96/0.84 approximations")
	return cmd
}
