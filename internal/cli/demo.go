package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"pilot-tracker/internal/app"
)

var (
	demoCount int
	demoSeed  uint64
	demoStats bool
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "生成一批演示航班并打印分布",
	RunE: func(cmd *cobra.Command, args []string) error {
		if demoCount <= 0 {
			return errors.New("--count 必须大于 0")
		}
		opts := app.DemoOptions{
			Count: demoCount,
			Seed:  demoSeed,
			Stats: demoStats,
		}
		return getApp().Demo(cmd.Context(), cmd.OutOrStdout(), opts)
	},
}

func init() {
	demoCmd.Flags().IntVar(&demoCount, "count", 50, "Number of synthetic flights")
	demoCmd.Flags().Uint64Var(&demoSeed, "seed", 0, "Deterministic seed (0 picks a random one)")
	demoCmd.Flags().BoolVar(&demoStats, "stats", false, "Print a synthetic stats snapshot as JSON instead")
}
