package gen

import (
	"github.com/spf13/cobra"
)

var RootCmd = &cobra.Command{
	Use:   "gen",
	Short: "Generate protoip documentation",
	Long:  `Generate documentation, such as man pages, from the protoip commands`,
}

func init() {
	RootCmd.AddCommand(ManPagesCmd)
}
