package cmd

import (
	"fmt"
	"os"

	"github.com/coder/hopperapi/cmd/attach"
	"github.com/coder/hopperapi/cmd/server"
	"github.com/coder/hopperapi/internal/version"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:     "hopperapi",
	Short:   "HopperAPI CLI",
	Long:    `HopperAPI - HTTP API for a servo driven candy dispenser`,
	Version: version.Version,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(server.CreateServerCmd())
	rootCmd.AddCommand(attach.AttachCmd)
}
