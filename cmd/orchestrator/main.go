// Package main 编排服务入口
package main

import (
	"os"

	"github.com/spf13/cobra"
)

// version 构建时通过 -ldflags "-X main.version=..." 注入
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:          "orchestrator",
		Short:        "Adaptive orchestration and resilience core for analytics workers",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"config file (default: layered configs/common.yaml + configs/{env}.yaml)")

	rootCmd.AddCommand(
		newServeCmd(&configPath),
		newTokenCmd(&configPath),
		newVersionCmd(),
	)
	return rootCmd
}
