package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/loomlocal/loom/pkg/config"
	"github.com/loomlocal/loom/pkg/logger"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "loom",
	Short: "Local LLM chat with streaming tools, vision and retrieval",
	Long: `Loom is a chat front-end for local OpenAI-compatible model servers.
It multiplexes thinking, tool activity, vision recognition and answer text
over one event stream and reconstructs them into renderable blocks.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Init(cfgFile); err != nil {
			return err
		}
		return logger.Init()
	},
	Run: func(cmd *cobra.Command, args []string) {
		runServe()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is .loom/settings.yaml)")

	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level")
	viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
}
