package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/psantana5/shotread/internal/config"
)

var (
	cfgFile      string
	outputFormat string

	v *viper.Viper
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "shotread",
	Short: "Read-the-shot volleyball anticipation trainer",
	Long: `shotread plays short clips of a hitter, stops them just before contact and
asks you to call the shot. The first answer per clip is scored.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.shotread/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "output", "table", "output format: table or json")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("driver", "", "player driver: sim or mpv")
}

// initConfig builds the viper instance; flags bound here win over file and env
func initConfig() {
	v = config.New(cfgFile)
	v.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	v.BindPFlag("player.driver", rootCmd.PersistentFlags().Lookup("driver"))
}

// loadConfig decodes and validates the configuration
func loadConfig() (*config.Config, error) {
	if v == nil {
		initConfig()
	}
	return config.Load(v)
}

// IsJSONOutput returns true if JSON output is requested
func IsJSONOutput() bool {
	return outputFormat == "json"
}
