package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/psantana5/shotread/pkg/auth"
	tlsutil "github.com/psantana5/shotread/pkg/tls"
)

var configFormat string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration inspection",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Prints the configuration after defaults, the config file and SHOTREAD_*
environment overrides have been applied.`,
	RunE: runConfigShow,
}

var configAPIKeyCmd = &cobra.Command{
	Use:   "api-key [key]",
	Short: "Generate an API key and the hash to put in server.api_key_hash",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runConfigAPIKey,
}

var configCertCmd = &cobra.Command{
	Use:   "cert <cert-file> <key-file> [host...]",
	Short: "Write a self-signed certificate for server.tls_cert and server.tls_key",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runConfigCert,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd, configAPIKeyCmd, configCertCmd)

	configShowCmd.Flags().StringVarP(&configFormat, "format", "f", "yaml", "Output format: yaml, json")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if used := v.ConfigFileUsed(); used != "" {
		fmt.Fprintf(os.Stderr, "# from %s\n", used)
	}

	switch configFormat {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(cfg)
	case "yaml":
		encoder := yaml.NewEncoder(os.Stdout)
		encoder.SetIndent(2)
		return encoder.Encode(cfg)
	default:
		return fmt.Errorf("unknown format %q", configFormat)
	}
}

func runConfigAPIKey(cmd *cobra.Command, args []string) error {
	var key string
	if len(args) == 1 {
		key = args[0]
	} else {
		var err error
		if key, err = auth.GenerateAPIKey(); err != nil {
			return err
		}
	}
	hash, err := auth.HashAPIKey(key, 0)
	if err != nil {
		return err
	}
	fmt.Printf("API key:      %s\n", key)
	fmt.Printf("api_key_hash: %s\n", hash)
	return nil
}

func runConfigCert(cmd *cobra.Command, args []string) error {
	if err := tlsutil.GenerateSelfSignedCert(args[0], args[1], "shotread", args[2:]...); err != nil {
		return err
	}
	fmt.Printf("Certificate written to %s, key to %s\n", args[0], args[1])
	return nil
}
