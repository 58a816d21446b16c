package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/trellisproc/trellis/pkg/client"
)

func init() {
	providersRegisterCmd.Flags().String("url", "", "Endpoint URL of the provider (required)")
	providersRegisterCmd.Flags().String("type", "WPS", "Provider protocol: WPS or API-Processes")
	providersRegisterCmd.Flags().String("auth", "", "Auth mode: none, token or cert")
	providersRegisterCmd.Flags().Bool("public", false, "List the provider publicly")
	providersRegisterCmd.Flags().Bool("skip-probe", false, "Register without probing the endpoint")
	_ = providersRegisterCmd.MarkFlagRequired("url")

	providersCmd.AddCommand(providersListCmd)
	providersCmd.AddCommand(providersRegisterCmd)
	providersCmd.AddCommand(providersUnregisterCmd)
	providersCmd.AddCommand(providersProcessesCmd)

	rootCmd.AddCommand(providersCmd)
}

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Manage registered remote providers",
}

var providersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered providers",
	RunE: func(cmd *cobra.Command, args []string) error {
		providers, err := apiClient(cmd).ListProviders(cmd.Context())
		if err != nil {
			return err
		}
		if len(providers) == 0 {
			fmt.Println("No providers registered.")
			return nil
		}
		for _, p := range providers {
			line := fmt.Sprintf("%-20s %-14s %s", p.ID, p.Type, p.URL)
			if p.Title != "" {
				line += "  (" + p.Title + ")"
			}
			fmt.Println(line)
		}
		return nil
	},
}

var providersRegisterCmd = &cobra.Command{
	Use:   "register [NAME]",
	Short: "Register a remote WPS or API-Processes provider",
	Long: `Register a remote provider. The name is slugified; when omitted
or empty the service picks a random one.

Examples:
  trellis providers register hummingbird --url https://wps.example.com/ows/wps
  trellis providers register --url https://ades.example.com --type API-Processes`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		url, _ := cmd.Flags().GetString("url")
		ptype, _ := cmd.Flags().GetString("type")
		auth, _ := cmd.Flags().GetString("auth")
		public, _ := cmd.Flags().GetBool("public")
		skipProbe, _ := cmd.Flags().GetBool("skip-probe")

		reg := &client.ProviderRegistration{
			URL:       url,
			Type:      ptype,
			Auth:      auth,
			Public:    public,
			SkipProbe: skipProbe,
		}
		if len(args) == 1 {
			reg.ID = args[0]
		}

		summary, err := apiClient(cmd).RegisterProvider(cmd.Context(), reg)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Provider registered: %s (%s)\n", summary.ID, summary.URL)
		return nil
	},
}

var providersUnregisterCmd = &cobra.Command{
	Use:   "unregister NAME",
	Short: "Remove a registered provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiClient(cmd).UnregisterProvider(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Provider unregistered: %s\n", args[0])
		return nil
	},
}

var providersProcessesCmd = &cobra.Command{
	Use:   "processes NAME",
	Short: "List the processes a provider offers",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		processes, err := apiClient(cmd).ProviderProcesses(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		for _, p := range processes {
			line := p.ID
			if p.Title != "" {
				line += "  " + p.Title
			}
			fmt.Println(line)
		}
		return nil
	},
}
