package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/trellisproc/trellis/pkg/client"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Exit codes of the trellis binary
const (
	exitConfig   = 1
	exitStore    = 2
	exitWPSSetup = 3
)

// exitError carries a process exit code alongside the cause
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		os.Exit(exitConfig)
	}
}

var rootCmd = &cobra.Command{
	Use:   "trellis",
	Short: "Trellis - OGC API Processes execution management service",
	Long: `Trellis is an execution management service for containerized
geospatial processes. It deploys application packages and workflows,
executes them locally (ADES) or dispatches workflow steps to remote
deployment services (EMS), and speaks both OGC API - Processes and
the legacy WPS 1.0/2.0 protocols.

The serve command runs the service; the remaining commands are thin
clients against a running instance.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Trellis version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("api", "http://localhost:4001", "Base URL of the trellis service")
	rootCmd.PersistentFlags().String("token", "", "Bearer token for mutating operations")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Trellis version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
	},
}

// apiClient builds the REST client from the persistent flags
func apiClient(cmd *cobra.Command) *client.Client {
	base, _ := cmd.Flags().GetString("api")
	token, _ := cmd.Flags().GetString("token")
	return client.NewClient(base, &http.Client{Timeout: 30 * time.Second}, token)
}
