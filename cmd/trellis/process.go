package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/trellisproc/trellis/pkg/client"
	"github.com/trellisproc/trellis/pkg/deploy"
	"github.com/trellisproc/trellis/pkg/types"
)

func init() {
	deployCmd.Flags().StringP("file", "f", "", "Package description file (cwl, yaml or json)")
	deployCmd.Flags().String("href", "", "URL of a package description to deploy by reference")
	deployCmd.Flags().String("id", "", "Process identifier (defaults to the package id)")
	deployCmd.Flags().String("title", "", "Process title")
	deployCmd.Flags().String("abstract", "", "Process abstract")
	deployCmd.Flags().String("process-version", "", "Process version")
	deployCmd.Flags().StringSlice("keyword", nil, "Process keyword (repeatable)")
	deployCmd.Flags().Bool("private", false, "Deploy as a private process")

	executeCmd.Flags().StringArrayP("input", "i", nil, "Job input as id=value or id=@href (repeatable)")
	executeCmd.Flags().StringArrayP("output", "o", nil, "Requested output as id or id=reference|value (repeatable)")
	executeCmd.Flags().Bool("sync", false, "Wait for the result inside the execute request")
	executeCmd.Flags().Bool("watch", false, "Poll the job until it settles, printing progress")

	statusCmd.Flags().Bool("logs", false, "Also print the job log")
	statusCmd.Flags().Bool("watch", false, "Poll until the job settles")

	processesCmd.AddCommand(processesListCmd)
	processesCmd.AddCommand(undeployCmd)

	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(executeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(dismissCmd)
	rootCmd.AddCommand(processesCmd)
}

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Deploy an application package or workflow",
	Long: `Deploy a process from a package description.

Examples:
  # Deploy a containerized command-line tool
  trellis deploy -f cat.cwl --id cat-tool --title "Concatenate files"

  # Deploy a workflow referencing already-deployed steps
  trellis deploy -f chain.cwl --id chain

  # Deploy by reference
  trellis deploy --href https://apps.example.com/packages/tool.cwl --id tool`,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		href, _ := cmd.Flags().GetString("href")
		id, _ := cmd.Flags().GetString("id")
		title, _ := cmd.Flags().GetString("title")
		abstract, _ := cmd.Flags().GetString("abstract")
		version, _ := cmd.Flags().GetString("process-version")
		keywords, _ := cmd.Flags().GetStringSlice("keyword")
		private, _ := cmd.Flags().GetBool("private")

		opts := deploy.Options{
			ID:          id,
			Title:       title,
			Abstract:    abstract,
			Version:     version,
			Keywords:    keywords,
			PackagePath: file,
			PackageHref: href,
		}
		if private {
			opts.Visibility = types.VisibilityPrivate
		}
		payload, err := deploy.BuildPayload(opts)
		if err != nil {
			return err
		}

		if err := apiClient(cmd).Deploy(cmd.Context(), payload); err != nil {
			return err
		}
		desc := payload.ProcessDescription["process"].(map[string]interface{})
		fmt.Printf("✓ Process deployed: %s\n", desc["id"])
		return nil
	},
}

var executeCmd = &cobra.Command{
	Use:   "execute PROCESS",
	Short: "Submit a job for a deployed process",
	Long: `Submit a job. Inputs are id=value pairs; prefix the value with
'@' to pass a reference instead of a literal.

Examples:
  trellis execute cat-tool -i file=@https://data.example.com/notes.txt
  trellis execute subset -i dataset=@https://data.example.com/t.nc -i lat=45 --watch`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		inputArgs, _ := cmd.Flags().GetStringArray("input")
		outputArgs, _ := cmd.Flags().GetStringArray("output")
		sync, _ := cmd.Flags().GetBool("sync")
		watch, _ := cmd.Flags().GetBool("watch")

		inputs, err := deploy.ParseInputs(inputArgs)
		if err != nil {
			return err
		}
		outputs, err := deploy.ParseOutputs(outputArgs)
		if err != nil {
			return err
		}

		req := &client.ExecuteRequest{
			Mode:     "async",
			Response: "document",
			Inputs:   inputs,
			Outputs:  outputs,
		}
		if sync {
			req.Mode = "sync"
		}

		c := apiClient(cmd)
		result, location, err := c.Execute(cmd.Context(), args[0], req)
		if err != nil {
			return err
		}
		fmt.Printf("Job submitted: %s (%s)\n", result.JobID, result.Status)
		fmt.Printf("  Monitor: %s\n", location)

		if !watch {
			return nil
		}
		final, err := deploy.Watch(cmd.Context(), c, location, 2*time.Second, reportStatus)
		if err != nil {
			return err
		}
		if final.JobStatus() != types.JobSucceeded {
			return fmt.Errorf("job %s ended %s: %s", final.JobID, final.Status, final.Message)
		}
		return printResults(cmd, c, location)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status JOB",
	Short: "Show the status of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logs, _ := cmd.Flags().GetBool("logs")
		watch, _ := cmd.Flags().GetBool("watch")

		c := apiClient(cmd)
		info, err := c.Status(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		reportStatus(info)

		if watch && !info.JobStatus().Terminal() {
			location := c.Base() + "/jobs/" + args[0]
			if info, err = deploy.Watch(cmd.Context(), c, location, 2*time.Second, reportStatus); err != nil {
				return err
			}
		}

		if logs {
			lines, err := c.Logs(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Println()
			for _, line := range lines {
				fmt.Println(line)
			}
		}
		return nil
	},
}

var dismissCmd = &cobra.Command{
	Use:   "dismiss JOB",
	Short: "Cancel a submitted or running job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiClient(cmd).Dismiss(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Job dismissed: %s\n", args[0])
		return nil
	},
}

var processesCmd = &cobra.Command{
	Use:   "processes",
	Short: "Manage deployed processes",
}

var processesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List deployed processes",
	RunE: func(cmd *cobra.Command, args []string) error {
		processes, err := apiClient(cmd).ListProcesses(cmd.Context())
		if err != nil {
			return err
		}
		if len(processes) == 0 {
			fmt.Println("No processes deployed.")
			return nil
		}
		for _, p := range processes {
			line := p.ID
			if p.Version != "" {
				line += " (" + p.Version + ")"
			}
			if p.Title != "" {
				line += "  " + p.Title
			}
			fmt.Println(line)
		}
		return nil
	},
}

var undeployCmd = &cobra.Command{
	Use:   "undeploy PROCESS",
	Short: "Remove a deployed process",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiClient(cmd).Undeploy(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Process undeployed: %s\n", args[0])
		return nil
	},
}

func reportStatus(info *client.StatusInfo) {
	fmt.Printf("  %-9s %3d%%  %s\n", info.Status, info.Progress, info.Message)
}

func printResults(cmd *cobra.Command, c *client.Client, location string) error {
	results, err := c.Results(cmd.Context(), location)
	if err != nil {
		return err
	}
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(results.Outputs)
}
