package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/windrose-sh/windrose/pkg/types"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Submit and manage runs",
}

var runSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a run from a YAML spec",
	Example: `  # Submit a task
  windrose run submit -f train.yaml

  # Submit into another project
  windrose run submit -f serve.yaml --project research`,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		spec, err := loadRunSpec(file)
		if err != nil {
			return err
		}

		ws, err := openWorkspace(cmd)
		if err != nil {
			return err
		}
		defer ws.Close()

		if spec.RepoID == "" {
			spec.RepoID = ws.repo.ID
		}
		run, err := ws.runs.Submit(cmd.Context(), ws.user, ws.project, spec)
		if err != nil {
			return err
		}

		fmt.Printf("✓ Run %s submitted\n", run.Name)
		if run.GatewayDomain != "" {
			fmt.Printf("  Service URL: https://%s\n", run.GatewayDomain)
		}
		return nil
	},
}

var runPlanCmd = &cobra.Command{
	Use:   "plan",
	Short: "Preview where a run's jobs could land, without submitting",
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		spec, err := loadRunSpec(file)
		if err != nil {
			return err
		}

		ws, err := openWorkspace(cmd)
		if err != nil {
			return err
		}
		defer ws.Close()

		if spec.RepoID == "" {
			spec.RepoID = ws.repo.ID
		}
		plan, err := ws.runs.Plan(cmd.Context(), ws.user, ws.project, spec)
		if err != nil {
			return err
		}

		fmt.Printf("Run plan for project %s (user %s)\n", plan.ProjectName, plan.UserName)
		for _, jp := range plan.JobPlans {
			fmt.Printf("\nJob %s:\n", jp.JobSpec.Name)
			if len(jp.Offers) == 0 {
				fmt.Println("  No matching capacity")
				continue
			}
			w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
			fmt.Fprintln(w, "  #\tBACKEND\tREGION\tINSTANCE\tRESOURCES\tPRICE")
			for i, offer := range jp.Offers {
				fmt.Fprintf(w, "  %d\t%s\t%s\t%s\t%s\t$%.4f\n",
					i+1, offer.Backend, offer.Region, offer.Instance.Name,
					formatResources(offer.Instance.Resources), offer.Price)
			}
			w.Flush()
			if jp.TotalOffers > len(jp.Offers) {
				fmt.Printf("  ... and %d more offers\n", jp.TotalOffers-len(jp.Offers))
			}
		}
		return nil
	},
}

var runListCmd = &cobra.Command{
	Use:   "list",
	Short: "List runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := openWorkspace(cmd)
		if err != nil {
			return err
		}
		defer ws.Close()

		summaries, err := ws.runs.List(ws.project.ID)
		if err != nil {
			return err
		}
		if len(summaries) == 0 {
			fmt.Println("No runs")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tTYPE\tSTATUS\tSUBMITTED\tCOST")
		for _, s := range summaries {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t$%.4f\n",
				s.Run.Name, s.Run.Spec.Configuration.Type, s.Run.Status,
				s.Run.SubmittedAt.Format(time.DateTime), s.Cost)
		}
		return w.Flush()
	},
}

var runGetCmd = &cobra.Command{
	Use:   "get NAME",
	Short: "Show one run with its jobs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := openWorkspace(cmd)
		if err != nil {
			return err
		}
		defer ws.Close()

		summary, err := ws.runs.Get(ws.project.ID, args[0])
		if err != nil {
			return err
		}

		run := summary.Run
		fmt.Printf("Name: %s\n", run.Name)
		fmt.Printf("Type: %s\n", run.Spec.Configuration.Type)
		fmt.Printf("Status: %s\n", run.Status)
		if run.TerminationReason != "" {
			fmt.Printf("Termination Reason: %s\n", run.TerminationReason)
		}
		if run.GatewayDomain != "" {
			fmt.Printf("Service URL: https://%s\n", run.GatewayDomain)
		}
		fmt.Printf("Submitted: %s\n", run.SubmittedAt.Format(time.DateTime))
		fmt.Printf("Cost: $%.4f\n", summary.Cost)

		if len(summary.Jobs) > 0 {
			fmt.Println()
			w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
			fmt.Fprintln(w, "JOB\tREPLICA\tSUBMISSION\tSTATUS\tREASON")
			for _, job := range summary.Jobs {
				fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\n",
					job.Name, job.ReplicaNum, job.SubmissionNum, job.Status, job.TerminationReason)
			}
			return w.Flush()
		}
		return nil
	},
}

var runStopCmd = &cobra.Command{
	Use:   "stop NAME [NAME...]",
	Short: "Stop active runs",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		abort, _ := cmd.Flags().GetBool("abort")

		ws, err := openWorkspace(cmd)
		if err != nil {
			return err
		}
		defer ws.Close()

		if err := ws.runs.StopRuns(cmd.Context(), ws.project.ID, args, abort); err != nil {
			return err
		}
		fmt.Println("✓ Stop requested")
		return nil
	},
}

var runDeleteCmd = &cobra.Command{
	Use:   "delete NAME [NAME...]",
	Short: "Delete finished runs, freeing their names",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := openWorkspace(cmd)
		if err != nil {
			return err
		}
		defer ws.Close()

		if err := ws.runs.Delete(ws.project.ID, args); err != nil {
			return err
		}
		fmt.Printf("✓ Deleted %d run(s)\n", len(args))
		return nil
	},
}

func init() {
	runCmd.PersistentFlags().String("project", "main", "Project name")

	runSubmitCmd.Flags().StringP("file", "f", "", "Run spec file (required)")
	runSubmitCmd.MarkFlagRequired("file")
	runPlanCmd.Flags().StringP("file", "f", "", "Run spec file (required)")
	runPlanCmd.MarkFlagRequired("file")
	runStopCmd.Flags().Bool("abort", false, "Cut jobs off without asking runners to shut down")

	runCmd.AddCommand(runSubmitCmd)
	runCmd.AddCommand(runPlanCmd)
	runCmd.AddCommand(runListCmd)
	runCmd.AddCommand(runGetCmd)
	runCmd.AddCommand(runStopCmd)
	runCmd.AddCommand(runDeleteCmd)
}

func loadRunSpec(path string) (types.RunSpec, error) {
	var spec types.RunSpec
	data, err := os.ReadFile(path)
	if err != nil {
		return spec, fmt.Errorf("failed to read run spec: %v", err)
	}
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return spec, fmt.Errorf("failed to parse run spec: %v", err)
	}
	return spec, nil
}

// formatResources renders an offer's hardware on one line, preferring the
// backend's own description when it provides one.
func formatResources(r types.Resources) string {
	if r.Description != "" {
		return r.Description
	}
	parts := []string{
		fmt.Sprintf("%dxCPU", r.CPUs),
		fmt.Sprintf("%dMB", r.MemoryMiB),
	}
	if len(r.GPUs) > 0 {
		parts = append(parts, fmt.Sprintf("%dx%s", len(r.GPUs), r.GPUs[0].Name))
	}
	if r.DiskSizeMiB > 0 {
		parts = append(parts, fmt.Sprintf("%dMB (disk)", r.DiskSizeMiB))
	}
	if r.Spot {
		parts = append(parts, "spot")
	}
	return strings.Join(parts, ", ")
}
