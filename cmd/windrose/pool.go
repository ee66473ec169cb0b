package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var poolCmd = &cobra.Command{
	Use:   "pool",
	Short: "Manage instance pools",
}

var poolListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pools",
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := openWorkspace(cmd)
		if err != nil {
			return err
		}
		defer ws.Close()

		summaries, err := ws.pools.List(ws.project.ID)
		if err != nil {
			return err
		}
		if len(summaries) == 0 {
			fmt.Println("No pools")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tDEFAULT\tINSTANCES\tAVAILABLE")
		for _, s := range summaries {
			marker := ""
			if s.Default {
				marker = "*"
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", s.Pool.Name, marker, s.Total, s.Available)
		}
		return w.Flush()
	},
}

var poolCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a pool",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := openWorkspace(cmd)
		if err != nil {
			return err
		}
		defer ws.Close()

		pool, err := ws.pools.GetOrCreatePool(ws.project.ID, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("✓ Pool %s ready\n", pool.Name)
		return nil
	},
}

var poolDeleteCmd = &cobra.Command{
	Use:   "delete NAME",
	Short: "Delete a pool",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")

		ws, err := openWorkspace(cmd)
		if err != nil {
			return err
		}
		defer ws.Close()

		if err := ws.pools.Delete(ws.project.ID, args[0], force); err != nil {
			return err
		}
		fmt.Printf("✓ Pool %s deleted\n", args[0])
		return nil
	},
}

var poolShowCmd = &cobra.Command{
	Use:   "show [NAME]",
	Short: "Show a pool and its instances",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := openWorkspace(cmd)
		if err != nil {
			return err
		}
		defer ws.Close()

		// No argument shows the project default pool.
		name := ""
		if len(args) == 1 {
			name = args[0]
		} else {
			pool, err := ws.pools.GetOrCreatePool(ws.project.ID, "")
			if err != nil {
				return err
			}
			name = pool.Name
		}

		pool, instances, err := ws.pools.Show(ws.project.ID, name)
		if err != nil {
			return err
		}

		fmt.Printf("Pool: %s\n", pool.Name)
		fmt.Printf("Created: %s\n", pool.CreatedAt.Format(time.DateTime))
		if len(instances) == 0 {
			fmt.Println("No instances")
			return nil
		}

		fmt.Println()
		w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tBACKEND\tREGION\tPRICE\tSTATUS\tCREATED")
		for _, inst := range instances {
			fmt.Fprintf(w, "%s\t%s\t%s\t$%.4f\t%s\t%s\n",
				inst.Name, inst.Backend, inst.Region, inst.Price, inst.Status,
				inst.CreatedAt.Format(time.DateTime))
		}
		return w.Flush()
	},
}

var poolRemoveCmd = &cobra.Command{
	Use:   "remove POOL INSTANCE",
	Short: "Remove one instance from a pool",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")

		ws, err := openWorkspace(cmd)
		if err != nil {
			return err
		}
		defer ws.Close()

		if err := ws.pools.Remove(ws.project.ID, args[0], args[1], force); err != nil {
			return err
		}
		fmt.Printf("✓ Instance %s removal requested\n", args[1])
		return nil
	},
}

var poolSetDefaultCmd = &cobra.Command{
	Use:   "set-default NAME",
	Short: "Make a pool the project default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := openWorkspace(cmd)
		if err != nil {
			return err
		}
		defer ws.Close()

		if err := ws.pools.SetDefault(ws.project.ID, args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Pool %s is now the default\n", args[0])
		return nil
	},
}

var poolAddRemoteCmd = &cobra.Command{
	Use:   "add-remote POOL NAME HOST",
	Short: "Register an SSH-reachable machine as a pool instance",
	Example: `  # Add a lab machine to the on-prem pool
  windrose pool add-remote onprem lab-box-1 10.0.2.15 --ssh-user ubuntu`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetInt("port")
		user, _ := cmd.Flags().GetString("ssh-user")
		region, _ := cmd.Flags().GetString("region")

		ws, err := openWorkspace(cmd)
		if err != nil {
			return err
		}
		defer ws.Close()

		instance, err := ws.pools.AddRemote(ws.project.ID, args[0], args[1], args[2], port, user, region)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Instance %s registered, waiting for its runner to come up\n", instance.Name)
		return nil
	},
}

func init() {
	poolCmd.PersistentFlags().String("project", "main", "Project name")

	poolDeleteCmd.Flags().Bool("force", false, "Tear down instances still in the pool")
	poolRemoveCmd.Flags().Bool("force", false, "Remove even if the instance is busy")
	poolAddRemoteCmd.Flags().Int("port", 22, "SSH port of the machine")
	poolAddRemoteCmd.Flags().String("ssh-user", "root", "SSH user on the machine")
	poolAddRemoteCmd.Flags().String("region", "", "Region label for placement filters")

	poolCmd.AddCommand(poolListCmd)
	poolCmd.AddCommand(poolCreateCmd)
	poolCmd.AddCommand(poolDeleteCmd)
	poolCmd.AddCommand(poolShowCmd)
	poolCmd.AddCommand(poolRemoveCmd)
	poolCmd.AddCommand(poolSetDefaultCmd)
	poolCmd.AddCommand(poolAddRemoteCmd)
}
