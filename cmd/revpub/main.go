package main

import (
	"fmt"
	"os"
	"time"

	"revpub/internal/app"
	"revpub/internal/config"
	"revpub/internal/model"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file from its default location.
func loadConfig() (*config.Config, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, nil
}

// newApp reads the config and creates a PublishApp. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "Publish").
func newApp(operation string) (*app.PublishApp, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	a, err := app.NewPublishApp(cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

var rootCmd = &cobra.Command{
	Use:   "revpub",
	Short: "Revision-driven website publisher",
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		// Generate a new working copy ID
		workingCopyID := uuid.New().String()

		cfg := config.NewConfig(workingCopyID, defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Working Copy ID: %s\n", workingCopyID)
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Working Copy ID: %s\n", cfg.WorkingCopyID)
		fmt.Printf("Base Dir:        %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:         %s\n", cfg.LogDir)
		fmt.Printf("Repository:      %s (%s, branch %s)\n", cfg.Repository.Type, cfg.Repository.Root, cfg.Repository.Branch)
		return nil
	},
}

// migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the publish database",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		if err := app.MigrateDatabase(cfg); err != nil {
			return err
		}

		fmt.Println("Database is up to date.")
		return nil
	},
}

// publish command
var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Create a publish job for new revisions",
	RunE: func(cmd *cobra.Command, args []string) error {
		fromRev, _ := cmd.Flags().GetInt64("from")

		a, err := newApp("Publish")
		if err != nil {
			return err
		}
		defer a.Close()

		var job *model.Job
		if cmd.Flags().Changed("from") {
			job, err = a.PublishFrom(cmd.Context(), fromRev)
		} else {
			job, err = a.Publish(cmd.Context())
		}
		if err != nil {
			return fmt.Errorf("publish failed: %w", err)
		}

		if job == nil {
			fmt.Println("Nothing to publish.")
			return nil
		}

		fmt.Printf("Created job %s for revisions (%d, %d]\n", job.ID, job.StartRev, job.EndRev)
		return nil
	},
}

// jobs command
var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "View publish job history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp("ListJobs")
		if err != nil {
			return err
		}
		defer a.Close()

		jobs, err := a.ListJobs(cmd.Context(), limit)
		if err != nil {
			return err
		}

		if len(jobs) == 0 {
			fmt.Println("No publish jobs recorded.")
			return nil
		}

		for _, j := range jobs {
			fmt.Printf("%s  (%d, %d]  %s\n",
				j.ID,
				j.StartRev,
				j.EndRev,
				j.CreatedAt.Format(time.DateTime),
			)
		}
		return nil
	},
}

// job command
var jobCmd = &cobra.Command{
	Use:   "job JOB_ID",
	Short: "View the file and property records of a publish job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("JobDetail")
		if err != nil {
			return err
		}
		defer a.Close()

		job, files, props, err := a.JobDetail(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Job %s  (%d, %d]  %s\n\n", job.ID, job.StartRev, job.EndRev, job.CreatedAt.Format(time.DateTime))

		propsByGUID := make(map[string][]*model.JobProperty)
		for _, p := range props {
			propsByGUID[p.GUIDID] = append(propsByGUID[p.GUIDID], p)
		}

		for _, f := range files {
			action := string(f.Action)
			if action == "" {
				action = "unchanged"
			}
			marker := " "
			if f.PathChanged {
				marker = "R"
			}
			fmt.Printf("%s %-13s %s\n", marker, action, f.GUIDID)
			for _, p := range propsByGUID[f.GUIDID] {
				fmt.Printf("    %-9s %s\n", string(p.Action), p.Name)
			}
		}
		return nil
	},
}

// urls command
var urlsCmd = &cobra.Command{
	Use:   "urls",
	Short: "View the URL table",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("ListURLs")
		if err != nil {
			return err
		}
		defer a.Close()

		urls, err := a.ListURLs(cmd.Context())
		if err != nil {
			return err
		}

		if len(urls) == 0 {
			fmt.Println("No URLs recorded.")
			return nil
		}

		byID := make(map[int64]*model.URL, len(urls))
		for _, u := range urls {
			byID[u.ID] = u
		}

		for _, u := range urls {
			switch u.Status {
			case model.URLRedirect:
				target := ""
				if u.RedirectToID != nil {
					if t := byID[*u.RedirectToID]; t != nil {
						target = t.URL
					}
				}
				fmt.Printf("%-8s  %s -> %s\n", u.Status, u.URL, target)
			default:
				fmt.Printf("%-8s  %s\n", u.Status, u.URL)
			}
		}
		return nil
	},
}

// status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "View the last published revision",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Status")
		if err != nil {
			return err
		}
		defer a.Close()

		rev, err := a.LastPublishedRev(cmd.Context())
		if err != nil {
			return err
		}

		if rev == 0 {
			fmt.Println("Nothing published yet.")
			return nil
		}
		fmt.Printf("Last published revision: %d\n", rev)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(publishCmd)
	publishCmd.Flags().Int64("from", 0, "Publish the explicit range (from, latest]")
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.Flags().IntP("limit", "n", 50, "Maximum number of jobs to show")
	rootCmd.AddCommand(jobCmd)
	rootCmd.AddCommand(urlsCmd)
	rootCmd.AddCommand(statusCmd)
}
