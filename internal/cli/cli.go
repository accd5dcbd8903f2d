package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	engine_http "github.com/ElizaSystems/lyn-sub001/internal/http"
	"github.com/ElizaSystems/lyn-sub001/internal/log"
	"github.com/ElizaSystems/lyn-sub001/internal/runner"
	internal_storage "github.com/ElizaSystems/lyn-sub001/internal/storage"
	"github.com/ElizaSystems/lyn-sub001/pkg/models"
	"github.com/ElizaSystems/lyn-sub001/pkg/service"
	"github.com/ElizaSystems/lyn-sub001/pkg/storage"
)

func SetupCLI(rootCmd *cobra.Command) {
	rootCmd.PersistentFlags().String("db", "", "Database connection string")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the task engine server",
		Run: func(cmd *cobra.Command, args []string) {
			port, _ := cmd.Flags().GetString("port")
			pollInterval, _ := cmd.Flags().GetDuration("poll-interval")
			store := initStore(cmd)
			defer store.Close()

			orc := newOrchestrator(store)
			defer orc.Shutdown()

			scheduleActiveCronTasks(orc, store)
			orc.StartPolling(context.Background(), pollInterval)

			if err := engine_http.StartServer(port, orc, store); err != nil {
				log.GetLogger().Errorf("Server stopped: %v", err)
				os.Exit(1)
			}
		},
	}
	serveCmd.Flags().String("port", "8080", "HTTP port to listen on")
	serveCmd.Flags().Duration("poll-interval", time.Minute, "Due-task polling interval")

	createCmd := &cobra.Command{
		Use:   "create-task",
		Short: "Create a task from a template",
		Run: func(cmd *cobra.Command, args []string) {
			templateID, _ := cmd.Flags().GetString("template")
			userID, _ := cmd.Flags().GetString("user")
			sets, _ := cmd.Flags().GetStringSlice("set")
			if templateID == "" || userID == "" {
				fmt.Fprintln(os.Stderr, "Error: --template and --user are required")
				os.Exit(1)
			}
			overrides := make(map[string]interface{}, len(sets))
			for _, s := range sets {
				parts := strings.SplitN(s, "=", 2)
				if len(parts) != 2 {
					fmt.Fprintf(os.Stderr, "Error: invalid --set %q, expected key=value\n", s)
					os.Exit(1)
				}
				overrides[parts[0]] = parts[1]
			}
			store := initStore(cmd)
			defer store.Close()
			orc := newOrchestrator(store)
			defer orc.Shutdown()

			task, err := orc.CreateTaskFromTemplate(templateID, userID, overrides)
			if err != nil {
				log.GetLogger().Errorf("Failed to create task: %v", err)
				fmt.Fprintf(os.Stderr, "Error: failed to create task: %v\n", err)
				os.Exit(1)
			}
			fmt.Fprintf(os.Stdout, "Created task '%s' with ID %s\n", task.Name, task.ID)
		},
	}
	createCmd.Flags().String("template", "", "Template ID")
	createCmd.Flags().String("user", "", "Owner user ID")
	createCmd.Flags().StringSlice("set", nil, "Config override key=value (repeatable)")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List a user's tasks",
		Run: func(cmd *cobra.Command, args []string) {
			userID, _ := cmd.Flags().GetString("user")
			if userID == "" {
				fmt.Fprintln(os.Stderr, "Error: --user is required")
				os.Exit(1)
			}
			store := initStore(cmd)
			defer store.Close()

			tasks, err := store.ListTasks(storage.TaskFilter{UserID: userID})
			if err != nil {
				log.GetLogger().Errorf("Failed to list tasks: %v", err)
				fmt.Fprintf(os.Stderr, "Error: failed to list tasks: %v\n", err)
				os.Exit(1)
			}
			if len(tasks) == 0 {
				fmt.Fprintln(os.Stdout, "No tasks found.")
				return
			}
			for _, t := range tasks {
				next := "-"
				if t.NextRun != nil {
					next = t.NextRun.Format(time.RFC3339)
				}
				fmt.Fprintf(os.Stdout, "- ID: %s, Name: %s, Type: %s, Status: %s, Success: %.0f%%, Next: %s\n",
					t.ID, t.Name, t.Type, t.Status, t.SuccessRate, next)
			}
		},
	}
	listCmd.Flags().String("user", "", "Owner user ID")

	executeCmd := &cobra.Command{
		Use:   "execute [task-id]",
		Short: "Execute one task immediately",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			store := initStore(cmd)
			defer store.Close()
			orc := newOrchestrator(store)
			defer orc.Shutdown()

			exec, err := orc.ExecuteTask(context.Background(), args[0], service.TriggerContext{
				TriggeredBy: models.ManualTrigger,
			})
			if err != nil {
				log.GetLogger().Errorf("Failed to execute task %s: %v", args[0], err)
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			if exec.Success {
				fmt.Fprintf(os.Stdout, "Task %s succeeded in %dms (cached=%v)\n", args[0], exec.Duration, exec.IsCached)
			} else {
				fmt.Fprintf(os.Stdout, "Task %s failed after %d retries: %s\n", args[0], exec.RetryCount, exec.Error)
			}
		},
	}

	dueCmd := &cobra.Command{
		Use:   "due",
		Short: "Execute every task that is currently due",
		Run: func(cmd *cobra.Command, args []string) {
			store := initStore(cmd)
			defer store.Close()
			orc := newOrchestrator(store)
			defer orc.Shutdown()

			executed, failed, err := orc.ExecuteAllDueTasks(context.Background())
			if err != nil {
				log.GetLogger().Errorf("Failed to execute due tasks: %v", err)
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Fprintf(os.Stdout, "Executed %d due tasks (%d failed)\n", executed, failed)
		},
	}

	batchCmd := &cobra.Command{
		Use:   "batch [task-id...]",
		Short: "Execute a group of tasks with bounded parallelism",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			parallel, _ := cmd.Flags().GetInt("parallel")
			store := initStore(cmd)
			defer store.Close()
			orc := newOrchestrator(store)
			defer orc.Shutdown()

			batch, err := orc.ExecuteBatch(context.Background(), args, parallel)
			if err != nil {
				log.GetLogger().Errorf("Failed to execute batch: %v", err)
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Fprintf(os.Stdout, "Batch %s finished with status %s: %d succeeded, %d failed\n",
				batch.ID, batch.Status, batch.SuccessfulTasks, batch.FailedTasks)
		},
	}
	batchCmd.Flags().Int("parallel", 0, "Max parallel executions (default engine setting)")

	analyticsCmd := &cobra.Command{
		Use:   "analytics",
		Short: "Show a user's task performance report",
		Run: func(cmd *cobra.Command, args []string) {
			userID, _ := cmd.Flags().GetString("user")
			taskID, _ := cmd.Flags().GetString("task")
			days, _ := cmd.Flags().GetInt("days")
			if userID == "" {
				fmt.Fprintln(os.Stderr, "Error: --user is required")
				os.Exit(1)
			}
			store := initStore(cmd)
			defer store.Close()
			orc := newOrchestrator(store)
			defer orc.Shutdown()

			f := storage.AnalyticsFilter{TaskID: taskID}
			if days > 0 {
				f.From = time.Now().AddDate(0, 0, -days)
			}
			report, err := orc.GetTaskAnalytics(userID, f)
			if err != nil {
				log.GetLogger().Errorf("Failed to query analytics: %v", err)
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Fprintf(os.Stdout, "Executions: %d\n", report.TotalExecutions)
			fmt.Fprintf(os.Stdout, "Success rate: %.1f%%\n", report.SuccessRate)
			fmt.Fprintf(os.Stdout, "Avg execution time: %.0fms\n", report.AverageExecutionTime)
			fmt.Fprintf(os.Stdout, "Cache hit rate: %.1f%%\n", report.CacheHitRate)
			for _, e := range report.TopErrors {
				fmt.Fprintf(os.Stdout, "- %dx %s\n", e.Count, e.Error)
			}
		},
	}
	analyticsCmd.Flags().String("user", "", "Owner user ID")
	analyticsCmd.Flags().String("task", "", "Limit to one task ID")
	analyticsCmd.Flags().Int("days", 0, "Limit to the last N days")

	pruneCmd := &cobra.Command{
		Use:   "prune-cache",
		Short: "Delete expired cached results",
		Run: func(cmd *cobra.Command, args []string) {
			store := initStore(cmd)
			defer store.Close()

			pruned, err := store.PruneCacheEntries(time.Now())
			if err != nil {
				log.GetLogger().Errorf("Failed to prune cache: %v", err)
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Fprintf(os.Stdout, "Pruned %d expired cache entries\n", pruned)
		},
	}

	rootCmd.AddCommand(serveCmd, createCmd, listCmd, executeCmd, dueCmd, batchCmd, analyticsCmd, pruneCmd)
}

func newOrchestrator(store storage.Store) *service.Orchestrator {
	logger := log.GetLogger()
	registry := service.NewRegistry(logger)
	runner.NewSimulator().RegisterAll(registry)
	return service.NewOrchestrator(store, registry, service.NewLogSink(logger), logger)
}

// scheduleActiveCronTasks registers every active cron-scheduled task on
// boot so restarts resume the schedule.
func scheduleActiveCronTasks(orc *service.Orchestrator, store storage.Store) {
	tasks, err := store.ListTasks(storage.TaskFilter{
		Statuses: []models.TaskStatus{models.ActiveTaskStatus},
	})
	if err != nil {
		log.GetLogger().Errorf("Failed to list active tasks for cron registration: %v", err)
		return
	}
	for _, t := range tasks {
		if t.CronExpression == "" {
			continue
		}
		if err := orc.ScheduleCron(t); err != nil {
			log.GetLogger().Errorf("Failed to schedule cron task %s: %v", t.ID, err)
		}
	}
}

func initStore(cmd *cobra.Command) *internal_storage.PostgresStore {
	dbConnStr, err := cmd.Flags().GetString("db")
	if err != nil || dbConnStr == "" {
		fmt.Fprintln(os.Stderr, "Error: --db connection string is required")
		os.Exit(1)
	}
	store, err := internal_storage.InitStore(dbConnStr)
	if err != nil {
		log.GetLogger().Errorf("Failed to initialize store: %v", err)
		os.Exit(1)
	}
	return store
}
