package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"fieldline/internal/app"
	"fieldline/internal/attach"
	"fieldline/internal/auth"
	"fieldline/internal/engine"
	"fieldline/internal/repo"
	"fieldline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "fl",
	Short: "Fieldline CLI",
	Long: `Fieldline coordinates field service work from a single workspace.
- Workspace: your .fieldline directory holding the SQLite database; fieldline.yml tunes stock and service colors.
- Tasks: visits that go scheduled -> completed (or cancelled); completing requires the client's signature.
- Reports: a completed visit write-up; filing one against a scheduled task completes it in place.
- Stock: the van inventory; completions and manual adjustments move quantities through a ledger that never loses concurrent updates.
- Alarms: one unread low-stock alarm per item until someone acknowledges it.
- Event log: diary of changes, view with 'fl log tail'.`,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("FIELDLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", app.DefaultAdminID, "acting technician id")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(calendarCmd())
	rootCmd.AddCommand(stockCmd())
	rootCmd.AddCommand(alarmCmd())
	rootCmd.AddCommand(clientCmd())
	rootCmd.AddCommand(techCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Workspace overview: task counts, low stock, unread alarms",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				counts, err := a.Engine.Repo.CountTasksByStatus(ctx)
				if err != nil {
					return err
				}
				low, err := a.Engine.LowStock(ctx)
				if err != nil {
					return err
				}
				unread, err := a.Engine.ListAlarms(ctx, true)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"task_counts":   counts,
					"low_stock":     len(low),
					"unread_alarms": len(unread),
				})
			})
		},
	}
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Manage tasks"}
	task.AddCommand(taskScheduleCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskGetCmd())
	task.AddCommand(taskPendingCmd())
	task.AddCommand(taskEditCmd())
	task.AddCommand(taskCompleteCmd())
	task.AddCommand(taskCancelCmd())
	task.AddCommand(taskReopenCmd())
	task.AddCommand(taskDeleteCmd())
	return task
}

func taskScheduleCmd() *cobra.Command {
	var opts engine.AppointmentOptions
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Schedule an appointment",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				actor, err := actorContext(ctx, a)
				if err != nil {
					return err
				}
				if opts.TechnicianID == "" {
					opts.TechnicianID = actor.ActorID
				}
				t, err := a.Engine.ScheduleAppointment(ctx, actor, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.TechnicianID, "technician", "", "technician id (defaults to actor)")
	cmd.Flags().StringVar(&opts.ClientName, "client", "", "client name")
	cmd.Flags().StringVar(&opts.Date, "date", "", "visit date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.StartTime, "start", "", "start time (HH:MM)")
	cmd.Flags().StringVar(&opts.EndTime, "end", "", "end time (HH:MM)")
	cmd.Flags().StringVar(&opts.ServiceType, "service", "", "service type")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.PartsNote, "parts", "", "parts note")
	_ = cmd.MarkFlagRequired("client")
	_ = cmd.MarkFlagRequired("date")
	_ = cmd.MarkFlagRequired("service")
	return cmd
}

func taskListCmd() *cobra.Command {
	var f repo.TaskFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				tasks, err := a.Engine.ListTasks(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Date", "Client", "Service", "Technician", "Status"})
				for _, t := range tasks {
					tw.AppendRow(table.Row{t.ID, t.Date, t.ClientName, t.ServiceType, t.TechnicianID, t.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.TechnicianID, "technician", "", "technician filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter (scheduled, completed, cancelled)")
	cmd.Flags().StringVar(&f.DateFrom, "from", "", "date lower bound")
	cmd.Flags().StringVar(&f.DateTo, "to", "", "date upper bound")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max results")
	return cmd
}

func taskGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Get task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskPendingCmd() *cobra.Command {
	var techID string
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "Pending tasks for a technician, next visit first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if techID == "" {
					techID = viper.GetString("actor-id")
				}
				tasks, err := a.Engine.ListPending(ctx, techID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Date", "Start", "Client", "Service"})
				for _, t := range tasks {
					tw.AppendRow(table.Row{t.ID, t.Date, t.StartTime, t.ClientName, t.ServiceType})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&techID, "technician", "", "technician id (defaults to actor)")
	return cmd
}

func taskEditCmd() *cobra.Command {
	var client, date, start, end, service, description, parts, technician string
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Edit a scheduled task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				actor, err := actorContext(ctx, a)
				if err != nil {
					return err
				}
				var opts engine.EditOptions
				if cmd.Flags().Changed("technician") {
					opts.TechnicianID = &technician
				}
				if cmd.Flags().Changed("client") {
					opts.ClientName = &client
				}
				if cmd.Flags().Changed("date") {
					opts.Date = &date
				}
				if cmd.Flags().Changed("start") {
					opts.StartTime = &start
				}
				if cmd.Flags().Changed("end") {
					opts.EndTime = &end
				}
				if cmd.Flags().Changed("service") {
					opts.ServiceType = &service
				}
				if cmd.Flags().Changed("description") {
					opts.Description = &description
				}
				if cmd.Flags().Changed("parts") {
					opts.PartsNote = &parts
				}
				t, err := a.Engine.EditAppointment(ctx, actor, args[0], opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&technician, "technician", "", "reassign to technician (admin)")
	cmd.Flags().StringVar(&client, "client", "", "client name")
	cmd.Flags().StringVar(&date, "date", "", "visit date")
	cmd.Flags().StringVar(&start, "start", "", "start time")
	cmd.Flags().StringVar(&end, "end", "", "end time")
	cmd.Flags().StringVar(&service, "service", "", "service type")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&parts, "parts", "", "parts note")
	return cmd
}

func completionFlags(cmd *cobra.Command, opts *engine.CompletionOptions) *[]string {
	cmd.Flags().StringVar(&opts.Signature, "signature", "", "client signature (data ref)")
	cmd.Flags().StringVar(&opts.SignerName, "signer", "", "signer name")
	cmd.Flags().StringVar(&opts.Description, "description", "", "work performed")
	cmd.Flags().StringVar(&opts.PartsNote, "parts", "", "parts note")
	cmd.Flags().StringVar(&opts.StockItemID, "stock-item", "", "stock item id")
	cmd.Flags().IntVar(&opts.StockQuantity, "stock-qty", 0, "stock quantity")
	cmd.Flags().StringVar(&opts.StockAction, "stock-action", "consumed", "stock action (consumed, returned, or a configured alias)")
	cmd.Flags().StringArrayVar(&opts.Attachments, "attachment", []string{}, "attachment ref (repeatable)")
	attachFiles := cmd.Flags().StringArray("attach", []string{}, "local file to store in the workspace and reference (repeatable)")
	return attachFiles
}

// storeAttachments copies local files into the workspace attachment store and
// returns their references.
func storeAttachments(ctx context.Context, paths []string) ([]string, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	store := attach.NewDir(viper.GetString("workspace"))
	refs := make([]string, 0, len(paths))
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return nil, err
		}
		ref, err := store.Put(ctx, filepath.Base(p), f)
		f.Close()
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func taskCompleteCmd() *cobra.Command {
	var opts engine.CompletionOptions
	var attachFiles *[]string
	cmd := &cobra.Command{
		Use:   "complete <id>",
		Short: "Complete a task with a signed report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				actor, err := actorContext(ctx, a)
				if err != nil {
					return err
				}
				refs, err := storeAttachments(ctx, *attachFiles)
				if err != nil {
					return err
				}
				opts.Attachments = append(opts.Attachments, refs...)
				t, err := a.Engine.CompleteTask(ctx, actor, args[0], opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	attachFiles = completionFlags(cmd, &opts)
	return cmd
}

func taskCancelCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a scheduled task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				actor, err := actorContext(ctx, a)
				if err != nil {
					return err
				}
				t, err := a.Engine.CancelTask(ctx, actor, args[0], reason)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "cancellation reason")
	return cmd
}

func taskReopenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reopen <id>",
		Short: "Reopen a completed task, reversing its stock movement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				actor, err := actorContext(ctx, a)
				if err != nil {
					return err
				}
				t, err := a.Engine.ReopenTask(ctx, actor, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a task, reversing applied stock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				actor, err := actorContext(ctx, a)
				if err != nil {
					return err
				}
				return a.Engine.DeleteTask(ctx, actor, args[0])
			})
		},
	}
}

func reportCmd() *cobra.Command {
	var opts engine.ReportOptions
	var attachFiles *[]string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "File a completed report, linked to a scheduled task or standalone",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				actor, err := actorContext(ctx, a)
				if err != nil {
					return err
				}
				if opts.TechnicianID == "" {
					opts.TechnicianID = actor.ActorID
				}
				refs, err := storeAttachments(ctx, *attachFiles)
				if err != nil {
					return err
				}
				opts.Completion.Attachments = append(opts.Completion.Attachments, refs...)
				t, err := a.Engine.CreateCompletedReport(ctx, actor, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.LinkedTaskID, "task", "", "scheduled task to complete")
	cmd.Flags().StringVar(&opts.TechnicianID, "technician", "", "technician id (defaults to actor)")
	cmd.Flags().StringVar(&opts.ClientName, "client", "", "client name (standalone)")
	cmd.Flags().StringVar(&opts.Date, "date", "", "visit date (standalone, defaults to today)")
	cmd.Flags().StringVar(&opts.ServiceType, "service", "", "service type (standalone)")
	attachFiles = completionFlags(cmd, &opts.Completion)
	return cmd
}

func calendarCmd() *cobra.Command {
	var technician, from, to string
	cmd := &cobra.Command{
		Use:   "calendar",
		Short: "Tasks in a date range with service colors",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				entries, err := a.Engine.ListCalendar(ctx, technician, from, to)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Date", "Start", "Client", "Service", "Color", "Status"})
				for _, e := range entries {
					tw.AppendRow(table.Row{e.Task.Date, e.Task.StartTime, e.Task.ClientName, e.Task.ServiceType, e.Color, e.Task.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&technician, "technician", "", "filter by technician")
	cmd.Flags().StringVar(&from, "from", "", "date lower bound")
	cmd.Flags().StringVar(&to, "to", "", "date upper bound")
	return cmd
}

func stockCmd() *cobra.Command {
	stock := &cobra.Command{Use: "stock", Short: "Manage van inventory"}
	stock.AddCommand(stockAddCmd())
	stock.AddCommand(stockListCmd())
	stock.AddCommand(stockShowCmd())
	stock.AddCommand(stockAdjustCmd())
	stock.AddCommand(stockEditCmd())
	stock.AddCommand(stockDeleteCmd())
	return stock
}

func stockAddCmd() *cobra.Command {
	var opts engine.StockItemOptions
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a stock item",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				actor, err := actorContext(ctx, a)
				if err != nil {
					return err
				}
				it, err := a.Engine.CreateStockItem(ctx, actor, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Name, "name", "", "item name")
	cmd.Flags().IntVar(&opts.Quantity, "qty", 0, "initial quantity")
	cmd.Flags().IntVar(&opts.MinThreshold, "min", 0, "low-stock threshold")
	cmd.Flags().StringVar(&opts.Category, "category", "", "category")
	cmd.Flags().StringVar(&opts.Unit, "unit", "", "unit")
	cmd.Flags().StringVar(&opts.Supplier, "supplier", "", "supplier")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func stockListCmd() *cobra.Command {
	var low bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stock items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListStock(ctx)
				if err != nil {
					return err
				}
				if low {
					items, err = a.Engine.LowStock(ctx)
					if err != nil {
						return err
					}
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Qty", "Min", "Category", "Unit"})
				for _, it := range items {
					tw.AppendRow(table.Row{it.ID, it.Name, it.Quantity, it.MinThreshold, it.Category, it.Unit})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&low, "low", false, "only items at or below threshold")
	return cmd
}

func stockShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a stock item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				it, err := a.Engine.GetStockItem(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
}

func stockAdjustCmd() *cobra.Command {
	var delta int
	var reason string
	cmd := &cobra.Command{
		Use:   "adjust <id>",
		Short: "Apply a manual quantity delta",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				actor, err := actorContext(ctx, a)
				if err != nil {
					return err
				}
				adj, err := a.Engine.AdjustStock(ctx, actor, args[0], delta, reason)
				if err != nil {
					return err
				}
				return printJSONOrTable(adj)
			})
		},
	}
	cmd.Flags().IntVar(&delta, "delta", 0, "signed quantity change")
	cmd.Flags().StringVar(&reason, "reason", "", "why")
	_ = cmd.MarkFlagRequired("delta")
	return cmd
}

func stockEditCmd() *cobra.Command {
	var opts engine.StockItemOptions
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Edit stock item metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				actor, err := actorContext(ctx, a)
				if err != nil {
					return err
				}
				it, err := a.Engine.UpdateStockItem(ctx, actor, args[0], opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Name, "name", "", "item name")
	cmd.Flags().IntVar(&opts.MinThreshold, "min", 0, "low-stock threshold")
	cmd.Flags().StringVar(&opts.Category, "category", "", "category")
	cmd.Flags().StringVar(&opts.Unit, "unit", "", "unit")
	cmd.Flags().StringVar(&opts.Supplier, "supplier", "", "supplier")
	return cmd
}

func stockDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an unreferenced stock item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				actor, err := actorContext(ctx, a)
				if err != nil {
					return err
				}
				return a.Engine.DeleteStockItem(ctx, actor, args[0])
			})
		},
	}
}

func alarmCmd() *cobra.Command {
	alarm := &cobra.Command{Use: "alarm", Short: "Low-stock alarms"}
	alarm.AddCommand(alarmListCmd())
	alarm.AddCommand(alarmAckCmd())
	return alarm
}

func alarmListCmd() *cobra.Command {
	var unread bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List alarms",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				alarms, err := a.Engine.ListAlarms(ctx, unread)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(alarms)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Priority", "Read", "Created"})
				for _, al := range alarms {
					tw.AppendRow(table.Row{al.ID, al.Title, al.Priority, al.Read, al.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&unread, "unread", false, "only unread alarms")
	return cmd
}

func alarmAckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ack <id>",
		Short: "Acknowledge an alarm",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Engine.AcknowledgeAlarm(ctx, args[0])
			})
		},
	}
}

func clientCmd() *cobra.Command {
	client := &cobra.Command{Use: "client", Short: "Client directory"}
	client.AddCommand(clientListCmd())
	client.AddCommand(clientAddCmd())
	client.AddCommand(clientSearchCmd())
	client.AddCommand(clientImportCmd())
	client.AddCommand(clientExportCmd())
	return client
}

func clientListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List clients",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				clients, err := a.Engine.ListClients(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(clients)
			})
		},
	}
}

func clientAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <name>",
		Short: "Add a client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				c, err := a.Engine.AddClient(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
}

func clientSearchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Search clients by name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				clients, err := a.Engine.SearchClients(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(clients)
			})
		},
	}
}

func clientImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import client names from a file, one per line",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(filePath)
			if err != nil {
				return err
			}
			defer f.Close()
			var names []string
			scanner := bufio.NewScanner(f)
			for scanner.Scan() {
				names = append(names, scanner.Text())
			}
			if err := scanner.Err(); err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				actor, err := actorContext(ctx, a)
				if err != nil {
					return err
				}
				created, err := a.Engine.ImportClients(ctx, actor, names)
				if err != nil {
					return err
				}
				fmt.Printf("imported %d new clients\n", created)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to names file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func clientExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Export the client directory as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				clients, err := a.Engine.ListClients(ctx)
				if err != nil {
					return err
				}
				return printJSON(clients)
			})
		},
	}
}

func techCmd() *cobra.Command {
	tech := &cobra.Command{Use: "tech", Short: "Technician roster"}
	tech.AddCommand(techListCmd())
	tech.AddCommand(techAddCmd())
	return tech
}

func techListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List technicians",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				techs, err := a.Engine.ListTechnicians(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(techs)
			})
		},
	}
}

func techAddCmd() *cobra.Command {
	var opts engine.TechnicianOptions
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a technician",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				actor, err := actorContext(ctx, a)
				if err != nil {
					return err
				}
				t, err := a.Engine.AddTechnician(ctx, actor, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "technician id (generated if empty)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "name")
	cmd.Flags().StringVar(&opts.Role, "role", auth.RoleTech, "role (admin or tech)")
	cmd.Flags().StringVar(&opts.Specialty, "specialty", "", "specialty")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func apikeyCmd() *cobra.Command {
	key := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	key.AddCommand(apikeyCreateCmd())
	key.AddCommand(apikeyListCmd())
	key.AddCommand(apikeyDeleteCmd())
	return key
}

func apikeyCreateCmd() *cobra.Command {
	var actorID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (printed once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				actor, err := actorContext(ctx, a)
				if err != nil {
					return err
				}
				key, raw, err := a.Engine.CreateAPIKey(ctx, actor, actorID, name)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{
					"id":       key.ID,
					"actor_id": key.ActorID,
					"key":      raw,
				})
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "for", "", "technician the key acts as (defaults to actor)")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var actorID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				actor, err := actorContext(ctx, a)
				if err != nil {
					return err
				}
				keys, err := a.Engine.ListAPIKeys(ctx, actor, actorID)
				if err != nil {
					return err
				}
				return printJSONOrTable(keys)
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "for", "", "filter by technician")
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				actor, err := actorContext(ctx, a)
				if err != nil {
					return err
				}
				return a.Engine.DeleteAPIKey(ctx, actor, args[0])
			})
		},
	}
}

func logCmd() *cobra.Command {
	log := &cobra.Command{Use: "log", Short: "Event log"}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				events, err := a.Engine.LatestEvents(ctx, repo.EventFilters{
					EntityKind: entityKind,
					EntityID:   entityID,
					Limit:      n,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				authCfg := server.AuthConfig{JWTSecret: os.Getenv("FIELDLINE_JWT_SECRET")}
				if authCfg.JWTSecret == "" {
					return fmt.Errorf("FIELDLINE_JWT_SECRET is required for bearer auth")
				}
				handler, err := server.New(server.Config{Engine: a.Engine, BasePath: basePath, Auth: authCfg})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving Fieldline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	return cmd
}

// --- helpers ---

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Open(ctx, viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// actorContext resolves --actor-id against the roster so role checks use the
// stored role, not a caller-asserted one.
func actorContext(ctx context.Context, a *app.App) (auth.Context, error) {
	actorID := viper.GetString("actor-id")
	tech, err := a.Engine.Repo.GetTechnician(ctx, actorID)
	if err != nil {
		return auth.Context{}, fmt.Errorf("unknown technician %q; add with 'fl tech add'", actorID)
	}
	return auth.Context{ActorID: tech.ID, Role: tech.Role}, nil
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
