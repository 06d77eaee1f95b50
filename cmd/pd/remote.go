package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"pilotdeck/internal/console"
	"pilotdeck/internal/stream"
	sdk "pilotdeck/sdk/go"
)

// newClient builds an SDK client from flags and PILOTDECK_* env. Without a
// token or key the actor id is sent as X-Actor-Id.
func newClient() *sdk.Client {
	c := sdk.New(viper.GetString("api-url"), viper.GetString("workspace-id"))
	c.BearerToken = viper.GetString("token")
	c.APIKey = viper.GetString("api-key")
	if c.BearerToken == "" && c.APIKey == "" {
		c.ActorID = viper.GetString("actor-id")
	}
	return c
}

func newConsole(client *sdk.Client, opts console.Options) *console.Console {
	opts.Logger = newLogger()
	opts.Registerer = prometheus.NewRegistry()
	return console.New(client, opts)
}

func modeCmd() *cobra.Command {
	mode := &cobra.Command{
		Use:   "mode",
		Short: "Inspect and change automation modes",
		Long:  "Lowering a module to manual applies at once. Raising it to copilot or autopilot is an escalation and needs --confirm.",
	}
	mode.AddCommand(modeListCmd())
	mode.AddCommand(modeGetCmd())
	mode.AddCommand(modeSetCmd())
	return mode
}

func modeListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List modes of every module",
		RunE: func(cmd *cobra.Command, args []string) error {
			modes, err := newClient().Modes(cmd.Context())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(modes)
			}
			ids := make([]string, 0, len(modes))
			for id := range modes {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			tw := newTable("Module", "Mode", "Updated By", "Updated At")
			for _, id := range ids {
				m := modes[id]
				tw.AppendRow(table.Row{id, m.Mode, m.UpdatedBy, m.UpdatedAt})
			}
			tw.Render()
			return nil
		},
	}
}

func modeGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <module>",
		Short: "Show the mode of one module",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			modes, err := newClient().Modes(cmd.Context())
			if err != nil {
				return err
			}
			m, ok := modes[args[0]]
			if !ok {
				m = sdk.ModeState{ModuleID: args[0], Mode: sdk.ModeManual}
			}
			if viper.GetBool("json") {
				return printJSON(m)
			}
			fmt.Printf("%s: %s\n", m.ModuleID, m.Mode)
			return nil
		},
	}
}

func modeSetCmd() *cobra.Command {
	var confirm bool
	cmd := &cobra.Command{
		Use:   "set <module> <mode>",
		Short: "Change the mode of one module",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			moduleID, target := args[0], sdk.Mode(strings.ToLower(args[1]))
			c := newConsole(newClient(), console.Options{})
			if err := c.Modes.Refresh(ctx); err != nil {
				return err
			}
			out, err := c.Confirm.Request(ctx, moduleID, target)
			if err != nil {
				return err
			}
			if out == console.OutcomeArmed {
				if !confirm {
					return fmt.Errorf("raising %s to %s is an escalation; repeat with --confirm", moduleID, target)
				}
				if out, err = c.Confirm.Request(ctx, moduleID, target); err != nil {
					return err
				}
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"module_id": moduleID, "mode": c.Modes.GetMode(moduleID), "outcome": out.String()})
			}
			fmt.Printf("%s: %s (%s)\n", moduleID, c.Modes.GetMode(moduleID), out)
			return nil
		},
	}
	cmd.Flags().BoolVar(&confirm, "confirm", false, "confirm an escalation")
	return cmd
}

func approvalsCmd() *cobra.Command {
	ap := &cobra.Command{Use: "approvals", Short: "Review pending items"}
	ap.AddCommand(approvalsListCmd())
	ap.AddCommand(approvalsCountCmd())
	ap.AddCommand(approvalsResolveCmd(sdk.ActionApprove))
	ap.AddCommand(approvalsResolveCmd(sdk.ActionReject))
	ap.AddCommand(approvalsBatchCmd())
	return ap
}

func approvalsListCmd() *cobra.Command {
	var f sdk.ApprovalFilter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List approval items",
		RunE: func(cmd *cobra.Command, args []string) error {
			page, err := newClient().ListApprovals(cmd.Context(), f)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(page)
			}
			tw := newTable("ID", "Module", "Priority", "Status", "Title", "Created")
			for _, it := range page.Items {
				tw.AppendRow(table.Row{it.ID, it.ModuleID, it.Priority, it.Status, it.Title, it.CreatedAt})
			}
			tw.Render()
			if page.NextCursor != "" {
				fmt.Println("next cursor:", page.NextCursor)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&f.Module, "module", "", "module filter")
	cmd.Flags().StringVar(&f.Status, "status", "pending", "status filter (pending, approved, rejected)")
	cmd.Flags().StringVar(&f.Priority, "priority", "", "priority filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "page size")
	cmd.Flags().StringVar(&f.Cursor, "cursor", "", "page cursor")
	return cmd
}

func approvalsCountCmd() *cobra.Command {
	var moduleID string
	cmd := &cobra.Command{
		Use:   "count",
		Short: "Count pending items",
		RunE: func(cmd *cobra.Command, args []string) error {
			counts, err := newClient().CountApprovals(cmd.Context(), moduleID)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(counts)
			}
			fmt.Printf("pending: %d\n", counts.Total)
			ids := make([]string, 0, len(counts.ByModule))
			for id := range counts.ByModule {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			for _, id := range ids {
				fmt.Printf("  %s: %d\n", id, counts.ByModule[id])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&moduleID, "module", "", "module filter")
	return cmd
}

func approvalsResolveCmd(action sdk.ResolveAction) *cobra.Command {
	return &cobra.Command{
		Use:   string(action) + " <id>",
		Short: strings.ToUpper(string(action[:1])) + string(action[1:]) + " one item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := newClient().Resolve(cmd.Context(), args[0], action)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(res)
			}
			if !res.Applied {
				fmt.Printf("%s was already %s\n", res.Item.ID, res.Item.Status)
				return nil
			}
			fmt.Printf("%s %s\n", res.Item.ID, res.Item.Status)
			if res.ActionID != "" {
				fmt.Println("action:", res.ActionID)
			}
			return nil
		},
	}
}

func approvalsBatchCmd() *cobra.Command {
	var action string
	cmd := &cobra.Command{
		Use:   "batch <id>...",
		Short: "Resolve several items; one failure does not stop the rest",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			act := sdk.ResolveAction(action)
			if act != sdk.ActionApprove && act != sdk.ActionReject {
				return fmt.Errorf("--action must be approve or reject")
			}
			c := newConsole(newClient(), console.Options{})
			res := c.Queue.ResolveBatch(cmd.Context(), args, act)
			if viper.GetBool("json") {
				return printJSON(res)
			}
			fmt.Printf("succeeded: %d, failed: %d\n", len(res.Succeeded), len(res.Failed))
			for _, id := range res.Failed {
				fmt.Println("  failed:", id)
			}
			if len(res.Failed) > 0 {
				return errors.New("some items were not resolved")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&action, "action", "approve", "approve or reject")
	return cmd
}

func actionsCmd() *cobra.Command {
	ac := &cobra.Command{Use: "actions", Short: "Inspect executed actions"}
	ac.AddCommand(actionsListCmd())
	ac.AddCommand(actionsStatsCmd())
	ac.AddCommand(actionsCompleteCmd())
	return ac
}

func actionsListCmd() *cobra.Command {
	var f sdk.ActionFilter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List actions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			page, err := newClient().ListActions(cmd.Context(), f)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(page)
			}
			tw := newTable("ID", "Module", "Status", "Duration (ms)", "Description", "Created")
			for _, a := range page.Items {
				tw.AppendRow(table.Row{a.ID, a.ModuleID, a.Status, a.DurationMs, a.Description, a.CreatedAt})
			}
			tw.Render()
			if page.NextCursor != "" {
				fmt.Println("next cursor:", page.NextCursor)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&f.Module, "module", "", "module filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "page size")
	cmd.Flags().StringVar(&f.Cursor, "cursor", "", "page cursor")
	return cmd
}

func actionsStatsCmd() *cobra.Command {
	var moduleID string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show action statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newClient().ActionStats(cmd.Context(), moduleID)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(s)
			}
			fmt.Printf("today: %d  completed: %d  failed: %d  success rate: %d%%\n", s.Today, s.Completed, s.Failed, s.SuccessRate)
			return nil
		},
	}
	cmd.Flags().StringVar(&moduleID, "module", "", "module filter")
	return cmd
}

func actionsCompleteCmd() *cobra.Command {
	var status, errMsg string
	var durationMs int64
	cmd := &cobra.Command{
		Use:   "complete <id>",
		Short: "Report the outcome of a pending action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, applied, err := newClient().CompleteAction(cmd.Context(), args[0], sdk.ActionStatus(status), durationMs, errMsg)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"action": a, "applied": applied})
			}
			if !applied {
				fmt.Printf("%s was already %s\n", a.ID, a.Status)
				return nil
			}
			fmt.Printf("%s %s\n", a.ID, a.Status)
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", string(sdk.ActionCompleted), "completed or failed")
	cmd.Flags().Int64Var(&durationMs, "duration-ms", 0, "execution time")
	cmd.Flags().StringVar(&errMsg, "error", "", "failure message")
	return cmd
}

func rulesCmd() *cobra.Command {
	r := &cobra.Command{Use: "rules", Short: "Manage automation rules"}
	r.AddCommand(rulesListCmd())
	r.AddCommand(rulesCreateCmd())
	r.AddCommand(rulesDeleteCmd())
	return r
}

func rulesListCmd() *cobra.Command {
	var moduleID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			rules, err := newClient().ListRules(cmd.Context(), moduleID)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(rules)
			}
			tw := newTable("ID", "Module", "Name", "Enabled", "Updated")
			for _, r := range rules {
				tw.AppendRow(table.Row{r.ID, r.ModuleID, r.Name, r.Enabled, r.UpdatedAt})
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&moduleID, "module", "", "module filter")
	return cmd
}

func rulesCreateCmd() *cobra.Command {
	var in sdk.NewRule
	var trigger, action string
	var disabled bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a rule",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if in.Trigger, err = parseJSONObject("trigger", trigger); err != nil {
				return err
			}
			if in.Action, err = parseJSONObject("action", action); err != nil {
				return err
			}
			if disabled {
				enabled := false
				in.Enabled = &enabled
			}
			r, err := newClient().CreateRule(cmd.Context(), in)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(r)
			}
			fmt.Println("created rule", r.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&in.ModuleID, "module", "", "module id")
	cmd.Flags().StringVar(&in.Name, "name", "", "rule name")
	cmd.Flags().StringVar(&trigger, "trigger", "{}", "trigger as JSON object")
	cmd.Flags().StringVar(&action, "action", "{}", "action as JSON object")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "create the rule disabled")
	_ = cmd.MarkFlagRequired("module")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func rulesDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient().DeleteRule(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Println("deleted rule", args[0])
			return nil
		},
	}
}

// agentCmd plays the upstream agent: it proposes items and records actions
// the way an automation runner would.
func agentCmd() *cobra.Command {
	ag := &cobra.Command{Use: "agent", Short: "Act as an upstream automation agent"}
	ag.AddCommand(agentProposeCmd())
	ag.AddCommand(agentRecordCmd())
	return ag
}

func agentProposeCmd() *cobra.Command {
	var in sdk.NewApproval
	var payload string
	var confidence int
	cmd := &cobra.Command{
		Use:   "propose",
		Short: "Queue an item for human review",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if in.Payload, err = parseJSONObject("payload", payload); err != nil {
				return err
			}
			if cmd.Flags().Changed("confidence") {
				in.Confidence = &confidence
			}
			it, err := newClient().CreateApproval(cmd.Context(), in)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(it)
			}
			fmt.Printf("proposed %s (%s, %s)\n", it.ID, it.ModuleID, it.Priority)
			return nil
		},
	}
	cmd.Flags().StringVar(&in.ID, "id", "", "item id (makes the call idempotent)")
	cmd.Flags().StringVar(&in.ModuleID, "module", "", "module id")
	cmd.Flags().StringVar(&in.Title, "title", "", "title")
	cmd.Flags().StringVar(&in.Description, "description", "", "description")
	cmd.Flags().StringVar(&in.Priority, "priority", "medium", "low, medium, high or urgent")
	cmd.Flags().StringVar(&payload, "payload", "", "payload as JSON object")
	cmd.Flags().IntVar(&confidence, "confidence", 0, "confidence 0-100")
	_ = cmd.MarkFlagRequired("module")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func agentRecordCmd() *cobra.Command {
	var in sdk.NewAction
	var status string
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record an executed action",
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Status = sdk.ActionStatus(status)
			a, err := newClient().RecordAction(cmd.Context(), in)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(a)
			}
			fmt.Printf("recorded %s (%s)\n", a.ID, a.Status)
			return nil
		},
	}
	cmd.Flags().StringVar(&in.ModuleID, "module", "", "module id")
	cmd.Flags().StringVar(&in.ApprovalID, "approval-id", "", "approval the action executes")
	cmd.Flags().StringVar(&in.Description, "description", "", "what was done")
	cmd.Flags().StringVar(&status, "status", "", "pending, completed or failed")
	cmd.Flags().Int64Var(&in.DurationMs, "duration-ms", 0, "execution time")
	cmd.Flags().StringVar(&in.Error, "error", "", "failure message")
	_ = cmd.MarkFlagRequired("module")
	_ = cmd.MarkFlagRequired("description")
	return cmd
}

func eventsCmd() *cobra.Command {
	var evtType, cursor string
	var limit int
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Tail the workspace event log",
		RunE: func(cmd *cobra.Command, args []string) error {
			page, err := newClient().Events(cmd.Context(), evtType, limit, cursor)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(page)
			}
			tw := newTable("ID", "Time", "Type", "Entity", "Actor")
			for _, e := range page.Items {
				tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.EntityKind + "/" + e.EntityID, e.ActorID})
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().IntVar(&limit, "limit", 20, "number of events")
	cmd.Flags().StringVar(&cursor, "cursor", "", "return events older than this id")
	return cmd
}

func generateCmd() *cobra.Command {
	var body string
	cmd := &cobra.Command{
		Use:   "generate <endpoint>",
		Short: "Stream a generation from an agent endpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := parseJSONObject("body", body)
			if err != nil {
				return err
			}
			return runGenerate(cmd.Context(), newClient(), args[0], req)
		},
	}
	cmd.Flags().StringVar(&body, "body", "{}", "request body as JSON object")
	return cmd
}

func runGenerate(ctx context.Context, client *sdk.Client, endpoint string, body map[string]any) error {
	rc, err := client.Generate(ctx, endpoint, body)
	if err != nil {
		return err
	}
	defer rc.Close()
	res, err := stream.Consume(ctx, rc, func(text string) {
		if !viper.GetBool("json") {
			fmt.Fprint(os.Stdout, text)
		}
	})
	if err != nil {
		return err
	}
	if viper.GetBool("json") {
		return printJSON(res)
	}
	fmt.Println()
	return nil
}
