package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rcliao/companion-memory/internal/engine"
	"github.com/rcliao/companion-memory/internal/model"
	"github.com/rcliao/companion-memory/internal/store"
)

func init() {
	remindCmd := &cobra.Command{
		Use:   "remind",
		Short: "Manage reminders",
	}

	addCmd := &cobra.Command{
		Use:   "add [content]",
		Short: "Schedule a reminder",
		Long:  "Schedule a reminder at an absolute time (--at), after a duration (--in), or from a vague keyword (--keyword) resolved via learned preferences.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runRemindAdd,
	}
	addCmd.Flags().String("at", "", "Absolute time (RFC 3339)")
	addCmd.Flags().String("in", "", "Relative duration, e.g. 30m or 2h")
	addCmd.Flags().StringP("keyword", "k", "", "Vague time keyword, e.g. 一会儿 or later")
	addCmd.Flags().String("repeat", "", "Repeat pattern: daily, weekly, monthly, yearly, or a millisecond interval")
	addCmd.Flags().String("until", "", "Repeat end time (RFC 3339)")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List reminders",
		Run:   runRemindList,
	}
	listCmd.Flags().StringP("status", "s", "", "Filter by status: pending, completed, cancelled, missed")
	listCmd.Flags().IntP("limit", "l", 100, "Max results")
	listCmd.Flags().Bool("today", false, "Only reminders between now and midnight")

	cancelCmd := &cobra.Command{
		Use:   "cancel [id]",
		Short: "Cancel a pending reminder",
		Args:  cobra.ExactArgs(1),
		Run:   runRemindCancel,
	}

	rmCmd := &cobra.Command{
		Use:   "rm [id]",
		Short: "Delete a reminder (history is kept)",
		Args:  cobra.ExactArgs(1),
		Run:   runRemindDelete,
	}

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Show reminder history",
		Run:   runRemindHistory,
	}
	historyCmd.Flags().IntP("limit", "l", 50, "Max rows")
	historyCmd.Flags().StringP("keyword", "k", "", "Filter by vague time keyword")

	prefCmd := &cobra.Command{
		Use:   "preference [keyword]",
		Short: "Show the learned timing for a vague keyword",
		Args:  cobra.ExactArgs(1),
		Run:   runRemindPreference,
	}

	habitsCmd := &cobra.Command{
		Use:   "habits",
		Short: "Analyze reminder habits",
		Run:   runRemindHabits,
	}

	tickCmd := &cobra.Command{
		Use:   "tick",
		Short: "Reconcile overdue reminders and fire anything due now",
		Run:   runRemindTick,
	}

	remindCmd.AddCommand(addCmd, listCmd, cancelCmd, rmCmd, historyCmd, prefCmd, habitsCmd, tickCmd)
	RootCmd.AddCommand(remindCmd)
}

func runRemindAdd(cmd *cobra.Command, args []string) {
	atStr, _ := cmd.Flags().GetString("at")
	inStr, _ := cmd.Flags().GetString("in")
	keyword, _ := cmd.Flags().GetString("keyword")
	repeat, _ := cmd.Flags().GetString("repeat")
	untilStr, _ := cmd.Flags().GetString("until")
	content := strings.Join(args, " ")

	params := engine.ReminderParams{
		Content:       content,
		VagueKeyword:  keyword,
		RepeatPattern: repeat,
	}
	switch {
	case atStr != "":
		at, err := time.Parse(time.RFC3339, atStr)
		if err != nil {
			exitErr("parse --at", err)
		}
		params.RemindAt = at
	case inStr != "":
		d, err := time.ParseDuration(inStr)
		if err != nil {
			exitErr("parse --in", err)
		}
		params.RemindAt = time.Now().Add(d)
	case keyword != "":
		// Resolved inside the engine.
	default:
		exitErr("remind add", fmt.Errorf("one of --at, --in or --keyword is required"))
	}
	if untilStr != "" {
		until, err := time.Parse(time.RFC3339, untilStr)
		if err != nil {
			exitErr("parse --until", err)
		}
		params.RepeatEndAt = &until
	}

	e, err := openEngine()
	if err != nil {
		exitErr("open engine", err)
	}
	defer e.Close()

	r, res, err := e.CreateReminder(cmd.Context(), params)
	if err != nil {
		exitErr("remind add", err)
	}

	out := struct {
		Reminder interface{} `json:"reminder"`
		Resolved interface{} `json:"resolved,omitempty"`
	}{Reminder: r, Resolved: res}
	b, _ := json.MarshalIndent(out, "", "  ")
	fmt.Println(string(b))
}

func runRemindList(cmd *cobra.Command, args []string) {
	status, _ := cmd.Flags().GetString("status")
	limit, _ := cmd.Flags().GetInt("limit")
	today, _ := cmd.Flags().GetBool("today")

	e, err := openEngine()
	if err != nil {
		exitErr("open engine", err)
	}
	defer e.Close()

	var reminders []model.Reminder
	if today {
		reminders, err = e.GetTodayReminders(cmd.Context())
	} else {
		reminders, err = e.GetReminders(cmd.Context(), store.ListRemindersParams{
			Status: status,
			Limit:  limit,
		})
	}
	if err != nil {
		exitErr("remind list", err)
	}

	if len(reminders) == 0 {
		fmt.Println("[]")
		return
	}

	if formatFlag == "text" {
		for _, r := range reminders {
			fmt.Printf("%s  %-9s %s  %s\n",
				r.ID, r.Status, r.RemindAt.Format("2006-01-02 15:04"), r.Content)
		}
		return
	}

	b, _ := json.MarshalIndent(reminders, "", "  ")
	fmt.Println(string(b))
}

func runRemindCancel(cmd *cobra.Command, args []string) {
	e, err := openEngine()
	if err != nil {
		exitErr("open engine", err)
	}
	defer e.Close()

	if err := e.CancelReminder(cmd.Context(), args[0]); err != nil {
		exitErr("remind cancel", err)
	}
	fmt.Println("cancelled")
}

func runRemindDelete(cmd *cobra.Command, args []string) {
	e, err := openEngine()
	if err != nil {
		exitErr("open engine", err)
	}
	defer e.Close()

	if err := e.DeleteReminder(cmd.Context(), args[0]); err != nil {
		exitErr("remind rm", err)
	}
	fmt.Println("deleted")
}

func runRemindHistory(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")
	keyword, _ := cmd.Flags().GetString("keyword")

	e, err := openEngine()
	if err != nil {
		exitErr("open engine", err)
	}
	defer e.Close()

	rows, err := e.GetReminderHistory(cmd.Context(), keyword, limit)
	if err != nil {
		exitErr("remind history", err)
	}
	if len(rows) == 0 {
		fmt.Println("[]")
		return
	}

	b, _ := json.MarshalIndent(rows, "", "  ")
	fmt.Println(string(b))
}

func runRemindPreference(cmd *cobra.Command, args []string) {
	e, err := openEngine()
	if err != nil {
		exitErr("open engine", err)
	}
	defer e.Close()

	pref := e.GetUserTimePreference(cmd.Context(), args[0])
	if pref == nil {
		fmt.Println("null")
		return
	}
	b, _ := json.MarshalIndent(pref, "", "  ")
	fmt.Println(string(b))
}

func runRemindHabits(cmd *cobra.Command, args []string) {
	e, err := openEngine()
	if err != nil {
		exitErr("open engine", err)
	}
	defer e.Close()

	report, err := e.AnalyzeUserHabits(cmd.Context())
	if err != nil {
		exitErr("remind habits", err)
	}
	b, _ := json.MarshalIndent(report, "", "  ")
	fmt.Println(string(b))
}

func runRemindTick(cmd *cobra.Command, args []string) {
	e, err := openEngine()
	if err != nil {
		exitErr("open engine", err)
	}
	defer e.Close()

	if err := e.ReconcileOverdue(cmd.Context()); err != nil {
		exitErr("reconcile", err)
	}
	e.Tick(cmd.Context())
	fmt.Println("ok")
}
