package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/chainsched/chainsched/internal/api"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	statusStyles = map[string]lipgloss.Style{
		"pending":   lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		"queued":    lipgloss.NewStyle().Foreground(lipgloss.Color("220")),
		"running":   lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		"succeeded": lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		"failed":    lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		"cancelled": lipgloss.NewStyle().Foreground(lipgloss.Color("208")),
	}
)

func newSubmitCmd() *cobra.Command {
	var (
		id          string
		protocol    string
		action      string
		paramsJSON  string
		priority    int
		dependsOn   []string
		gated       bool
		maxAttempts int
	)
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := api.TaskRequest{
				ID:            id,
				Protocol:      protocol,
				Action:        action,
				Priority:      priority,
				DependsOn:     dependsOn,
				GateSensitive: gated,
				MaxAttempts:   maxAttempts,
			}
			if paramsJSON != "" {
				if err := json.Unmarshal([]byte(paramsJSON), &req.Params); err != nil {
					return fmt.Errorf("parsing --params: %w", err)
				}
			}
			var resp map[string]string
			if err := call(cmd, http.MethodPost, "/tasks", req, &resp); err != nil {
				return err
			}
			fmt.Println(resp["id"])
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "task id (assigned if empty)")
	cmd.Flags().StringVar(&protocol, "protocol", "", "protocol name")
	cmd.Flags().StringVar(&action, "action", "", "action, e.g. bridge or swap")
	cmd.Flags().StringVar(&paramsJSON, "params", "", "opaque params as JSON")
	cmd.Flags().IntVar(&priority, "priority", 0, "higher dispatches first")
	cmd.Flags().StringSliceVar(&dependsOn, "depends-on", nil, "task ids that must succeed first")
	cmd.Flags().BoolVar(&gated, "gate-sensitive", false, "hold while the gate is closed")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "override retry budget")
	_ = cmd.MarkFlagRequired("protocol")
	_ = cmd.MarkFlagRequired("action")
	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <task-id>",
		Short: "Show one task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var task api.TaskResponse
			if err := call(cmd, http.MethodGet, "/tasks/"+args[0], nil, &task); err != nil {
				return err
			}
			printTask(task)
			return nil
		},
	}
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show all tracked tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			var tasks []api.TaskResponse
			if err := call(cmd, http.MethodGet, "/tasks", nil, &tasks); err != nil {
				return err
			}
			sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
			fmt.Println(headerStyle.Render(fmt.Sprintf("%-36s  %-12s  %-8s  %-10s  %s",
				"ID", "PROTOCOL", "ACTION", "STATUS", "ATTEMPTS")))
			for _, t := range tasks {
				fmt.Printf("%-36s  %-12s  %-8s  %-10s  %d/%d\n",
					t.ID, t.Protocol, t.Action,
					renderStatus(t.Status), t.Attempts, t.MaxAttempts)
			}
			return nil
		},
	}
}

func newCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <task-id>",
		Short: "Cancel a task and its dependents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, http.MethodDelete, "/tasks/"+args[0], nil, nil)
		},
	}
}

func newDrainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Stop intake and wait for in-flight tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, http.MethodPost, "/drain", nil, nil)
		},
	}
}

func printTask(t api.TaskResponse) {
	row := func(label, value string) {
		if value != "" {
			fmt.Printf("%s %s\n", labelStyle.Render(label+":"), value)
		}
	}
	row("id", t.ID)
	row("protocol", t.Protocol)
	row("action", t.Action)
	row("status", renderStatus(t.Status))
	row("priority", fmt.Sprintf("%d", t.Priority))
	row("attempts", fmt.Sprintf("%d/%d", t.Attempts, t.MaxAttempts))
	row("depends_on", strings.Join(t.DependsOn, ", "))
	if t.LastError != "" {
		row("last_error", errorStyle.Render(t.LastError))
	}
	row("output", t.Output)
	if t.NextRetryAt != nil {
		row("next_retry_at", t.NextRetryAt.Format(time.RFC3339))
	}
	if t.FinishedAt != nil {
		row("finished_at", t.FinishedAt.Format(time.RFC3339))
	}
}

func renderStatus(status string) string {
	if style, ok := statusStyles[status]; ok {
		return style.Render(status)
	}
	return status
}

// call performs one request against the scheduler API.
func call(cmd *cobra.Command, method, path string, body, out any) error {
	server, _ := cmd.Flags().GetString("server")

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, strings.TrimRight(server, "/")+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr map[string]string
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr["error"] != "" {
			return fmt.Errorf("%s (%d)", apiErr["error"], resp.StatusCode)
		}
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
