// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/jeranaias/gradchat/internal/config"
)

// =============================================================================
// DOCTOR STYLES
// =============================================================================

var (
	checkPassStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("82")).
			Bold(true)

	checkWarnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("220")).
			Bold(true)

	checkFailStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	fixStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Italic(true).
			PaddingLeft(2)
)

// =============================================================================
// HEALTH CHECK TYPES
// =============================================================================

// CheckStatus represents the status of a health check.
type CheckStatus int

const (
	// CheckPass indicates the check passed successfully.
	CheckPass CheckStatus = iota
	// CheckWarn indicates the check passed with warnings.
	CheckWarn
	// CheckFail indicates the check failed.
	CheckFail
)

// String returns the lower-case name used in JSON output.
func (s CheckStatus) String() string {
	switch s {
	case CheckPass:
		return "pass"
	case CheckWarn:
		return "warn"
	case CheckFail:
		return "fail"
	default:
		return "unknown"
	}
}

// Symbol returns the styled marker for the check status.
func (s CheckStatus) Symbol() string {
	switch s {
	case CheckPass:
		return checkPassStyle.Render("[OK]")
	case CheckWarn:
		return checkWarnStyle.Render("[!!]")
	case CheckFail:
		return checkFailStyle.Render("[FAIL]")
	default:
		return "?"
	}
}

// HealthCheck represents a single health check result.
type HealthCheck struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // Suggested fix
}

// Render returns a formatted string representation of the health check.
func (c *HealthCheck) Render() string {
	result := fmt.Sprintf("%s %s", c.Status.Symbol(), c.Message)
	if c.Status != CheckPass && c.Fix != "" {
		result += "\n" + fixStyle.Render("-> "+c.Fix)
	}
	return result
}

// DoctorCheck is one check in `doctor --json`.
type DoctorCheck struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Fix     string `json:"fix,omitempty"`
}

// DoctorSummary counts the check results.
type DoctorSummary struct {
	Passed  int  `json:"passed"`
	Warned  int  `json:"warned"`
	Failed  int  `json:"failed"`
	Healthy bool `json:"healthy"`
}

// DoctorData is the data of `doctor --json`.
type DoctorData struct {
	Checks  []DoctorCheck `json:"checks"`
	Summary DoctorSummary `json:"summary"`
}

// =============================================================================
// DOCTOR COMMAND
// =============================================================================

func newDoctorCommand(a *app) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:     "doctor",
		Aliases: []string{"diag"},
		Short:   "Check configuration, local storage and service reachability",
		Long: `Run health checks:

  config      the configuration file loads and validates
  directory   the config directory is writable
  run logs    the run log directory is writable
  sessions    the session archive opens
  service     the chat service answers the model list
  model       the configured model is offered

Exits non-zero when any check fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			checks := a.runAllChecks(cmd.Context())
			return a.reportChecks(checks, jsonOut)
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the results as JSON")
	return cmd
}

func (a *app) reportChecks(checks []*HealthCheck, jsonOut bool) error {
	var summary DoctorSummary
	for _, check := range checks {
		switch check.Status {
		case CheckPass:
			summary.Passed++
		case CheckWarn:
			summary.Warned++
		case CheckFail:
			summary.Failed++
		}
	}
	summary.Healthy = summary.Failed == 0

	var err error
	if summary.Failed > 0 {
		err = fmt.Errorf("%d health check(s) failed", summary.Failed)
	}

	if jsonOut {
		data := DoctorData{Checks: make([]DoctorCheck, 0, len(checks)), Summary: summary}
		for _, check := range checks {
			data.Checks = append(data.Checks, DoctorCheck{
				Name:    check.Name,
				Status:  check.Status.String(),
				Message: check.Message,
				Fix:     check.Fix,
			})
		}
		resp := NewJSONResponse("doctor", data)
		if err != nil {
			msg := err.Error()
			resp.Success = false
			resp.Error = &msg
		}
		if printErr := resp.Print(a.stdout); printErr != nil {
			return printErr
		}
		return err
	}

	fmt.Fprintln(a.stdout, TitleStyle.Render("gradchat doctor"))
	fmt.Fprintln(a.stdout, RenderSeparator(41))
	for _, check := range checks {
		fmt.Fprintln(a.stdout, check.Render())
	}
	fmt.Fprintln(a.stdout, RenderSeparator(41))

	parts := []string{fmt.Sprintf("%d passed", summary.Passed)}
	if summary.Warned > 0 {
		parts = append(parts, checkWarnStyle.Render(fmt.Sprintf("%d warning", summary.Warned)))
	}
	if summary.Failed > 0 {
		parts = append(parts, checkFailStyle.Render(fmt.Sprintf("%d failed", summary.Failed)))
	}
	fmt.Fprintln(a.stdout, DimStyle.Render(strings.Join(parts, ", ")))
	return err
}

// =============================================================================
// HEALTH CHECK FUNCTIONS
// =============================================================================

func (a *app) runAllChecks(ctx context.Context) []*HealthCheck {
	models := a.newTransport(a.cfg, a.logger).ListModels(ctx)
	return []*HealthCheck{
		a.checkConfigValid(),
		checkDirWritable("Config Directory", config.ConfigDir()),
		a.checkRunLogs(),
		a.checkSessionArchive(ctx),
		a.checkService(models),
		a.checkModelOffered(models),
	}
}

func (a *app) checkConfigValid() *HealthCheck {
	check := &HealthCheck{Name: "Config Valid"}

	path := a.activeConfigFile()
	if path == "" {
		check.Status = CheckPass
		check.Message = "Config valid (using defaults)"
		return check
	}

	if _, err := config.LoadFromPath(path); err != nil {
		check.Status = CheckFail
		check.Message = fmt.Sprintf("Config invalid: %s", err)
		check.Fix = "Run: gradchat config init --force"
		return check
	}

	check.Status = CheckPass
	check.Message = "Config valid (" + path + ")"
	return check
}

// checkDirWritable creates dir if needed and writes a probe file into it.
func checkDirWritable(name, dir string) *HealthCheck {
	check := &HealthCheck{Name: name}

	if err := os.MkdirAll(dir, 0700); err != nil {
		check.Status = CheckFail
		check.Message = fmt.Sprintf("Could not create %s: %s", dir, err)
		check.Fix = fmt.Sprintf("Create manually: mkdir -p %s", dir)
		return check
	}

	probe := filepath.Join(dir, ".write_test")
	if err := os.WriteFile(probe, []byte("test"), 0600); err != nil {
		check.Status = CheckFail
		check.Message = fmt.Sprintf("%s not writable: %s", dir, err)
		check.Fix = fmt.Sprintf("Check permissions: chmod 700 %s", dir)
		return check
	}
	os.Remove(probe)

	check.Status = CheckPass
	check.Message = name + " writable (" + dir + ")"
	return check
}

func (a *app) checkRunLogs() *HealthCheck {
	if !a.cfg.Log.RunLogs {
		return &HealthCheck{
			Name:    "Run Logs",
			Status:  CheckWarn,
			Message: "Run logs disabled",
			Fix:     "Run: gradchat config set log.run_logs true",
		}
	}
	return checkDirWritable("Run Logs", a.cfg.Log.Dir)
}

func (a *app) checkSessionArchive(ctx context.Context) *HealthCheck {
	check := &HealthCheck{Name: "Session Archive"}

	store, err := a.openStore()
	if err != nil {
		check.Status = CheckFail
		check.Message = fmt.Sprintf("Could not open %s: %s", a.cfg.Storage.Path, err)
		check.Fix = "Check storage.path or move the damaged file aside"
		return check
	}
	defer store.Close()

	version, err := store.Version(ctx)
	if err != nil {
		check.Status = CheckFail
		check.Message = fmt.Sprintf("Could not read schema version: %s", err)
		return check
	}
	sessions, err := store.List(ctx)
	if err != nil {
		check.Status = CheckFail
		check.Message = fmt.Sprintf("Could not list sessions: %s", err)
		return check
	}

	check.Status = CheckPass
	check.Message = fmt.Sprintf("Session archive ready (schema v%d, %d sessions)", version, len(sessions))
	return check
}

func (a *app) checkService(models []string) *HealthCheck {
	check := &HealthCheck{Name: "Service Reachable"}
	if len(models) == 0 {
		check.Status = CheckFail
		check.Message = "No model list from " + a.cfg.API.BaseURL
		check.Fix = "Check api.base_url and network access"
		return check
	}
	check.Status = CheckPass
	check.Message = fmt.Sprintf("Service reachable (%d models)", len(models))
	return check
}

func (a *app) checkModelOffered(models []string) *HealthCheck {
	check := &HealthCheck{Name: "Model Offered"}
	name := a.cfg.Generation.Model
	switch {
	case len(models) == 0:
		check.Status = CheckWarn
		check.Message = "Could not confirm model " + name
	case slices.Contains(models, name):
		check.Status = CheckPass
		check.Message = "Model " + name + " offered"
	default:
		check.Status = CheckWarn
		check.Message = "Model " + name + " not in the model list"
		check.Fix = "Run: gradchat models"
	}
	return check
}
