// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"github.com/AleutianAI/AleutianHomeostat/pkg/ux"
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	plainOutput     bool
	intentPriority  int
	intentNote      string
	archiveLimit    int
	zooidState      string
	zooidNiche      string
	eventsLimit     int
	overrideSeconds float64
	actorName       string
	actionReason    string
	auditDirFlag    string

	rootCmd = &cobra.Command{
		Use:   "homeostatctl",
		Short: "A cli to inspect and steer a running AleutianHomeostat service",
		Long: `Homeostatctl talks to a homeostat service over its HTTP API. It
enqueues intents, inspects the queue and the zooid population, manages
the disruption budget and restore breakers, and reads the audit trail.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Pick the output mode from the flag or the environment
			if plainOutput {
				ux.SetMode(ux.ModePlain)
			} else {
				ux.InitMode()
			}
		},
	}

	// --- Status / Tick ---
	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show queue depth, budget, window, population, and breakers",
		Run:   runStatus, // Defined in cmd_status.go
	}
	tickCmd = &cobra.Command{
		Use:   "tick",
		Short: "Run one control-loop tick now instead of waiting for the schedule",
		Run:   runTick, // Defined in cmd_status.go
	}

	// --- Intents ---
	intentsCmd = &cobra.Command{
		Use:   "intents",
		Short: "Manage the durable intent queue",
	}
	addIntentCmd = &cobra.Command{
		Use:   "add [type] [subsystem] [metric=value...]",
		Short: "Enqueue an intent (trigger_tuning, trigger_lifecycle, trigger_tournament)",
		Args:  cobra.MinimumNArgs(2),
		Run:   runAddIntent, // Defined in cmd_intents.go
	}
	listIntentsCmd = &cobra.Command{
		Use:   "list",
		Short: "List pending intents in dispatch order",
		Run:   runListIntents, // Defined in cmd_intents.go
	}
	archiveIntentsCmd = &cobra.Command{
		Use:   "archive",
		Short: "List recently archived intents, newest first",
		Run:   runListArchive, // Defined in cmd_intents.go
	}

	// --- Budget ---
	budgetCmd = &cobra.Command{
		Use:   "budget",
		Short: "Inspect and credit the daily disruption budget",
	}
	showBudgetCmd = &cobra.Command{
		Use:   "show [YYYY-MM-DD]",
		Short: "Show a day's disruption budget (default: today)",
		Args:  cobra.MaximumNArgs(1),
		Run:   runShowBudget, // Defined in cmd_budget.go
	}
	overrideBudgetCmd = &cobra.Command{
		Use:   "override",
		Short: "Credit seconds back to today's budget (audited)",
		Run:   runOverrideBudget, // Defined in cmd_budget.go
	}

	// --- Zooids ---
	zooidsCmd = &cobra.Command{
		Use:   "zooids",
		Short: "Inspect and extend the zooid population",
	}
	listZooidsCmd = &cobra.Command{
		Use:   "list",
		Short: "List zooids, optionally filtered by lifecycle state",
		Run:   runListZooids, // Defined in cmd_zooids.go
	}
	spawnZooidCmd = &cobra.Command{
		Use:   "spawn [param=value...]",
		Short: "Spawn a DORMANT zooid with the given genome",
		Run:   runSpawnZooid, // Defined in cmd_zooids.go
	}

	// --- Breakers ---
	breakerCmd = &cobra.Command{
		Use:   "breaker",
		Short: "Inspect and clear restore breakers",
	}
	showBreakerCmd = &cobra.Command{
		Use:   "show [subsystem]",
		Short: "Show a subsystem's restore breaker",
		Args:  cobra.ExactArgs(1),
		Run:   runShowBreaker, // Defined in cmd_breaker.go
	}
	clearBreakerCmd = &cobra.Command{
		Use:   "clear [subsystem]",
		Short: "Unlatch a subsystem's restore breaker (audited)",
		Args:  cobra.ExactArgs(1),
		Run:   runClearBreaker, // Defined in cmd_breaker.go
	}

	// --- Audit Trail ---
	auditCmd = &cobra.Command{
		Use:   "audit",
		Short: "Read and verify the audit trail",
	}
	tailEventsCmd = &cobra.Command{
		Use:   "tail",
		Short: "Show the newest audit records",
		Run:   runTailEvents, // Defined in cmd_audit.go
	}
	followEventsCmd = &cobra.Command{
		Use:   "follow",
		Short: "Stream audit records live over WebSocket",
		Run:   runFollowEvents, // Defined in cmd_audit.go
	}
	verifyAuditCmd = &cobra.Command{
		Use:   "verify",
		Short: "Verify the hash chain across local audit segments",
		Run:   runVerifyAudit, // Defined in cmd_audit.go
	}
)

func init() {
	rootCmd.PersistentFlags().BoolVar(&plainOutput, "plain", false,
		"Plain text output for scripting (also via HOMEOSTAT_PLAIN or NO_COLOR)")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(tickCmd)

	rootCmd.AddCommand(intentsCmd)
	intentsCmd.AddCommand(addIntentCmd)
	addIntentCmd.Flags().IntVar(&intentPriority, "priority", 50,
		"Scheduling priority (0-100, higher dispatches first)")
	addIntentCmd.Flags().StringVar(&intentNote, "note", "",
		"Free-form operator note recorded with the intent")
	intentsCmd.AddCommand(listIntentsCmd)
	intentsCmd.AddCommand(archiveIntentsCmd)
	archiveIntentsCmd.Flags().IntVar(&archiveLimit, "n", 20,
		"Number of archived intents to show")

	rootCmd.AddCommand(budgetCmd)
	budgetCmd.AddCommand(showBudgetCmd)
	budgetCmd.AddCommand(overrideBudgetCmd)
	overrideBudgetCmd.Flags().Float64Var(&overrideSeconds, "seconds", 0,
		"Seconds to credit back (required)")
	overrideBudgetCmd.Flags().StringVar(&actorName, "actor", "",
		"Operator identity for the audit record (required)")
	overrideBudgetCmd.Flags().StringVar(&actionReason, "reason", "",
		"Why the credit is justified (required)")

	rootCmd.AddCommand(zooidsCmd)
	zooidsCmd.AddCommand(listZooidsCmd)
	listZooidsCmd.Flags().StringVar(&zooidState, "state", "",
		"Filter by lifecycle state (DORMANT, PROBATION, ACTIVE, RETIRED)")
	zooidsCmd.AddCommand(spawnZooidCmd)
	spawnZooidCmd.Flags().StringVar(&zooidNiche, "niche", "",
		"Subsystem niche for the new zooid (required)")

	rootCmd.AddCommand(breakerCmd)
	breakerCmd.AddCommand(showBreakerCmd)
	breakerCmd.AddCommand(clearBreakerCmd)
	clearBreakerCmd.Flags().StringVar(&actorName, "actor", "",
		"Operator identity for the audit record (required)")
	clearBreakerCmd.Flags().StringVar(&actionReason, "reason", "",
		"Why the breaker is safe to clear (required)")

	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(tailEventsCmd)
	tailEventsCmd.Flags().IntVar(&eventsLimit, "n", 20,
		"Number of records to show")
	auditCmd.AddCommand(followEventsCmd)
	auditCmd.AddCommand(verifyAuditCmd)
	verifyAuditCmd.Flags().StringVar(&auditDirFlag, "dir", "~/.homeostat/audit",
		"Audit directory to verify")
}
