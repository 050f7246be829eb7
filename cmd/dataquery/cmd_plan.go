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
	"fmt"

	"github.com/spf13/cobra"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Validate and execute analysis plans",
}

// planValidateCmd checks a stored plan's analysis columns against the
// joined schema of its constituent queries. Every missing column is
// reported at once.
var planValidateCmd = &cobra.Command{
	Use:   "validate <plan_id>",
	Short: "Validate a plan's analysis columns against its joined schema",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlanValidateCommand,
}

var planExecuteCmd = &cobra.Command{
	Use:   "execute <plan_id>",
	Short: "Execute every constituent query, join the results and run the analyses",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlanExecuteCommand,
}

func init() {
	planCmd.AddCommand(planValidateCmd)
	planCmd.AddCommand(planExecuteCmd)
}

func runPlanValidateCommand(cmd *cobra.Command, args []string) error {
	eng, _, cleanup, err := buildEngine()
	if err != nil {
		return err
	}
	defer cleanup()

	result, err := eng.ValidatePlanByID(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if err := printJSON(result); err != nil {
		return err
	}
	if !result.Valid {
		return fmt.Errorf("plan %q is invalid", args[0])
	}
	return nil
}

func runPlanExecuteCommand(cmd *cobra.Command, args []string) error {
	eng, _, cleanup, err := buildEngine()
	if err != nil {
		return err
	}
	defer cleanup()

	execution, err := eng.ExecutePlanByID(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if err := printJSON(execution); err != nil {
		return err
	}
	if !execution.Success {
		return fmt.Errorf("plan %q failed", args[0])
	}
	return nil
}
