package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/draftforge/draftforge/internal/gate"
	"github.com/draftforge/draftforge/internal/run"
)

var decideChanges string

var decideCmd = &cobra.Command{
	Use:   "decide <run-id> <gate-id> <approve|request_changes>",
	Short: "Record a review decision for a paused run",
	Long: `Decide records a reviewer's decision on one of the fixed review gates
(` + strings.Join(gate.IDs(), ", ") + `). Recording a decision does not
restart the run; use "draftforge resume" afterwards.`,
	Args: cobra.ExactArgs(3),
	RunE: runDecide,
}

func init() {
	decideCmd.Flags().StringVar(&decideChanges, "changes", "", "requested changes (for request_changes)")
	rootCmd.AddCommand(decideCmd)
}

func runDecide(cmd *cobra.Command, args []string) error {
	runID, gateID, status := args[0], args[1], args[2]

	_, st, log, err := openStore()
	if err != nil {
		return err
	}
	defer log.Close()

	ctrl := gate.NewController(st, log)
	err = ctrl.AppendDecision(runID, run.GateDecision{
		GateID:           gateID,
		Status:           run.DecisionStatus(status),
		RequestedChanges: decideChanges,
	})
	if err != nil {
		return err
	}

	fmt.Printf("%s %s on %s\n", doneStyle.Render("recorded"), status, gateID)
	if r := st.GetRun(runID); r != nil && r.Status == run.StatusPaused {
		fmt.Println(dimStyle.Render("run is paused; resume with: draftforge resume " + runID))
	}
	return nil
}
