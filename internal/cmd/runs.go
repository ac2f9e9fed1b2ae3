package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/draftforge/draftforge/internal/run"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List runs, newest first",
	RunE:  runRuns,
}

func init() {
	rootCmd.AddCommand(runsCmd)
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	doneStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	pausedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	activeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	dimStyle    = lipgloss.NewStyle().Faint(true)
)

func runRuns(cmd *cobra.Command, args []string) error {
	_, st, log, err := openStore()
	if err != nil {
		return err
	}
	defer log.Close()

	runs := st.ListRuns()
	if len(runs) == 0 {
		fmt.Println(dimStyle.Render("no runs"))
		return nil
	}

	topicWidth := 40
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 80 {
		topicWidth = w - 60
	}

	fmt.Println(headerStyle.Render(fmt.Sprintf("%-18s %-8s %-20s %-10s %s",
		"RUN", "STATUS", "STARTED", "PROGRESS", "TOPIC")))
	for _, r := range runs {
		fmt.Printf("%-18s %s %-20s %-10s %s\n",
			r.ID,
			statusStyle(r.Status).Render(fmt.Sprintf("%-8s", r.Status)),
			r.StartedAt.Format(time.DateTime),
			progress(r),
			truncate(r.Topic, topicWidth),
		)
		if r.ActiveGate != nil {
			fmt.Println(dimStyle.Render(fmt.Sprintf("  awaiting %s (resume from %s)",
				r.ActiveGate.GateID, r.ActiveGate.ResumeFrom)))
		}
	}
	return nil
}

func statusStyle(s run.Status) lipgloss.Style {
	switch s {
	case run.StatusDone:
		return doneStyle
	case run.StatusError:
		return errorStyle
	case run.StatusPaused:
		return pausedStyle
	default:
		return activeStyle
	}
}

// progress renders completed step count over the fixed step total.
func progress(r *run.Run) string {
	done := 0
	for _, name := range run.StepOrder {
		if rec, ok := r.Steps[name]; ok && rec.Status == run.StepDone {
			done++
		}
	}
	return fmt.Sprintf("%d/%d", done, len(run.StepOrder))
}

func truncate(s string, n int) string {
	if n < 4 || len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
