package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/draftforge/draftforge/internal/agent"
	"github.com/draftforge/draftforge/internal/config"
	"github.com/draftforge/draftforge/internal/event"
	"github.com/draftforge/draftforge/internal/gate"
	"github.com/draftforge/draftforge/internal/logging"
	"github.com/draftforge/draftforge/internal/pipeline"
	"github.com/draftforge/draftforge/internal/run"
	"github.com/draftforge/draftforge/internal/scheduler"
	"github.com/draftforge/draftforge/internal/store"
)

var (
	startDeriveFrom string
	startStartFrom  string
)

var startCmd = &cobra.Command{
	Use:   "start <topic>",
	Short: "Create a run and execute it in the foreground",
	Long: `Start creates a new run for the given topic, admits it to the scheduler,
and executes the pipeline in the foreground, printing step progress until
the run settles (done, error, or paused on a review gate).

With --derive-from the run is a partial rerun of an existing run: every
step before --start-from is carried over from the parent and the pipeline
resumes at --start-from.`,
	Args: cobra.ExactArgs(1),
	RunE: runStart,
}

var resumeCmd = &cobra.Command{
	Use:   "resume <run-id>",
	Short: "Resume a run paused on a review gate",
	Args:  cobra.ExactArgs(1),
	RunE:  runResume,
}

func init() {
	startCmd.Flags().StringVar(&startDeriveFrom, "derive-from", "", "parent run id for a partial rerun")
	startCmd.Flags().StringVar(&startStartFrom, "start-from", "", "step to resume from (requires --derive-from)")
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(resumeCmd)
}

// orchestrator bundles the full execution stack for foreground commands.
type orchestrator struct {
	cfg   *config.Config
	store *store.Store
	log   *logging.Logger
	gates *gate.Controller
	sched *scheduler.Scheduler
}

// openOrchestrator wires store, gate controller, agent executor, pipeline
// driver, and scheduler together, and arms the config watcher for the
// lifetime of the invocation.
func openOrchestrator() (*orchestrator, error) {
	cfg, st, log, err := openStore()
	if err != nil {
		return nil, err
	}
	watchConfig(log)

	ctrl := gate.NewController(st, log)
	exec, err := agent.NewProcessExecutor("", nil, log)
	if err != nil {
		log.Close()
		return nil, err
	}
	gateSteps := make(map[string]string, len(gate.IDs()))
	for _, id := range gate.IDs() {
		gateSteps[gate.ResumeStep(id)] = id
	}
	driver := pipeline.NewDriver(st, exec, ctrl, gateSteps,
		cfg.Agent.MaxTurns, cfg.Agent.CallTimeout(), log)
	sched := scheduler.New(st, driver.Run, cfg.Scheduler.Concurrency, ctrl, log)
	ctrl.SetScheduler(sched)

	return &orchestrator{cfg: cfg, store: st, log: log, gates: ctrl, sched: sched}, nil
}

func runStart(cmd *cobra.Command, args []string) error {
	o, err := openOrchestrator()
	if err != nil {
		return err
	}
	defer o.log.Close()

	var derived *run.DerivedFrom
	if startDeriveFrom != "" {
		if startStartFrom == "" {
			return fmt.Errorf("--derive-from requires --start-from")
		}
		derived = &run.DerivedFrom{RunID: startDeriveFrom, StartFrom: startStartFrom}
	} else if startStartFrom != "" {
		return fmt.Errorf("--start-from requires --derive-from")
	}

	r, err := o.store.CreateRun(args[0], nil, derived)
	if err != nil {
		return err
	}
	fmt.Printf("run %s created\n", headerStyle.Render(r.ID))

	return o.execute(r.ID, startStartFrom)
}

func runResume(cmd *cobra.Command, args []string) error {
	o, err := openOrchestrator()
	if err != nil {
		return err
	}
	defer o.log.Close()

	runID := args[0]
	r := o.store.GetRun(runID)
	if r == nil {
		return fmt.Errorf("run %q not found", runID)
	}
	if r.Status != run.StatusPaused || r.ActiveGate == nil {
		return fmt.Errorf("run %q is %s, not paused on a gate", runID, r.Status)
	}

	fmt.Printf("resuming %s from %s\n", headerStyle.Render(runID), r.ActiveGate.ResumeFrom)
	if !o.gates.Resume(runID) {
		return fmt.Errorf("run %q could not be re-admitted", runID)
	}
	return o.watch(runID)
}

// execute admits the run and blocks until it settles, cancelling
// cooperatively on SIGINT/SIGTERM.
func (o *orchestrator) execute(runID, startFrom string) error {
	if !o.sched.Enqueue(runID, startFrom) {
		return fmt.Errorf("run %q could not be admitted", runID)
	}
	return o.watch(runID)
}

// watch subscribes to the run's event stream, prints progress, and waits for
// settlement.
func (o *orchestrator) watch(runID string) error {
	unsub := o.store.Subscribe(runID, printEvent)
	if unsub != nil {
		defer unsub()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	done := make(chan struct{})
	go func() {
		o.sched.Wait()
		close(done)
	}()

	select {
	case <-sigCh:
		fmt.Println(dimStyle.Render("cancelling..."))
		o.sched.Cancel(runID)
		<-done
	case <-done:
	}

	r := o.store.GetRun(runID)
	if r == nil {
		return fmt.Errorf("run %q disappeared", runID)
	}
	switch r.Status {
	case run.StatusDone:
		fmt.Println(doneStyle.Render("run completed"))
		return nil
	case run.StatusPaused:
		fmt.Printf("%s\n  draftforge decide %s %s <approve|request_changes>\n",
			pausedStyle.Render("run paused for review"), runID, r.ActiveGate.GateID)
		return nil
	default:
		return fmt.Errorf("run failed: %s", lastStepError(r))
	}
}

// printEvent renders one bus event for the terminal.
func printEvent(eventType event.Type, payload any) {
	switch p := payload.(type) {
	case event.StepPayload:
		if eventType == event.TypeStepStarted {
			fmt.Printf("  %s %s\n", activeStyle.Render("▸"), p.Step)
		} else if p.Error != "" {
			fmt.Printf("  %s %s: %s\n", errorStyle.Render("✗"), p.Step, p.Error)
		} else {
			fmt.Printf("  %s %s\n", doneStyle.Render("✓"), p.Step)
		}
	case event.ArtifactPayload:
		fmt.Println(dimStyle.Render(fmt.Sprintf("    wrote %s", p.Name)))
	case event.GatePayload:
		if eventType == event.TypeGateRequired {
			fmt.Printf("  %s gate %s\n", pausedStyle.Render("⏸"), p.GateID)
		}
	}
}

// lastStepError returns the most advanced step error, falling back to a
// generic message.
func lastStepError(r *run.Run) string {
	for i := len(run.StepOrder) - 1; i >= 0; i-- {
		if rec := r.Steps[run.StepOrder[i]]; rec != nil && rec.Error != "" {
			return fmt.Sprintf("%s: %s", run.StepOrder[i], rec.Error)
		}
	}
	return "no step error recorded (cancelled?)"
}
