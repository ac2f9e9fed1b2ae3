package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/draftforge/draftforge/internal/agent"
	"github.com/draftforge/draftforge/internal/config"
)

// agentCallCmd is the hidden child entry point spawned by the process
// executor: one JSON request on stdin, one tagged JSON response on stdout,
// then exit. It must never print anything else to stdout.
var agentCallCmd = &cobra.Command{
	Use:    agent.ChildArg,
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE:   runAgentCall,
}

func init() {
	rootCmd.AddCommand(agentCallCmd)
}

func runAgentCall(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	invoke := agent.CommandInvoker(cfg.Agent.Command, cfg.Agent.Args)
	return agent.ServeChild(os.Stdin, os.Stdout, invoke)
}
