package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/False-Maker/memflow/internal/agent"
	"github.com/False-Maker/memflow/internal/config"
	"github.com/False-Maker/memflow/internal/llm"
	"github.com/False-Maker/memflow/internal/store"
)

func agentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Automation-proposal agent: propose, list, execute, cancel",
	}
	cmd.AddCommand(agentProposeCmd())
	cmd.AddCommand(agentListCmd())
	cmd.AddCommand(agentExecuteCmd())
	cmd.AddCommand(agentCancelCmd())
	return cmd
}

func agentProposeCmd() *cobra.Command {
	var windowHours, limit int
	cmd := &cobra.Command{
		Use:   "propose",
		Short: "Propose automations from recent activity (§4.10)",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := store.Open()
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer db.Close()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			var agentLLM agent.LLMClient
			if cfg.AI.Enabled {
				if client, err := llm.NewClient(); err == nil {
					if ctxClient, err := llm.NewCtxClient(client); err == nil {
						agentLLM = ctxClient
					}
				}
			}

			proposeCfg := agent.Config{
				SessionGapMinutes: int64(cfg.Agent.SessionGapMinutes),
				ContextMaxItems:   cfg.Agent.ContextMaxItems,
				CharsPerOCR:       cfg.Agent.CharsPerOCR,
				PromptTemplate:    agent.DefaultConfig().PromptTemplate,
				OwnBinaryName:     "memflow",
			}

			proposals, err := agent.Propose(context.Background(), db, agentLLM, proposeCfg, windowHours, limit)
			if err != nil {
				return fmt.Errorf("propose failed: %w", err)
			}
			for _, p := range proposals {
				fmt.Printf("#%d [%s, risk=%s, confidence=%.2f] %s\n", p.ID, p.RiskLevel, p.RiskLevel, p.Confidence, p.Title)
				for i, s := range p.Steps {
					fmt.Printf("  %d. %s\n", i+1, s.Type)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&windowHours, "hours", 24, "Time window to analyze (1-720)")
	cmd.Flags().IntVar(&limit, "limit", 5, "Maximum proposals to return (1-50)")
	return cmd
}

func agentListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent proposals",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := store.Open()
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer db.Close()

			proposals, err := db.ListProposals(limit)
			if err != nil {
				return err
			}
			for _, p := range proposals {
				fmt.Printf("#%d [%s] %s (%d steps)\n", p.ID, p.RiskLevel, p.Title, len(p.Steps))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum proposals to list")
	return cmd
}

func agentExecuteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "execute <proposal-id>",
		Short: "Execute a low-risk proposal (§4.10 Execute)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var proposalID int64
			if _, err := fmt.Sscanf(args[0], "%d", &proposalID); err != nil {
				return fmt.Errorf("invalid proposal id %q", args[0])
			}

			db, err := store.Open()
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer db.Close()

			host := newHeadlessHost(config.DataDir(), resourceDir(), zap.NewNop())
			notesSessionID, err := db.CreateChatSession("automation-notes")
			if err != nil {
				return err
			}
			registry := agent.DefaultRegistry(host, func(content string) error {
				_, err := db.AddChatMessage(notesSessionID, "note", content, nil)
				return err
			})

			execID, err := agent.Execute(context.Background(), db, registry, proposalID)
			if err != nil {
				return fmt.Errorf("execute: %w", err)
			}
			fmt.Printf("execution #%d started\n", execID)

			deadline := time.Now().Add(30 * time.Second)
			for time.Now().Before(deadline) {
				exec, err := db.GetExecution(execID)
				if err != nil {
					return err
				}
				if exec.Status != store.ExecRunning {
					fmt.Printf("execution #%d finished: status=%s\n", execID, exec.Status)
					if exec.Metadata != nil {
						fmt.Printf("  steps: %d/%d succeeded, duration=%.2fs\n",
							exec.Metadata.StepsSuccess, exec.Metadata.StepsTotal, exec.Metadata.DurationS)
					}
					return nil
				}
				time.Sleep(200 * time.Millisecond)
			}
			fmt.Printf("execution #%d still running; check `memflow agent list` later\n", execID)
			return nil
		},
	}
	return cmd
}

func agentCancelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <execution-id>",
		Short: "Cancel a running execution (observed at the next step boundary)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var execID int64
			if _, err := fmt.Sscanf(args[0], "%d", &execID); err != nil {
				return fmt.Errorf("invalid execution id %q", args[0])
			}
			agent.Cancel(execID)
			fmt.Printf("cancel requested for execution #%d\n", execID)
			return nil
		},
	}
	return cmd
}
