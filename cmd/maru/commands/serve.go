// Package commands – serve.go starts the assistant daemon: Telegram channel,
// agent, scheduler and background workers, all wired together.
package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/marubot/maru/pkg/maru/agent"
	"github.com/marubot/maru/pkg/maru/channels/telegram"
	"github.com/marubot/maru/pkg/maru/external"
	"github.com/marubot/maru/pkg/maru/memory"
	"github.com/marubot/maru/pkg/maru/sandbox"
	"github.com/marubot/maru/pkg/maru/scheduler"
	"github.com/marubot/maru/pkg/maru/security"
)

// newServeCmd creates the `maru serve` command.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the assistant daemon",
		Long: `Start Maru as a daemon: connects to Telegram, restores sessions and
scheduled jobs, and runs until interrupted.

Examples:
  maru serve
  maru serve --config ./config.yaml -v`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cmd, cfg)

	resolveSecrets(&cfg.API.APIKey, &cfg.Telegram.Token)
	if cfg.Telegram.Token == "" {
		return fmt.Errorf("no Telegram token. Run 'maru config set-token' or set MARU_TELEGRAM_TOKEN")
	}
	if len(cfg.Access.AllowedChats) == 0 {
		return fmt.Errorf("no allowed chats configured; set access.allowed_chats or MARU_ALLOWED_CHATS")
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---------- Core Services ----------

	llm := agent.NewLLMClient(cfg, logger)

	persister, err := agent.NewSessionPersister(cfg.DataDir)
	if err != nil {
		return err
	}
	sessions := agent.NewSessionStore(persister, logger)
	compactor := agent.NewCompactor(llm, sessions, logger)

	memStore, err := memory.NewFileStore(cfg.DataDir)
	if err != nil {
		return err
	}
	var memIndex *memory.Index
	if cfg.Memory.Enabled {
		var embedder memory.Embedder
		if cfg.API.APIKey != "" {
			embedder = memory.NewOpenAIEmbedder(cfg.API.BaseURL, cfg.API.APIKey, cfg.API.EmbeddingModel)
		}
		memIndex, err = memory.OpenIndex(memStore, embedder, logger)
		if err != nil {
			logger.Warn("memory index unavailable, falling back to keyword search", "error", err)
		} else {
			defer memIndex.Close()
		}
	}

	policy := sandbox.NewPathPolicy(cfg.Sandbox.AllowedPaths)
	runner := sandbox.NewRunner(policy, cfg.Sandbox.PermissiveShell, logger)
	guard := security.NewSSRFGuard(logger)
	fetcher := external.NewFetcher(guard)
	weather := external.NewWeatherClient()
	search := external.NewSearchClient(cfg.WebSearch.BraveAPIKey, cfg.WebSearch.MaxResults)
	calendar, err := external.NewFileCalendar(filepath.Join(cfg.DataDir, "calendar.json"))
	if err != nil {
		return err
	}

	// ---------- Channel ----------

	channel := telegram.New(telegram.Config{
		Token:              cfg.Telegram.Token,
		PollTimeoutSeconds: cfg.Telegram.PollTimeoutSeconds,
	}, logger)

	// The assistant and agent are created below; the scheduler and workers
	// reach them through these closures.
	var (
		ag        *agent.Agent
		assistant *agent.Assistant
	)
	send := func(ctx context.Context, chatID int64, text string) error {
		return assistant.Send(ctx, chatID, text)
	}

	// ---------- Scheduler ----------

	jobStore, err := scheduler.NewFileJobStorage(filepath.Join(cfg.DataDir, "cron", "jobs.json"))
	if err != nil {
		return err
	}
	reminderStore, err := scheduler.NewFileReminderStorage(filepath.Join(cfg.DataDir, "reminders.json"))
	if err != nil {
		return err
	}

	jobHandler := func(ctx context.Context, job *scheduler.Job) error {
		switch job.Kind {
		case scheduler.PayloadAgentTurn:
			reply, err := ag.RunSystemTurn(ctx, job.ChatID, "scheduled task: "+job.Name, job.Command, job.Context)
			if err != nil {
				return err
			}
			if reply != "" {
				return send(ctx, job.ChatID, reply)
			}
			return nil
		case scheduler.PayloadSystemEvent:
			// Canned text straight to the channel; no model call.
			return send(ctx, job.ChatID, scheduler.EventMessage(job.EventType, job.Context))
		}
		return fmt.Errorf("unknown payload kind %q", job.Kind)
	}
	reminderHandler := func(ctx context.Context, r *scheduler.Reminder) {
		if err := send(ctx, r.ChatID, "⏰ "+r.Text); err != nil {
			logger.Warn("reminder delivery failed", "reminder_id", r.ID, "error", err)
		}
	}

	sched := scheduler.New(jobStore, reminderStore, jobHandler, reminderHandler, logger)

	// ---------- Workers ----------

	heartbeat := agent.NewHeartbeatWorker(llm, send, cfg, logger)
	briefing := agent.NewBriefingWorker(llm, send, weather, calendar, sched, cfg, logger)

	// ---------- Tools & Agent ----------

	executor := agent.NewToolExecutor(logger)
	agent.RegisterSystemTools(executor, policy, runner, sessions, llm)
	agent.RegisterWebTools(executor, weather, search, fetcher)
	agent.RegisterMemoryTools(executor, memStore, memIndex, cfg.DataDir, cfg.Memory.MaxResults)
	agent.RegisterScheduleTools(executor, sched, calendar, cfg.Timezone)

	subAgents := agent.NewSubAgentManager(ctx, llm, executor, send, logger)
	agent.RegisterBackgroundTools(executor, heartbeat, briefing, subAgents)

	ag = agent.NewAgent(cfg, llm, sessions, executor, compactor, memIndex, logger)
	assistant = agent.NewAssistant(cfg, channel, ag, fetcher, logger)

	// ---------- Start ----------

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	defer sched.Stop()
	heartbeat.Start(ctx)
	defer heartbeat.Stop()
	briefing.Start(ctx)
	defer briefing.Stop()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		logger.Info("shutdown signal received, stopping...")
		cancel()
	}()

	// Reap finished shell sessions in the background.
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				runner.Reap()
			}
		}
	}()

	logger.Info("Maru running. Press Ctrl+C to stop.",
		"name", cfg.Name,
		"model", cfg.Model,
		"timezone", cfg.Timezone,
	)
	return assistant.Run(ctx)
}
