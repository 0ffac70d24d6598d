package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Relaydeck/Relaydeck/internal/approval"
	"github.com/Relaydeck/Relaydeck/internal/audit"
	"github.com/Relaydeck/Relaydeck/internal/bus"
	"github.com/Relaydeck/Relaydeck/internal/channels"
	"github.com/Relaydeck/Relaydeck/internal/config"
	"github.com/Relaydeck/Relaydeck/internal/draft"
	"github.com/Relaydeck/Relaydeck/internal/policy"
	"github.com/Relaydeck/Relaydeck/internal/relay"
	"github.com/Relaydeck/Relaydeck/internal/store"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the relay (ingestion, drafting, approval, delivery)",
	Run:   runService,
}

var runSignalNotify = signal.Notify
var runSignalStop = signal.Stop

func runService(cmd *cobra.Command, args []string) {
	printHeader("📡 Relaydeck")
	fmt.Println("Starting Relaydeck...")

	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Config error: %v\n", err)
		os.Exit(1)
	}
	if err := config.EnsureDir(cfg.Paths.DataDir); err != nil {
		fmt.Printf("Data dir error: %v\n", err)
		os.Exit(1)
	}

	// 2. Open the conversation store
	st, err := store.Open(cfg.Paths.StorePath)
	if err != nil {
		fmt.Printf("Store error: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	// 3. Audit trail: the store table is always written, the JSONL file
	// rides along, Kafka joins in when brokers are configured
	sinks := []audit.Sink{audit.NewStoreSink(st)}
	if cfg.Audit.FilePath != "" {
		fileSink, err := audit.NewFileSink(cfg.Audit.FilePath)
		if err != nil {
			fmt.Printf("Audit file error: %v\n", err)
			os.Exit(1)
		}
		sinks = append(sinks, fileSink)
	}
	if len(cfg.Audit.Brokers) > 0 {
		sinks = append(sinks, audit.NewKafkaSink(cfg.Audit.Brokers, cfg.Audit.Topic, cfg.Audit.WriteTimeout))
		fmt.Printf("🧵 Audit mirrored to Kafka topic %s\n", cfg.Audit.Topic)
	}
	auditLog := audit.NewLogger(sinks...)
	defer auditLog.Close()

	// 4. Draft backend
	client := draft.NewClient(cfg.Draft.APIKey, cfg.Draft.APIBase, cfg.Draft.Model, cfg.Draft.AssistantID)
	client.SetRunPollInterval(cfg.Draft.RunPollEvery)
	var generator draft.Generator
	if cfg.Draft.Mode == "session" {
		generator = draft.NewSessionGenerator(client, st)
	} else {
		generator = draft.NewStatelessGenerator(client, cfg.Draft.SystemPrompt)
	}
	fmt.Printf("✍️ Draft mode: %s (%s)\n", cfg.Draft.Mode, cfg.Draft.Model)

	// 5. Bus + operator console
	msgBus := bus.NewMessageBus()
	slackConsole := channels.NewSlackConsole(cfg.Channels.Slack, msgBus)
	var cardConsole approval.Console
	if cfg.Channels.Slack.Enabled {
		cardConsole = slackConsole
	}

	// 6. Approval coordinator
	coordinator := approval.NewCoordinator(st, cardConsole, auditLog, cfg.Approval.TTL)
	coordinator.SetSweepInterval(cfg.Approval.SweepInterval)

	// 7. Transport + relay pipeline
	var transcriber channels.Transcriber
	if cfg.Draft.TranscribeAudio {
		transcriber = client
	}
	wa := channels.NewWhatsAppChannel(cfg.Channels.WhatsApp, cfg.Paths, st, transcriber)

	orch := relay.NewOrchestrator(relay.Options{
		Store:        st,
		Policy:       policy.NewGate(st),
		Generator:    generator,
		Coordinator:  coordinator,
		Audit:        auditLog,
		WindowSize:   cfg.Draft.HistoryWindow,
		DraftTimeout: cfg.Draft.Timeout,
	})
	dispatcher := relay.NewDispatcher(orch)
	dispatcher.SetQueueSize(cfg.Poller.QueueSize)
	poller := relay.NewPoller(st, dispatcher)
	poller.SetCadence(cfg.Poller.Interval, cfg.Poller.BatchSize)

	deliverer := relay.NewDeliverer(st, wa, auditLog, msgBus)
	deliverer.SetCadence(cfg.Delivery.Interval, cfg.Delivery.MaxAttempts, cfg.Delivery.SendTimeout)
	operatorLoop := relay.NewConsole(msgBus, st, coordinator)

	// 8. Start channels and workers
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	runSignalNotify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer runSignalStop(sigChan)

	if cfg.Channels.Slack.Enabled {
		if err := slackConsole.Start(ctx); err != nil {
			fmt.Printf("⚠️ Slack console failed to start: %v\n", err)
		} else {
			fmt.Println("✅ Slack console connected")
		}
	} else {
		fmt.Println("⚠️ Slack console disabled; open cards are only visible via the CLI")
	}

	if err := wa.Start(ctx); err != nil {
		fmt.Printf("⚠️ WhatsApp failed to start: %v\n", err)
	} else if cfg.Channels.WhatsApp.Enabled {
		fmt.Println("✅ WhatsApp connected")
	} else {
		fmt.Println("⚠️ WhatsApp disabled; nothing will be ingested or delivered")
	}

	// Approval records survive restarts, console messages do not.
	coordinator.RepostPending(ctx)

	go func() {
		if err := poller.Run(ctx); err != nil && ctx.Err() == nil {
			fmt.Printf("⚠️ Ingestion poller stopped: %v\n", err)
		}
	}()
	go coordinator.Run(ctx)
	go deliverer.Run(ctx)
	go operatorLoop.Run(ctx)
	go msgBus.DispatchOutbound(ctx)

	fmt.Println("Relaydeck running. Press Ctrl+C to stop.")
	<-sigChan

	fmt.Println("Shutting down...")
	cancel()
	dispatcher.Wait()
	wa.Stop()
	slackConsole.Stop()
}
