package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"botbuilder/internal/backup"
	"botbuilder/internal/builder"
	"botbuilder/internal/execution"
	"botbuilder/internal/logging"
	"botbuilder/internal/session"
	"botbuilder/internal/telegram"
	"botbuilder/internal/workspace"
)

var buildCmd = &cobra.Command{
	Use:   "build [project-name]",
	Short: "Start a new bot build (default command)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runBuild,
}

var resumeCmd = &cobra.Command{
	Use:   "resume <project-id>",
	Short: "Continue a build from its last saved stage",
	Args:  cobra.ExactArgs(1),
	RunE:  runResume,
}

// sessionContext ends on SIGINT/SIGTERM or when the session timeout passes.
func sessionContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	if cfg.Build.SessionTimeout <= 0 {
		return ctx, stop
	}
	tctx, cancel := context.WithTimeout(ctx, cfg.Build.SessionTimeout)
	return tctx, func() {
		cancel()
		stop()
	}
}

func runBuild(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(true); err != nil {
		return err
	}
	ctx, cancel := sessionContext(cmd.Context())
	defer cancel()
	con := newConsole(cmd.InOrStdin(), cmd.OutOrStdout())

	tg := telegram.NewClient(cfg.Telegram.APIBaseURL, cfg.Telegram.Timeout)
	req, err := askBuildRequest(ctx, con, tg, args)
	if err != nil {
		return err
	}

	sessions, closeSessions, err := openSessions(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSessions()

	state := session.New(req.name, req.botName, req.description)
	return runSession(ctx, con, sessions, state, req.token)
}

type buildRequest struct {
	name        string
	description string
	botName     string
	token       string
}

// askBuildRequest collects the project name (unless given as an argument),
// the bot description and a token whose bot username resolves.
func askBuildRequest(ctx context.Context, con *console, lookup telegram.UsernameLookup, args []string) (buildRequest, error) {
	var req buildRequest
	if len(args) > 0 {
		req.name = strings.TrimSpace(args[0])
	} else {
		answer, err := con.Ask(ctx, "What should the project be called?")
		if err != nil {
			return req, err
		}
		req.name = answer
	}
	if req.name == "" {
		return req, errors.New("project name is required")
	}

	description, err := con.Ask(ctx, "Describe the bot you want to build:")
	if err != nil {
		return req, err
	}
	if description == "" {
		return req, errors.New("a description of the bot is required")
	}
	req.description = description

	token, err := con.Ask(ctx, "Paste the bot token you got from @BotFather:")
	if err != nil {
		return req, err
	}
	req.botName, req.token, err = telegram.Resolve(ctx, lookup, con, token)
	if err != nil {
		return req, fmt.Errorf("resolve bot username: %w", err)
	}
	con.Notify(fmt.Sprintf("Found your bot: @%s", req.botName))
	return req, nil
}

func runResume(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(true); err != nil {
		return err
	}
	if cfg.Redis.URL == "" {
		return errors.New("resume needs REDIS_URL: snapshots are only kept in memory otherwise")
	}
	ctx, cancel := sessionContext(cmd.Context())
	defer cancel()
	con := newConsole(cmd.InOrStdin(), cmd.OutOrStdout())

	sessions, closeSessions, err := openSessions(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSessions()

	state, err := sessions.Load(ctx, args[0])
	if err != nil {
		return err
	}
	if state.Finished {
		con.Notify(fmt.Sprintf("Project %s is already finished (container %s).", state.ProjectID, state.ContainerName))
		return nil
	}
	con.Notify(fmt.Sprintf("Resuming %s at stage %q.", state.ProjectName, state.Stage))
	// The token is already in the project's secrets file.
	return runSession(ctx, con, sessions, state, "")
}

func runSession(ctx context.Context, con *console, sessions session.Store, state *session.State, token string) error {
	log := logging.L().With(zap.String("project_id", state.ProjectID))

	ws, err := workspace.Open(cfg.ProjectsDir, state.ProjectID, state.BotName, workspace.WithSecretsFile(cfg.Build.SecretsFile))
	if err != nil {
		return err
	}
	rt, err := execution.NewDocker(cfg.Docker.Host)
	if err != nil {
		return err
	}
	defer rt.Close()

	oracle, err := newOracle(ctx, cfg)
	if err != nil {
		return err
	}

	database, ledger := openLedger(cfg)
	if database != nil {
		defer database.Close()
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		log.Warn("export disabled", zap.Error(err))
	}

	m, err := builder.New(state, builder.Deps{
		Oracle:   oracle,
		Store:    ws,
		Runtime:  rt,
		Asker:    con,
		Notifier: con,
		Sessions: sessions,
		Token:    token,
	}, builderConfig(cfg))
	if err != nil {
		return err
	}

	var recorded chan struct{}
	if ledger != nil {
		if err := ledger.Begin(ctx, state); err != nil {
			log.Warn("ledger begin", zap.Error(err))
		}
		ch := m.Subscribe(256)
		recorded = make(chan struct{})
		go func() {
			defer close(recorded)
			ledger.Consume(context.WithoutCancel(ctx), ch)
		}()
	}

	con.Notify(fmt.Sprintf("Project %s (id %s), files in %s", state.ProjectName, state.ProjectID, ws.Dir()))
	res := m.Run(ctx)

	if recorded != nil {
		<-recorded
		if err := ledger.Finish(context.WithoutCancel(ctx), res); err != nil {
			log.Warn("ledger finish", zap.Error(err))
		}
	}
	report(con, res)

	if res.Outcome != builder.OutcomeCompleted {
		return fmt.Errorf("build %s: %w", res.Outcome, res.Err)
	}
	if exporter != nil {
		key := backup.ExportKey(cfg.Backup.S3Prefix, state.ProjectID, state.BotName, time.Now())
		exp, err := exporter.Export(ctx, ws.Dir(), key)
		if err != nil {
			con.Notify("Could not export the project: " + err.Error())
			return nil
		}
		con.Notify(fmt.Sprintf("Project exported to %s (sha256 %s).", exp.Key, exp.Checksum))
	}
	return nil
}

func report(con *console, res builder.Result) {
	st := res.State
	switch res.Outcome {
	case builder.OutcomeCompleted:
		con.Notify(fmt.Sprintf("Done! @%s is running in container %s.", st.BotName, res.ContainerName))
		return
	case builder.OutcomeAborted:
		con.Notify(fmt.Sprintf("Build interrupted at stage %q. Continue with: botbuilder resume %s", st.Stage, st.ProjectID))
	default:
		reason := "an unexpected error occurred"
		var se *builder.StageError
		if errors.As(res.Err, &se) {
			reason = se.UserMessage()
		}
		con.Notify(fmt.Sprintf("The build stopped: %s.", reason))
	}
	if res.DeploymentCreated {
		con.Notify(fmt.Sprintf("Container %s was left in place. Remove it with: botbuilder stop %s", res.ContainerName, res.ContainerName))
	}
}
