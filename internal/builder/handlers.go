package builder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"botbuilder/internal/ai"
	"botbuilder/internal/execution"
	"botbuilder/internal/metrics"
	"botbuilder/internal/session"
)

func (m *Machine) assessSufficiency(ctx context.Context) (Stage, error) {
	s := m.state
	forced := len(s.QAHistory) > m.cfg.MaxQuestions

	raw, err := m.deps.Oracle.Generate(ctx, assessSystemPrompt(m.cfg.MaxQuestions), assessContext(s, forced))
	if err != nil {
		return "", oracleErr(StageAssessSufficiency, err)
	}

	a, err := ai.ParseAssessment(raw)
	if err != nil {
		var perr *ai.ParseError
		if errors.As(err, &perr) {
			s.Sufficiency = session.Insufficient
			s.PendingQuestions = nil
		}
		return "", oracleErr(StageAssessSufficiency, err)
	}

	s.PendingQuestions = a.Questions
	s.Summary = a.Summary
	s.TechnicalSpec = a.TechnicalSpec

	if a.Enough || forced {
		s.Sufficiency = session.Sufficient
		if forced && !a.Enough {
			m.log.Info("question limit reached, forcing a verdict", zap.Int("answered", len(s.QAHistory)))
		}
		switch {
		case s.Summary == nil:
			return "", stageErr(StageAssessSufficiency, KindOracleContent, "summary missing", nil)
		case s.TechnicalSpec == nil:
			return "", stageErr(StageAssessSufficiency, KindOracleContent, "TZ missing", nil)
		}
		return StageStartProject, nil
	}

	s.Sufficiency = session.Insufficient
	if len(s.PendingQuestions) == 0 {
		return "", stageErr(StageAssessSufficiency, KindOracleContent, "no questions for insufficient requirements", nil)
	}
	return StageAskUser, nil
}

func (m *Machine) askUser(ctx context.Context) (Stage, error) {
	s := m.state

	// Never ask past the point where the next assessment is forced.
	remaining := m.cfg.MaxQuestions + 1 - len(s.QAHistory)
	if remaining < 1 {
		remaining = 1
	}
	if len(s.PendingQuestions) > remaining {
		s.PendingQuestions = s.PendingQuestions[:remaining]
	}

	for len(s.PendingQuestions) > 0 {
		q := s.PendingQuestions[0]
		answer, err := m.deps.Asker.Ask(ctx, q)
		if err != nil {
			return "", inputErr(StageAskUser, err)
		}
		s.AppendQA(q, strings.TrimSpace(answer))
		s.PendingQuestions = s.PendingQuestions[1:]
	}
	s.PendingQuestions = nil
	return StageAssessSufficiency, nil
}

func (m *Machine) startProject(ctx context.Context) (Stage, error) {
	if m.deps.Token != "" {
		written, err := m.deps.Store.WriteSecrets(ctx, fmt.Sprintf("TELEGRAM_BOT_TOKEN=%s\n", m.deps.Token))
		if err != nil {
			return "", storeErr(StageStartProject, "write secrets file", err)
		}
		if !written {
			m.log.Debug("secrets file already present, left untouched")
		}
	} else {
		ok, err := m.deps.Store.HasSecrets(ctx)
		if err != nil {
			return "", storeErr(StageStartProject, "check secrets file", err)
		}
		if !ok {
			return "", stageErr(StageStartProject, KindUserInput, "bot token unknown", nil)
		}
	}

	if m.state.Summary != nil {
		m.deps.Notifier.Notify("Here is what will be built:\n" + *m.state.Summary)
	}
	return StageGenerateCode, nil
}

func (m *Machine) generateCode(ctx context.Context) (Stage, error) {
	m.deps.Notifier.Notify("Generating the code...")
	files, err := m.generateFiles(ctx, ScopeFull)
	if err != nil {
		return "", err
	}
	m.state.ReplaceBundle(files)
	return StagePersist, nil
}

func (m *Machine) persist(ctx context.Context) (Stage, error) {
	s := m.state
	s.PersistFailures = nil

	for _, p := range s.Paths() {
		if err := m.deps.Store.Write(ctx, p, s.FileBundle[p]); err != nil {
			if isContextErr(err) {
				return "", err
			}
			m.log.Warn("persist file", zap.String("path", p), zap.Error(err))
			s.PersistFailures = append(s.PersistFailures, p)
		}
	}

	if n := len(s.PersistFailures); n > 0 {
		metrics.Get().PersistFailures.Add(float64(n))
		m.deps.Notifier.Notify(fmt.Sprintf("Could not save %d file(s): %s", n, strings.Join(s.PersistFailures, ", ")))
	}
	return StageDeploy, nil
}

func (m *Machine) deploy(ctx context.Context) (Stage, error) {
	s := m.state
	rt := m.deps.Runtime
	dir := m.deps.Store.Dir()
	name := s.ContainerName

	if !s.DeploymentCreated {
		m.deps.Notifier.Notify("Building and starting the bot...")
		if err := rt.Build(ctx, dir, name); err != nil {
			return "", runtimeErr(StageDeploy, err)
		}
		if _, err := rt.Run(ctx, name, m.deps.Store.SecretsPath(), m.cfg.Ports); err != nil {
			return "", runtimeErr(StageDeploy, err)
		}
		s.DeploymentCreated = true
	} else {
		m.deps.Notifier.Notify("Rebuilding and restarting the bot...")
		if err := rt.Restart(ctx, name, true, dir); err != nil {
			return "", runtimeErr(StageDeploy, err)
		}
	}

	if err := sleep(ctx, m.cfg.SettleInterval); err != nil {
		return "", err
	}

	logs, err := rt.Logs(ctx, name, m.cfg.LogTail)
	if err != nil && execution.IsNotFound(err) {
		// The container was removed outside the builder; the image is fresh,
		// so start a new one under the same name.
		m.log.Warn("container missing after restart, starting a new one", zap.String("container", name))
		m.deps.Notifier.Notify("The bot's container was gone, starting a new one...")
		if _, err := rt.Run(ctx, name, m.deps.Store.SecretsPath(), m.cfg.Ports); err != nil {
			return "", runtimeErr(StageDeploy, err)
		}
		if err := sleep(ctx, m.cfg.SettleInterval); err != nil {
			return "", err
		}
		logs, err = rt.Logs(ctx, name, m.cfg.LogTail)
	}
	if err != nil {
		return "", runtimeErr(StageDeploy, err)
	}
	s.LastLogs = logs
	return StageDiagnose, nil
}

func (m *Machine) diagnose(ctx context.Context) (Stage, error) {
	s := m.state

	raw, err := m.deps.Oracle.Generate(ctx, diagnosePrompt, diagnoseContext(s))
	if err != nil {
		return "", oracleErr(StageDiagnose, err)
	}
	d, err := ai.ParseDiagnosis(raw)
	if err != nil {
		return "", oracleErr(StageDiagnose, err)
	}

	if d.HasErrors {
		if d.ProblemSummary == nil {
			return "", stageErr(StageDiagnose, KindOracleContent, "problem_summary missing", nil)
		}
		s.SetProblem(*d.ProblemSummary)
		m.deps.Notifier.Notify("Found a problem: " + *d.ProblemSummary)
		return StageDebug, nil
	}

	if !m.cfg.AskFeedback {
		return StageTerminated, nil
	}
	answer, err := m.deps.Asker.Ask(ctx, feedbackQuestion)
	if err != nil {
		return "", inputErr(StageDiagnose, err)
	}
	if isSatisfied(answer) {
		return StageTerminated, nil
	}
	s.SetProblem(strings.TrimSpace(answer))
	return StageDebug, nil
}

func (m *Machine) debug(ctx context.Context) (Stage, error) {
	s := m.state
	if m.cfg.MaxDebugCycles > 0 && s.DebugCycles >= m.debugLimit {
		return "", stageErr(StageDebug, KindDebugLimit, fmt.Sprintf("%d debug cycles used", s.DebugCycles), nil)
	}
	if s.ProblemSummary == nil {
		return "", stageErr(StageDebug, KindUserInput, "no problem description", nil)
	}

	m.deps.Notifier.Notify("Working on a fix...")
	patch, err := m.generateFiles(ctx, ScopePatch)
	if err != nil {
		return "", err
	}
	s.MergeBundle(patch)
	s.ClearProblem()
	s.DebugCycles++
	metrics.Get().DebugCyclesTotal.Inc()
	return StagePersist, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func normalizeAnswer(s string) string {
	return strings.Trim(strings.ToLower(strings.TrimSpace(s)), ".!")
}

func isYes(answer string) bool {
	switch normalizeAnswer(answer) {
	case "", "y", "yes", "retry", "ok", "okay", "sure":
		return true
	}
	return false
}

func isSatisfied(answer string) bool {
	switch normalizeAnswer(answer) {
	case "", "y", "yes", "ok", "okay", "fine", "good", "all good", "works", "it works", "everything is fine":
		return true
	}
	return false
}
