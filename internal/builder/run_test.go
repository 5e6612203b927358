package builder

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"botbuilder/internal/execution"
	"botbuilder/internal/workspace"
)

func withWorkspace(t *testing.T, h *harness) *workspace.Store {
	t.Helper()
	ws, err := workspace.Open(t.TempDir(), h.state.ProjectID, h.state.BotName)
	require.NoError(t, err)
	h.store = ws
	return ws
}

func TestRunSufficientOnFirstPass(t *testing.T) {
	h := newHarness(t)
	ws := withWorkspace(t, h)
	h.oracle.
		script("assess", assessEnough).
		script("generate", bundleFull).
		script("diagnose", diagnoseClean)
	h.asker.answers = []string{""}
	m := h.machine(t)
	sub := m.Subscribe(32)

	res := m.Run(context.Background())

	require.NoError(t, res.Err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.True(t, res.DeploymentCreated)
	assert.Equal(t, execution.ContainerName("echo_helper_bot", h.state.ProjectID), res.ContainerName)
	assert.True(t, h.state.Finished)
	assert.Empty(t, h.state.QAHistory)

	assert.Equal(t, []string{
		"assess_sufficiency>start_project",
		"start_project>generate_code",
		"generate_code>persist",
		"persist>deploy",
		"deploy>diagnose",
		"diagnose>terminated",
	}, stages(m.History()))

	var received int
	for range sub {
		received++
	}
	assert.Equal(t, 6, received)

	secrets, err := os.ReadFile(ws.SecretsPath())
	require.NoError(t, err)
	assert.Equal(t, "TELEGRAM_BOT_TOKEN=123456:ABC\n", string(secrets))

	mainPy, err := ws.Read(context.Background(), "main.py")
	require.NoError(t, err)
	assert.Equal(t, "print('v1')", mainPy)
	assert.Equal(t, []string{feedbackQuestion}, h.asker.questions)

	saved, err := h.sessions.Load(context.Background(), h.state.ProjectID)
	require.NoError(t, err)
	assert.Equal(t, string(StageTerminated), saved.Stage)
	assert.True(t, saved.Finished)
}

func TestRunAsksQuestionsFirst(t *testing.T) {
	h := newHarness(t)
	withWorkspace(t, h)
	h.cfg.AskFeedback = false
	h.oracle.
		script("assess", assessQuestion, assessEnough).
		script("generate", bundleFull).
		script("diagnose", diagnoseClean)
	h.asker.answers = []string{"English", "Only /start"}
	m := h.machine(t)

	res := m.Run(context.Background())

	require.NoError(t, res.Err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	require.Len(t, h.state.QAHistory, 2)
	assert.Equal(t, "Which language should it answer in?", h.state.QAHistory[0].Question)
	assert.Equal(t, "Only /start", h.state.QAHistory[1].Answer)
	assert.Contains(t, h.oracle.prompts["assess"][1], "A: English")
	assert.Equal(t, []string{
		"assess_sufficiency>ask_user",
		"ask_user>assess_sufficiency",
		"assess_sufficiency>start_project",
	}, stages(m.History())[:3])
}

func TestRunDebugsAndRedeploys(t *testing.T) {
	h := newHarness(t)
	ws := withWorkspace(t, h)
	h.cfg.AskFeedback = false
	h.oracle.
		script("assess", assessEnough).
		script("generate", bundleFull).
		script("diagnose", diagnoseBroken, diagnoseClean).
		script("patch", `{"main.py": "print('v2')"}`)
	m := h.machine(t)
	name := h.state.ContainerName

	res := m.Run(context.Background())

	require.NoError(t, res.Err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, 1, h.state.DebugCycles)
	assert.Nil(t, h.state.ProblemSummary)
	assert.Equal(t, "print('v2')", h.state.FileBundle["main.py"])
	assert.Equal(t, "# Echo", h.state.FileBundle["README.md"])

	onDisk, err := ws.Read(context.Background(), "main.py")
	require.NoError(t, err)
	assert.Equal(t, "print('v2')", onDisk)

	patchPrompt := h.oracle.prompts["patch"][0]
	assert.Contains(t, patchPrompt, "print('v1')")
	assert.Contains(t, patchPrompt, "ImportError")
	assert.NotContains(t, patchPrompt, "TELEGRAM_BOT_TOKEN=123456:ABC")

	assert.Equal(t, []string{
		"build " + name,
		"run " + name,
		"logs " + name,
		"restart " + name + " rebuild=true",
		"logs " + name,
	}, h.runtime.calls)
	assert.Contains(t, stages(m.History()), "debug>persist")
}

func TestRunFeedbackStartsDebug(t *testing.T) {
	h := newHarness(t)
	withWorkspace(t, h)
	h.oracle.
		script("assess", assessEnough).
		script("generate", bundleFull).
		script("diagnose", diagnoseClean, diagnoseClean).
		script("patch", `{"main.py": "print('v2')"}`)
	h.asker.answers = []string{"It should also greet new users", "everything is fine"}
	m := h.machine(t)

	res := m.Run(context.Background())

	require.NoError(t, res.Err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Contains(t, h.oracle.prompts["patch"][0], "It should also greet new users")
	assert.Equal(t, 1, h.state.DebugCycles)
}

func TestRunAbortsOnCancel(t *testing.T) {
	h := newHarness(t)
	withWorkspace(t, h)
	h.oracle.script("assess", assessQuestion)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.asker.onAsk = cancel
	m := h.machine(t)

	res := m.Run(ctx)

	assert.Equal(t, OutcomeAborted, res.Outcome)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.False(t, res.DeploymentCreated)

	saved, err := h.sessions.Load(context.Background(), h.state.ProjectID)
	require.NoError(t, err)
	assert.Equal(t, string(StageAskUser), saved.Stage)
}

func TestRunRetriesThenAsksUser(t *testing.T) {
	h := newHarness(t)
	h.cfg.MaxStageRetries = 1
	h.oracle.script("assess", "not json", "still not json")
	h.asker.answers = []string{"n"}
	m := h.machine(t)

	res := m.Run(context.Background())

	assert.Equal(t, OutcomeFailed, res.Outcome)
	requireStageError(t, res.Err, KindOracleParse)
	require.Len(t, h.asker.questions, 1)
	assert.Contains(t, h.asker.questions[0], "could not be understood")
	assert.Equal(t, []string{"assess_sufficiency!", "assess_sufficiency!"}, stages(m.History()))
}

func TestRunRetryApprovedContinues(t *testing.T) {
	h := newHarness(t)
	withWorkspace(t, h)
	h.cfg.MaxStageRetries = 0
	h.cfg.AskFeedback = false
	h.oracle.
		fail("assess", assertErr("quota exceeded")).
		script("assess", assessEnough).
		script("generate", bundleFull).
		script("diagnose", diagnoseClean)
	h.asker.answers = []string{"y"}
	m := h.machine(t)

	res := m.Run(context.Background())

	require.NoError(t, res.Err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, KindOracleUnavailable, m.History()[0].ErrorKind)
}

func TestRunDebugLimitEscalates(t *testing.T) {
	h := newHarness(t)
	withWorkspace(t, h)
	h.cfg.AskFeedback = false
	h.cfg.MaxDebugCycles = 1
	h.oracle.
		script("assess", assessEnough).
		script("generate", bundleFull).
		script("diagnose", diagnoseBroken, diagnoseBroken).
		script("patch", `{"main.py": "print('v2')"}`)
	h.asker.answers = []string{"no"}
	m := h.machine(t)

	res := m.Run(context.Background())

	assert.Equal(t, OutcomeFailed, res.Outcome)
	requireStageError(t, res.Err, KindDebugLimit)
	assert.Len(t, h.oracle.prompts["patch"], 1)
	assert.Len(t, h.asker.questions, 1)
	assert.True(t, res.DeploymentCreated)
}

func TestSecretsFileIsNeverOverwritten(t *testing.T) {
	h := newHarness(t)
	ws := withWorkspace(t, h)
	_, err := ws.WriteSecrets(context.Background(), "TELEGRAM_BOT_TOKEN=first-token\n")
	require.NoError(t, err)
	h.state.Stage = string(StageStartProject)
	m := h.machine(t)

	require.NoError(t, m.Step(context.Background()))

	data, err := os.ReadFile(filepath.Join(ws.Dir(), ".env"))
	require.NoError(t, err)
	assert.Equal(t, "TELEGRAM_BOT_TOKEN=first-token\n", string(data))
}

func TestResumeWithoutTokenNeedsSecretsFile(t *testing.T) {
	h := newHarness(t)
	withWorkspace(t, h)
	h.state.Stage = string(StageStartProject)
	m, err := New(h.state, Deps{
		Oracle:  h.oracle,
		Store:   h.store,
		Runtime: h.runtime,
		Asker:   h.asker,
	}, h.cfg)
	require.NoError(t, err)

	requireStageError(t, m.Step(context.Background()), KindUserInput)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
