// Package builder drives one bot build as a finite state machine: gather
// requirements, generate code, persist, deploy, read the logs and debug.
//
// A Machine owns its session.State. Run steps it until the bot is finished,
// the context is cancelled or the user gives up after a failure. Every move is
// checked against the transition table and published to subscribers.
package builder

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"botbuilder/internal/ai"
	"botbuilder/internal/execution"
	"botbuilder/internal/logging"
	"botbuilder/internal/metrics"
	"botbuilder/internal/session"
)

// Asker asks the user a question and blocks for the answer.
type Asker interface {
	Ask(ctx context.Context, question string) (string, error)
}

// Notifier shows progress messages to the user.
type Notifier interface {
	Notify(msg string)
}

// ProjectStore is the per-project file store.
type ProjectStore interface {
	Dir() string
	Write(ctx context.Context, path, content string) error
	ReadAll(ctx context.Context) (map[string]string, error)
	WriteSecrets(ctx context.Context, content string) (bool, error)
	HasSecrets(ctx context.Context) (bool, error)
	SecretsPath() string
}

// ContainerRuntime builds and runs the bot image.
type ContainerRuntime interface {
	Build(ctx context.Context, dir, name string) error
	Run(ctx context.Context, name, envFile string, ports map[string]string) (string, error)
	Restart(ctx context.Context, name string, rebuild bool, dir string) error
	Logs(ctx context.Context, name string, tail int) (string, error)
}

// Config tunes the machine.
type Config struct {
	// MaxQuestions is N in the rule "more than N answered questions forces a
	// verdict".
	MaxQuestions    int
	SettleInterval  time.Duration
	LogTail         int
	MaxStageRetries int
	// MaxDebugCycles bounds Debug rounds before escalating; 0 means unbounded.
	MaxDebugCycles int
	AskFeedback    bool
	RequiredFiles  []string
	SecretsFile    string
	Ports          map[string]string
}

// DefaultConfig mirrors config.Default.
func DefaultConfig() Config {
	return Config{
		MaxQuestions:    10,
		SettleInterval:  10 * time.Second,
		LogTail:         100,
		MaxStageRetries: 1,
		MaxDebugCycles:  5,
		AskFeedback:     true,
		RequiredFiles:   []string{"main.py", "requirements.txt", "README.md", "Dockerfile"},
		SecretsFile:     ".env",
	}
}

// Deps are the machine's collaborators. Notifier and Sessions are optional.
type Deps struct {
	Oracle   ai.Oracle
	Store    ProjectStore
	Runtime  ContainerRuntime
	Asker    Asker
	Notifier Notifier
	Sessions session.Store
	// Token is the bot token written to the secrets file. It is never part
	// of the session snapshot.
	Token string
}

// Outcome is how Run ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeAborted   Outcome = "aborted"
)

// Result is returned by Run.
type Result struct {
	Outcome Outcome
	State   *session.State
	// Err is the error that ended the run; nil when completed.
	Err error
	// DeploymentCreated and ContainerName let the caller clean up.
	DeploymentCreated bool
	ContainerName     string
}

// Transition is emitted for every stage execution: a move to the next stage,
// or a failed attempt with From == To and the error set.
type Transition struct {
	ID           string    `json:"id"`
	ProjectID    string    `json:"project_id"`
	From         Stage     `json:"from"`
	To           Stage     `json:"to"`
	Timestamp    time.Time `json:"timestamp"`
	DurationMs   int64     `json:"duration_ms"`
	Attempt      int       `json:"attempt"`
	ErrorKind    ErrorKind `json:"error_kind,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// Failed reports whether the record describes a failed attempt.
func (t Transition) Failed() bool { return t.ErrorMessage != "" }

// Machine is the build state machine for one session.
type Machine struct {
	cfg   Config
	deps  Deps
	state *session.State
	stage Stage

	retries    int
	debugLimit int
	log        *zap.Logger

	mu          sync.RWMutex
	subscribers []chan Transition
	history     []Transition
}

type nopNotifier struct{}

func (nopNotifier) Notify(string) {}

// New creates a machine for state, resuming at state.Stage when set.
func New(state *session.State, deps Deps, cfg Config) (*Machine, error) {
	if state == nil {
		return nil, errors.New("builder: state is required")
	}
	if deps.Oracle == nil || deps.Store == nil || deps.Runtime == nil || deps.Asker == nil {
		return nil, errors.New("builder: oracle, store, runtime and asker are required")
	}
	if cfg.SecretsFile == "" {
		cfg.SecretsFile = ".env"
	}
	if cfg.LogTail <= 0 {
		cfg.LogTail = 100
	}
	if deps.Notifier == nil {
		deps.Notifier = nopNotifier{}
	}

	stage, err := ParseStage(state.Stage)
	if err != nil {
		return nil, fmt.Errorf("builder: %w", err)
	}
	if state.Finished {
		stage = StageTerminated
	}
	state.Stage = string(stage)
	if state.ContainerName == "" {
		state.ContainerName = execution.ContainerName(state.BotName, state.ProjectID)
	}
	if state.FileBundle == nil {
		state.FileBundle = map[string]string{}
	}

	return &Machine{
		cfg:        cfg,
		deps:       deps,
		state:      state,
		stage:      stage,
		debugLimit: cfg.MaxDebugCycles,
		log: logging.L().With(
			zap.String("project_id", state.ProjectID),
			zap.String("bot", state.BotName),
		),
		history: make([]Transition, 0, 32),
	}, nil
}

// Stage returns the stage that runs next.
func (m *Machine) Stage() Stage { return m.stage }

// State returns the session state. It must not be modified while Run is
// active.
func (m *Machine) State() *session.State { return m.state }

// Step runs the current stage once and, on success, moves to the next stage.
// A failed stage leaves the machine where it was.
func (m *Machine) Step(ctx context.Context) error {
	if m.state.Finished {
		return ErrFinished
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	from := m.stage
	start := time.Now()
	next, err := m.runStage(ctx, from)
	elapsed := time.Since(start)

	if err != nil {
		metrics.Get().RecordStage(string(from), "error", elapsed)
		m.record(from, from, start, err)
		m.saveSnapshot(ctx)
		return err
	}
	metrics.Get().RecordStage(string(from), "ok", elapsed)

	if !CanTransition(from, next) {
		err := stageErr(from, KindInvalidTransition, fmt.Sprintf("%s -> %s is not allowed", from, next), nil)
		m.record(from, from, start, err)
		return err
	}

	m.stage = next
	m.state.Stage = string(next)
	if next == StageTerminated {
		m.state.Finished = true
	}
	m.record(from, next, start, nil)
	metrics.Get().RecordTransition(string(from), string(next))
	m.saveSnapshot(ctx)
	return nil
}

// Run steps the machine until it finishes, fails or ctx ends. Subscriber
// channels are closed when Run returns.
func (m *Machine) Run(ctx context.Context) Result {
	met := metrics.Get()
	met.SessionsActive.Inc()
	defer met.SessionsActive.Dec()
	defer m.closeSubscribers()

	res := m.run(ctx)
	res.State = m.state
	res.DeploymentCreated = m.state.DeploymentCreated
	res.ContainerName = m.state.ContainerName
	met.RecordSessionOutcome(string(res.Outcome))
	m.log.Info("build session ended", zap.String("outcome", string(res.Outcome)), zap.Error(res.Err))
	return res
}

func (m *Machine) run(ctx context.Context) Result {
	for !m.state.Finished {
		err := m.Step(ctx)
		if err == nil {
			m.retries = 0
			continue
		}
		if ctx.Err() != nil || isContextErr(err) {
			return Result{Outcome: OutcomeAborted, Err: err}
		}

		var se *StageError
		if !errors.As(err, &se) || se.Kind == KindInvalidTransition {
			return Result{Outcome: OutcomeFailed, Err: err}
		}

		m.retries++
		if se.Kind != KindDebugLimit && m.retries <= m.cfg.MaxStageRetries {
			m.log.Warn("stage failed, retrying",
				zap.String("stage", string(se.Stage)),
				zap.String("kind", string(se.Kind)),
				zap.Int("attempt", m.retries),
				zap.Error(err),
			)
			continue
		}

		again, askErr := m.askRetry(ctx, se)
		if askErr != nil {
			if ctx.Err() != nil || isContextErr(askErr) {
				return Result{Outcome: OutcomeAborted, Err: askErr}
			}
			return Result{Outcome: OutcomeFailed, Err: err}
		}
		if !again {
			return Result{Outcome: OutcomeFailed, Err: err}
		}
		m.retries = 0
		if se.Kind == KindDebugLimit {
			m.debugLimit += m.cfg.MaxDebugCycles
		}
	}
	return Result{Outcome: OutcomeCompleted}
}

func (m *Machine) askRetry(ctx context.Context, se *StageError) (bool, error) {
	answer, err := m.deps.Asker.Ask(ctx, fmt.Sprintf(retryQuestion, se.Stage.Label(), se.UserMessage()))
	if err != nil {
		return false, err
	}
	return isYes(answer), nil
}

func (m *Machine) runStage(ctx context.Context, stage Stage) (Stage, error) {
	switch stage {
	case StageAssessSufficiency:
		return m.assessSufficiency(ctx)
	case StageAskUser:
		return m.askUser(ctx)
	case StageStartProject:
		return m.startProject(ctx)
	case StageGenerateCode:
		return m.generateCode(ctx)
	case StagePersist:
		return m.persist(ctx)
	case StageDeploy:
		return m.deploy(ctx)
	case StageDiagnose:
		return m.diagnose(ctx)
	case StageDebug:
		return m.debug(ctx)
	}
	return "", stageErr(stage, KindInvalidTransition, "no handler for stage", nil)
}

func (m *Machine) record(from, to Stage, start time.Time, err error) {
	now := time.Now()
	t := Transition{
		ID:         uuid.New().String(),
		ProjectID:  m.state.ProjectID,
		From:       from,
		To:         to,
		Timestamp:  now,
		DurationMs: now.Sub(start).Milliseconds(),
		Attempt:    m.retries + 1,
	}
	if err != nil {
		t.ErrorMessage = err.Error()
		var se *StageError
		if errors.As(err, &se) {
			t.ErrorKind = se.Kind
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, t)

	// Drop if subscriber is slow; History keeps everything.
	for _, ch := range m.subscribers {
		select {
		case ch <- t:
		default:
		}
	}

	if err != nil {
		m.log.Debug("stage attempt failed", zap.String("stage", string(from)), zap.Int64("duration_ms", t.DurationMs))
		return
	}
	m.log.Info("stage transition",
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.Int64("duration_ms", t.DurationMs),
	)
}

func (m *Machine) saveSnapshot(ctx context.Context) {
	if m.deps.Sessions == nil {
		return
	}
	m.state.Touch()
	// A cancelled run still records where it stopped.
	saveCtx := context.WithoutCancel(ctx)
	if err := m.deps.Sessions.Save(saveCtx, m.state); err != nil {
		m.log.Warn("save session snapshot", zap.Error(err))
	}
}

// Subscribe returns a channel that receives Transition records. Buffer size
// controls how many records can queue before new ones are dropped.
func (m *Machine) Subscribe(bufferSize int) <-chan Transition {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	ch := make(chan Transition, bufferSize)
	m.mu.Lock()
	m.subscribers = append(m.subscribers, ch)
	m.mu.Unlock()
	return ch
}

func (m *Machine) closeSubscribers() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subscribers {
		close(ch)
	}
	m.subscribers = nil
}

// History returns a copy of all transition records.
func (m *Machine) History() []Transition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Transition, len(m.history))
	copy(out, m.history)
	return out
}

func sortedKeys(files map[string]string) []string {
	out := make([]string, 0, len(files))
	for k := range files {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
