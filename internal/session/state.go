// Package session holds the conversation state of one bot build and the
// stores its snapshots are saved to.
package session

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Sufficiency is the latest verdict on whether enough is known to build.
type Sufficiency string

const (
	SufficiencyUnknown Sufficiency = "unknown"
	Sufficient         Sufficiency = "sufficient"
	Insufficient       Sufficiency = "insufficient"
)

// QA is one answered clarifying question.
type QA struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// State is everything known about one build. It is owned by a single machine
// run and is not safe for concurrent mutation.
type State struct {
	ProjectID        string      `json:"project_id"`
	ProjectName      string      `json:"project_name"`
	BotName          string      `json:"bot_name"`
	FirstDescription string      `json:"first_description"`
	QAHistory        []QA        `json:"qa_history"`
	Sufficiency      Sufficiency `json:"sufficiency"`
	PendingQuestions []string    `json:"pending_questions"`
	Summary          *string     `json:"summary"`
	TechnicalSpec    *string     `json:"technical_spec"`

	FileBundle      map[string]string `json:"file_bundle"`
	ProblemSummary  *string           `json:"problem_summary"`
	LastLogs        string            `json:"last_logs"`
	PersistFailures []string          `json:"persist_failures"`

	DeploymentCreated bool   `json:"deployment_created"`
	ContainerName     string `json:"container_name"`
	DebugCycles       int    `json:"debug_cycles"`

	// Stage is the stage that runs next.
	Stage    string `json:"stage"`
	Finished bool   `json:"finished"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New starts a session with a fresh project id.
func New(projectName, botName, description string) *State {
	now := time.Now().UTC()
	return &State{
		ProjectID:        uuid.NewString(),
		ProjectName:      projectName,
		BotName:          botName,
		FirstDescription: description,
		Sufficiency:      SufficiencyUnknown,
		FileBundle:       map[string]string{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// AppendQA records an answered question.
func (s *State) AppendQA(question, answer string) {
	s.QAHistory = append(s.QAHistory, QA{Question: question, Answer: answer})
}

// ReplaceBundle swaps the whole file bundle, as after full generation.
func (s *State) ReplaceBundle(files map[string]string) {
	s.FileBundle = make(map[string]string, len(files))
	for k, v := range files {
		s.FileBundle[k] = v
	}
}

// MergeBundle overwrites the given paths and keeps every other entry.
func (s *State) MergeBundle(patch map[string]string) {
	if s.FileBundle == nil {
		s.FileBundle = make(map[string]string, len(patch))
	}
	for k, v := range patch {
		s.FileBundle[k] = v
	}
}

// Paths returns the bundle's paths in sorted order.
func (s *State) Paths() []string {
	out := make([]string, 0, len(s.FileBundle))
	for p := range s.FileBundle {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// SetProblem stores a problem for the next debug round.
func (s *State) SetProblem(summary string) {
	s.ProblemSummary = &summary
}

// ClearProblem drops the consumed problem summary.
func (s *State) ClearProblem() {
	s.ProblemSummary = nil
}

// Touch bumps UpdatedAt.
func (s *State) Touch() {
	s.UpdatedAt = time.Now().UTC()
}

// Encode serializes the state for a Store.
func (s *State) Encode() ([]byte, error) {
	return json.Marshal(s)
}

// Decode restores a state written by Encode.
func Decode(data []byte) (*State, error) {
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode session snapshot: %w", err)
	}
	if s.ProjectID == "" {
		return nil, fmt.Errorf("decode session snapshot: missing project_id")
	}
	if s.FileBundle == nil {
		s.FileBundle = map[string]string{}
	}
	return &s, nil
}

// Clone returns a deep copy through the snapshot encoding.
func (s *State) Clone() *State {
	data, err := s.Encode()
	if err != nil {
		panic(fmt.Sprintf("session: clone: %v", err))
	}
	out, err := Decode(data)
	if err != nil {
		panic(fmt.Sprintf("session: clone: %v", err))
	}
	return out
}
