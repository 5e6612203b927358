package builder

import "fmt"

// Stage is one state of the build machine.
type Stage string

const (
	StageAssessSufficiency Stage = "assess_sufficiency"
	StageAskUser           Stage = "ask_user"
	StageStartProject      Stage = "start_project"
	StageGenerateCode      Stage = "generate_code"
	StagePersist           Stage = "persist"
	StageDeploy            Stage = "deploy"
	StageDiagnose          Stage = "diagnose"
	StageDebug             Stage = "debug"
	StageTerminated        Stage = "terminated"
)

// validTransitions is the canonical transition table: from → allowed next.
var validTransitions = map[Stage][]Stage{
	StageAssessSufficiency: {StageAskUser, StageStartProject},
	StageAskUser:           {StageAssessSufficiency},
	StageStartProject:      {StageGenerateCode},
	StageGenerateCode:      {StagePersist},
	StagePersist:           {StageDeploy},
	StageDeploy:            {StageDiagnose},
	StageDiagnose:          {StageDebug, StageTerminated},
	StageDebug:             {StagePersist},
	StageTerminated:        {},
}

// CanTransition reports whether from → to is in the table.
func CanTransition(from, to Stage) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ParseStage validates a stage name read from a snapshot. Empty means the
// initial stage.
func ParseStage(s string) (Stage, error) {
	if s == "" {
		return StageAssessSufficiency, nil
	}
	if _, ok := validTransitions[Stage(s)]; !ok {
		return "", fmt.Errorf("unknown stage %q", s)
	}
	return Stage(s), nil
}

// Label is the human-readable name used in messages to the user.
func (s Stage) Label() string {
	switch s {
	case StageAssessSufficiency:
		return "reviewing your requirements"
	case StageAskUser:
		return "asking clarifying questions"
	case StageStartProject:
		return "setting up the project"
	case StageGenerateCode:
		return "generating code"
	case StagePersist:
		return "saving files"
	case StageDeploy:
		return "deploying the bot"
	case StageDiagnose:
		return "checking the bot's logs"
	case StageDebug:
		return "fixing the problem"
	case StageTerminated:
		return "finished"
	}
	return string(s)
}
