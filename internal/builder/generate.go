package builder

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"botbuilder/internal/ai"
)

// GenerationScope selects full project generation or a patch of changed
// files.
type GenerationScope int

const (
	ScopeFull GenerationScope = iota
	ScopePatch
)

func (s GenerationScope) stage() Stage {
	if s == ScopePatch {
		return StageDebug
	}
	return StageGenerateCode
}

// generateFiles asks the oracle for files. Full scope must return the
// required set; patch scope sends the files currently on disk and returns
// only what changed. The secrets file is never accepted from the oracle.
func (m *Machine) generateFiles(ctx context.Context, scope GenerationScope) (ai.FileBundle, error) {
	stage := scope.stage()

	var system, prompt string
	switch scope {
	case ScopePatch:
		current, err := m.deps.Store.ReadAll(ctx)
		if err != nil {
			return nil, storeErr(stage, "read project files", err)
		}
		system = patchSystemPrompt(m.cfg.SecretsFile)
		prompt = patchContext(m.state, current)
	default:
		system = generateSystemPrompt(m.cfg.RequiredFiles, m.cfg.SecretsFile)
		prompt = generateContext(m.state)
	}

	raw, err := m.deps.Oracle.Generate(ctx, system, prompt)
	if err != nil {
		return nil, oracleErr(stage, err)
	}
	files, err := ai.ParseFileBundle(raw)
	if err != nil {
		return nil, oracleErr(stage, err)
	}

	if _, ok := files[m.cfg.SecretsFile]; ok {
		m.log.Warn("dropping generated secrets file", zap.String("path", m.cfg.SecretsFile))
		delete(files, m.cfg.SecretsFile)
	}
	if len(files) == 0 {
		return nil, stageErr(stage, KindOracleContent, "no files returned", nil)
	}
	if scope == ScopeFull {
		if missing := files.Missing(m.cfg.RequiredFiles); len(missing) > 0 {
			return nil, stageErr(stage, KindOracleContent, "missing required files "+strings.Join(missing, ", "), nil)
		}
	}
	return files, nil
}
