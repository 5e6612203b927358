package builder

import (
	"fmt"
	"strings"

	"botbuilder/internal/session"
)

const assessPromptTemplate = `You gather requirements for a Telegram bot that a non-programmer wants built.

You receive the user's first description and the questions asked so far with their answers.

Decide whether this is enough to write both
  - a summary: a plain-language overview of what the bot does, for the owner, and
  - a TZ: a technical specification a developer can implement without further questions
    (features, expected behaviour, libraries or external APIs, edge cases; no code).

Hard rule: if the question history has more than %d entries you must produce the summary and the TZ
now, filling gaps with sensible assumptions.

Otherwise, if details are missing, ask a few short, specific questions instead.

Reply with a single JSON object and nothing else:
{"enough": false, "questions": ["...", "..."], "summary": null, "TZ": null}
or
{"enough": true, "questions": null, "summary": "...", "TZ": "..."}
Use JSON literals true, false and null.`

const generatePromptTemplate = `You are a senior Python developer who writes complete Telegram bots with aiogram 3.

Build the whole project for the specification you are given. Reply with one JSON object whose keys are
relative file paths and whose values are the full file contents. No commentary, no Markdown outside the files.

The project must contain at least: %s.
  - main.py is the entry point.
  - requirements.txt lists every dependency, one per line (aiogram and python-dotenv at least).
  - README.md explains what the bot does and how to run it.
  - Dockerfile builds an image that starts the bot with python main.py.
Put extra modules in packages such as bot/handlers/ when it helps.

The bot token is provided in the environment variable TELEGRAM_BOT_TOKEN (loaded with python-dotenv from %s
when present). Never hard-code it and never emit the %s file yourself.
Only use current, non-deprecated aiogram and Python APIs.

Example: {"main.py": "...", "bot/handlers/start.py": "...", "requirements.txt": "aiogram\npython-dotenv\n"}`

const patchPromptTemplate = `You are a senior Python developer maintaining a Telegram bot written with aiogram 3.

You receive the specification, the current project files, the latest container logs and a description of a
problem or requested change. Return only the files that must change, as one JSON object mapping relative file
path to the complete new content of that file. Files you do not return are kept as they are.

The token comes from the TELEGRAM_BOT_TOKEN environment variable. Never emit the %s file.
No commentary, no Markdown outside the files.`

const diagnosePrompt = `You review logs of a Telegram bot (Python, aiogram) running in a Docker container.

Look for exceptions, crashes, import or dependency errors, configuration mistakes and anything that keeps the
bot from working as the user expects. Ignore ordinary startup and polling messages.

Reply with a single JSON object and nothing else:
{"has_errors": true|false, "problem_summary": "short description of what is wrong and how to fix it" or null}`

const (
	feedbackQuestion = "Your bot is running. Is everything working as expected? Press Enter if it is, or describe what should change:"
	retryQuestion    = "Something went wrong while %s: %s. Would you like to retry? [Y/n]"
)

func assessSystemPrompt(maxQuestions int) string {
	return fmt.Sprintf(assessPromptTemplate, maxQuestions)
}

func generateSystemPrompt(required []string, secretsFile string) string {
	return fmt.Sprintf(generatePromptTemplate, strings.Join(required, ", "), secretsFile, secretsFile)
}

func patchSystemPrompt(secretsFile string) string {
	return fmt.Sprintf(patchPromptTemplate, secretsFile)
}

func assessContext(s *session.State, forced bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "first_description:\n%s\n\n", s.FirstDescription)
	b.WriteString("qa_history:\n")
	writeQA(&b, s.QAHistory)
	fmt.Fprintf(&b, "\nqa_history entries: %d\n", len(s.QAHistory))
	if forced {
		b.WriteString("The question limit is reached: produce the summary and the TZ now.\n")
	}
	return b.String()
}

func generateContext(s *session.State) string {
	var b strings.Builder
	if s.Summary != nil {
		fmt.Fprintf(&b, "Summary:\n%s\n\n", *s.Summary)
	}
	if s.TechnicalSpec != nil {
		fmt.Fprintf(&b, "Technical specification:\n%s\n", *s.TechnicalSpec)
	}
	return b.String()
}

func patchContext(s *session.State, files map[string]string) string {
	var b strings.Builder
	b.WriteString(generateContext(s))
	b.WriteString("\nProblem to fix:\n")
	if s.ProblemSummary != nil {
		b.WriteString(*s.ProblemSummary)
	}
	b.WriteString("\n\nLatest container logs:\n")
	b.WriteString(s.LastLogs)
	b.WriteString("\n\nCurrent files:\n")
	for _, p := range sortedKeys(files) {
		fmt.Fprintf(&b, "----- %s -----\n%s\n", p, files[p])
	}
	return b.String()
}

func diagnoseContext(s *session.State) string {
	var b strings.Builder
	b.WriteString("What the user asked for:\n")
	b.WriteString(s.FirstDescription)
	b.WriteString("\n\n")
	writeQA(&b, s.QAHistory)
	b.WriteString("\nContainer logs:\n")
	if strings.TrimSpace(s.LastLogs) == "" {
		b.WriteString("(no output)\n")
	} else {
		b.WriteString(s.LastLogs)
	}
	return b.String()
}

func writeQA(b *strings.Builder, qa []session.QA) {
	if len(qa) == 0 {
		b.WriteString("(none)\n")
		return
	}
	for _, e := range qa {
		fmt.Fprintf(b, "Q: %s\nA: %s\n", e.Question, e.Answer)
	}
}
