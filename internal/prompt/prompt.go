// Package prompt assembles the model-facing prompts for an analysis.
// Assembly is deterministic and side-effect free.
package prompt

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/tbourn/go-screenshot-advisor/internal/domain"
	"github.com/tbourn/go-screenshot-advisor/internal/repo"
)

// defaultSystemPrompt is used when a category has no prompt of its own.
const defaultSystemPrompt = "You are an expert gaming coach for %s. " +
	"You analyse in-game screenshots and give concise, actionable advice. " +
	"Base your answer on what the screenshots show and on the player's profile. " +
	"If something is unclear from the screenshots, say so instead of guessing."

const noTextFallback = "No text could be extracted from the screenshots. " +
	"Answer generically for this category and advice type, and mention that " +
	"the screenshots could not be read."

// Input is everything Build needs.
type Input struct {
	Category    domain.Category
	Advice      domain.Advice
	OCRText     string
	Preferences []repo.PreferenceAnswer
	ImageCount  int
}

// SystemPrompt returns the category's own system prompt, or the default
// coach prompt naming the category.
func SystemPrompt(c domain.Category) string {
	if p := strings.TrimSpace(c.SystemPrompt); p != "" {
		return p
	}
	name := strings.TrimSpace(c.Name)
	if name == "" {
		name = "video games"
	}
	return fmt.Sprintf(defaultSystemPrompt, name)
}

// Build renders the user prompt: the requested advice, the player profile
// and then the extracted text or a generic fallback.
func Build(in Input) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Advice requested: %s\n", strings.TrimSpace(in.Advice.Name))
	if d := strings.TrimSpace(in.Advice.Description); d != "" {
		fmt.Fprintf(&b, "%s\n", d)
	}

	if lines := preferenceLines(in.Preferences); len(lines) > 0 {
		b.WriteString("\nPlayer profile:\n")
		for _, ln := range lines {
			b.WriteString("- ")
			b.WriteString(ln)
			b.WriteByte('\n')
		}
	}

	b.WriteByte('\n')
	text := strings.TrimSpace(in.OCRText)
	switch {
	case text == "":
		b.WriteString(noTextFallback)
	case in.ImageCount > 1:
		fmt.Fprintf(&b, "Text extracted from the %d screenshots:\n%s", in.ImageCount, text)
	default:
		fmt.Fprintf(&b, "Text extracted from the screenshot:\n%s", text)
	}
	return b.String()
}

func preferenceLines(prefs []repo.PreferenceAnswer) []string {
	out := make([]string, 0, len(prefs))
	for _, p := range prefs {
		var answers []string
		for _, a := range p.Answers {
			if a = strings.TrimSpace(a); a != "" {
				answers = append(answers, resolveLabel(p.Question.Options, a))
			}
		}
		if len(answers) == 0 {
			continue
		}
		label := strings.TrimSpace(p.Question.Label)
		if label == "" {
			label = humanize(p.Question.Key)
		}
		out = append(out, fmt.Sprintf("%s: %s", label, strings.Join(answers, ", ")))
	}
	return out
}

// resolveLabel maps an option code to its label. Codes without an option
// are humanized; free-text answers pass through unchanged.
func resolveLabel(opts []domain.PreferenceOption, code string) string {
	for _, o := range opts {
		if o.Code == code && o.Label != "" {
			return o.Label
		}
	}
	if len(opts) == 0 && strings.ContainsAny(code, " .,!?") {
		return code
	}
	return humanize(code)
}

// humanize turns an option code like "hard_core" into "Hard Core".
// A Caser is stateful, so each call gets its own.
func humanize(code string) string {
	s := strings.NewReplacer("_", " ", "-", " ").Replace(code)
	return cases.Title(language.English).String(strings.Join(strings.Fields(s), " "))
}
