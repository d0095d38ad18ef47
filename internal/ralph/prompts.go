package ralph

import "strings"

// domainGuidelines are plain-text working rules injected into the work
// prompt, keyed by domain. Unknown domains fall back to general.
var domainGuidelines = map[string]string{
	"coding": strings.Join([]string{
		"- Make the smallest change that completes the task.",
		"- Run the project's tests before declaring a task done.",
		"- Keep commits focused on the current task.",
		"- Record anything surprising in your progress notes.",
	}, "\n"),
	"research": strings.Join([]string{
		"- Cite the sources you relied on.",
		"- Distinguish facts from your own inference.",
		"- Summarize findings before moving to the next question.",
	}, "\n"),
	"ops": strings.Join([]string{
		"- Prefer reversible actions; note how to roll back.",
		"- Check service health after every change.",
		"- Never delete data without a backup.",
	}, "\n"),
	"general": strings.Join([]string{
		"- Work on exactly one task at a time.",
		"- Note what you learned for the next iteration.",
	}, "\n"),
}

// buildWorkPrompt assembles the per-iteration prompt: the task, prior
// learnings, the verification command if any, and domain guidelines.
func buildWorkPrompt(task Task, progress string, cfg Config) string {
	var b strings.Builder
	b.WriteString("You are working through a task list, one task per iteration.\n\n")
	b.WriteString("Current task: " + task.Text + "\n")

	if trimmed := strings.TrimSpace(progress); trimmed != "" {
		b.WriteString("\nProgress notes from earlier iterations:\n\n")
		b.WriteString(trimmed)
		b.WriteString("\n")
	}

	if cfg.VerifyCommand != "" {
		b.WriteString("\nYour work will be verified with: " + cfg.VerifyCommand + "\n")
		b.WriteString("Make sure it passes before you finish.\n")
	}

	guidelines, ok := domainGuidelines[cfg.Domain]
	if !ok {
		guidelines = domainGuidelines["general"]
	}
	b.WriteString("\nGuidelines:\n" + guidelines + "\n")
	b.WriteString("\nComplete only this task, then stop.")
	return b.String()
}
