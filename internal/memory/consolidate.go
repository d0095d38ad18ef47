package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

var (
	boldFactRe  = regexp.MustCompile(`^\s*-\s*\*\*(.+?)\*\*`)
	keywordRe   = regexp.MustCompile(`^\s*(Decision|Important|TODO|Note|Learned|Remember):\s*(.+)$`)
	dailyLogRe  = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}\.md$`)
	headingRe   = regexp.MustCompile(`^##\s+(.+)$`)
	keyHeadings = []string{"key", "finding", "decision", "action", "insight"}
)

// ConsolidateResult reports one consolidation run.
type ConsolidateResult struct {
	FactsExtracted int
	FactsAdded     int
	DaysProcessed  int
}

// Consolidate extracts facts from daily logs newer than lookbackDays and
// appends the ones MEMORY.md does not already contain under a dated section.
// MEMORY.md is created with a header when absent.
func (e *Engine) Consolidate(lookbackDays int) (ConsolidateResult, error) {
	if lookbackDays <= 0 {
		lookbackDays = 7
	}
	cutoff := time.Now().AddDate(0, 0, -lookbackDays).Format("2006-01-02")

	logDir := filepath.Join(e.root, "memory")
	entries, err := os.ReadDir(logDir)
	if err != nil && !os.IsNotExist(err) {
		return ConsolidateResult{}, fmt.Errorf("read memory dir: %w", err)
	}

	var res ConsolidateResult
	var facts []string
	for _, ent := range entries {
		name := ent.Name()
		if ent.IsDir() || !dailyLogRe.MatchString(name) {
			continue
		}
		if strings.TrimSuffix(name, ".md") < cutoff {
			continue
		}
		content, err := os.ReadFile(filepath.Join(logDir, name))
		if err != nil {
			return ConsolidateResult{}, fmt.Errorf("read daily log %s: %w", name, err)
		}
		facts = append(facts, extractFacts(string(content))...)
		res.DaysProcessed++
	}
	res.FactsExtracted = len(facts)
	if len(facts) == 0 {
		return res, nil
	}

	memPath := filepath.Join(e.root, "MEMORY.md")
	existing, err := os.ReadFile(memPath)
	if err != nil && !os.IsNotExist(err) {
		return res, fmt.Errorf("read MEMORY.md: %w", err)
	}

	haystack := normalize(string(existing))
	var fresh []string
	for _, fact := range facts {
		needle := normalize(fact)
		if needle == "" || strings.Contains(haystack, needle) {
			continue
		}
		fresh = append(fresh, fact)
		haystack += " " + needle
	}
	res.FactsAdded = len(fresh)
	if len(fresh) == 0 {
		return res, nil
	}

	var b strings.Builder
	if len(existing) == 0 {
		b.WriteString("# Long-Term Memory\n")
	} else {
		b.Write(existing)
		if !strings.HasSuffix(string(existing), "\n") {
			b.WriteByte('\n')
		}
	}
	fmt.Fprintf(&b, "\n## Consolidated %s\n\n", time.Now().Format("2006-01-02"))
	for _, fact := range fresh {
		fmt.Fprintf(&b, "- %s\n", fact)
	}
	if err := os.WriteFile(memPath, []byte(b.String()), 0o644); err != nil {
		return res, fmt.Errorf("write MEMORY.md: %w", err)
	}
	return res, nil
}

// extractFacts applies the extraction rules in order per line:
// bold bullets, keyword-prefixed lines, then any non-empty line under a
// heading containing a key word.
func extractFacts(content string) []string {
	var facts []string
	underKeyHeading := false
	for _, line := range strings.Split(content, "\n") {
		if m := headingRe.FindStringSubmatch(line); m != nil {
			underKeyHeading = containsKeyword(m[1])
			continue
		}
		if m := boldFactRe.FindStringSubmatch(line); m != nil {
			facts = append(facts, m[1])
			continue
		}
		if m := keywordRe.FindStringSubmatch(line); m != nil {
			facts = append(facts, strings.TrimSpace(m[2]))
			continue
		}
		if underKeyHeading {
			if trimmed := strings.TrimSpace(line); trimmed != "" {
				facts = append(facts, strings.TrimSpace(strings.TrimPrefix(trimmed, "- ")))
			}
		}
	}
	return facts
}

func containsKeyword(heading string) bool {
	lower := strings.ToLower(heading)
	for _, kw := range keyHeadings {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// normalize lowercases and collapses whitespace for dedup comparison.
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
