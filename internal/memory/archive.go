package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ArchiveResult reports one archival run.
type ArchiveResult struct {
	Archived         bool
	SectionsArchived int
	NewSize          int
}

// Archive rolls middle sections of MEMORY.md out to
// memory/archive/<today>.md when the file exceeds threshold bytes. The
// preamble, the first section and as many trailing sections as fit are kept;
// a note marks where content moved. Files with two or fewer sections are
// left alone.
func (e *Engine) Archive(threshold int) (ArchiveResult, error) {
	memPath := filepath.Join(e.root, "MEMORY.md")
	content, err := os.ReadFile(memPath)
	if err != nil {
		if os.IsNotExist(err) {
			return ArchiveResult{}, nil
		}
		return ArchiveResult{}, fmt.Errorf("read MEMORY.md: %w", err)
	}
	if len(content) <= threshold {
		return ArchiveResult{NewSize: len(content)}, nil
	}

	preamble, sections := splitSections(string(content))
	if len(sections) <= 2 {
		return ArchiveResult{NewSize: len(content)}, nil
	}

	today := time.Now().Format("2006-01-02")
	note := fmt.Sprintf("\n> Sections archived to memory/archive/%s.md\n", today)

	// Keep preamble + first section + the largest trailing run that fits.
	keepTail := len(sections) - 2
	for ; keepTail >= 0; keepTail-- {
		size := len(preamble) + len(sections[0]) + len(note)
		for _, s := range sections[len(sections)-keepTail:] {
			size += len(s)
		}
		if size <= threshold {
			break
		}
	}
	if keepTail < 0 {
		keepTail = 0
	}

	middle := sections[1 : len(sections)-keepTail]
	if len(middle) == 0 {
		return ArchiveResult{NewSize: len(content)}, nil
	}

	archiveDir := filepath.Join(e.root, "memory", "archive")
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return ArchiveResult{}, fmt.Errorf("create archive dir: %w", err)
	}
	archivePath := filepath.Join(archiveDir, today+".md")
	f, err := os.OpenFile(archivePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return ArchiveResult{}, fmt.Errorf("open archive file: %w", err)
	}
	for _, s := range middle {
		if _, err := f.WriteString(s); err != nil {
			f.Close()
			return ArchiveResult{}, fmt.Errorf("append archive: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		return ArchiveResult{}, fmt.Errorf("close archive: %w", err)
	}

	var b strings.Builder
	b.WriteString(preamble)
	b.WriteString(sections[0])
	b.WriteString(note)
	for _, s := range sections[len(sections)-keepTail:] {
		b.WriteString(s)
	}
	if err := os.WriteFile(memPath, []byte(b.String()), 0o644); err != nil {
		return ArchiveResult{}, fmt.Errorf("rewrite MEMORY.md: %w", err)
	}

	return ArchiveResult{
		Archived:         true,
		SectionsArchived: len(middle),
		NewSize:          b.Len(),
	}, nil
}

// splitSections cuts markdown at "## " headings. The preamble is everything
// before the first heading; each section includes its heading line.
func splitSections(content string) (preamble string, sections []string) {
	lines := strings.SplitAfter(content, "\n")
	var cur strings.Builder
	inSection := false
	for _, line := range lines {
		if strings.HasPrefix(line, "## ") {
			if inSection {
				sections = append(sections, cur.String())
			} else {
				preamble = cur.String()
				inSection = true
			}
			cur.Reset()
		}
		cur.WriteString(line)
	}
	if inSection {
		sections = append(sections, cur.String())
	} else {
		preamble = cur.String()
	}
	return preamble, sections
}
