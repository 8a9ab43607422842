package prompt

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseSkillFrontmatter_ExtractsNameAndDescription(t *testing.T) {
	content := "---\nname: tmux\ndescription: Drive a terminal multiplexer\n---\n\n# Using tmux\n"
	fm, ok := parseSkillFrontmatter(content)
	if !ok {
		t.Fatalf("expected frontmatter to parse")
	}
	if fm.Name != "tmux" || fm.Description != "Drive a terminal multiplexer" {
		t.Fatalf("unexpected frontmatter: %+v", fm)
	}
}

func TestParseSkillFrontmatter_MissingDelimiterFails(t *testing.T) {
	if _, ok := parseSkillFrontmatter("# Just a heading, no frontmatter"); ok {
		t.Fatalf("expected parse to fail without frontmatter")
	}
}

func TestParseSkillFrontmatter_MissingDescriptionFails(t *testing.T) {
	content := "---\nname: tmux\n---\nbody"
	if _, ok := parseSkillFrontmatter(content); ok {
		t.Fatalf("expected parse to fail without description")
	}
}

func TestScanSkills_FindsWellFormedAndSkipsMalformed(t *testing.T) {
	workspace := t.TempDir()

	good := filepath.Join(workspace, "skills", "tmux")
	if err := os.MkdirAll(good, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(good, "SKILL.md"), []byte("---\nname: tmux\ndescription: Drive a terminal multiplexer\n---\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	bad := filepath.Join(workspace, "skills", "broken")
	if err := os.MkdirAll(bad, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(bad, "SKILL.md"), []byte("no frontmatter here"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	skills := ScanSkills(workspace)
	if len(skills) != 1 {
		t.Fatalf("expected exactly one well-formed skill, got %d: %+v", len(skills), skills)
	}
	if skills[0].Name != "tmux" {
		t.Fatalf("expected tmux skill, got %+v", skills[0])
	}
}

func TestScanSkills_MissingDirectoryReturnsNil(t *testing.T) {
	skills := ScanSkills(t.TempDir())
	if skills != nil {
		t.Fatalf("expected nil for workspace with no skills dir, got %+v", skills)
	}
}
