package prompt

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

type skillFrontmatter struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// parseSkillFrontmatter extracts the name/description YAML frontmatter
// block from a SKILL.md file's content. Returns false if no well-formed
// frontmatter with both fields is present.
func parseSkillFrontmatter(content string) (skillFrontmatter, bool) {
	const delim = "---"
	rest, ok := strings.CutPrefix(content, delim)
	if !ok {
		return skillFrontmatter{}, false
	}
	end := strings.Index(rest, delim)
	if end < 0 {
		return skillFrontmatter{}, false
	}

	var fm skillFrontmatter
	if err := yaml.Unmarshal([]byte(rest[:end]), &fm); err != nil {
		return skillFrontmatter{}, false
	}
	if fm.Name == "" || fm.Description == "" {
		return skillFrontmatter{}, false
	}
	return fm, true
}

// ScanSkills reads {workspace}/skills/*/SKILL.md, returning one SkillEntry
// per subdirectory with valid frontmatter, sorted by name. Missing or
// unreadable entries are skipped rather than treated as errors — a
// malformed skill shouldn't take down prompt assembly.
func ScanSkills(workspace string) []SkillEntry {
	skillsDir := filepath.Join(workspace, "skills")
	entries, err := os.ReadDir(skillsDir)
	if err != nil {
		return nil
	}

	var skills []SkillEntry
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		relPath := filepath.Join("skills", entry.Name(), "SKILL.md")
		content, err := os.ReadFile(filepath.Join(workspace, relPath))
		if err != nil {
			continue
		}
		fm, ok := parseSkillFrontmatter(string(content))
		if !ok {
			continue
		}
		skills = append(skills, SkillEntry{Name: fm.Name, Description: fm.Description, Path: relPath})
	}

	sort.Slice(skills, func(i, j int) bool { return skills[i].Name < skills[j].Name })
	return skills
}
