// Package schema derives a generation schema from extracted document
// text. The heuristics are deterministic on purpose so the same upload
// always produces the same fingerprints downstream.
package schema

import (
	"regexp"
	"strings"

	"portfolio-pipeline/internal/models"
)

const (
	maxSkills          = 20
	minProjectDescLen  = 10
	maxRawContextBytes = 4000
)

// skillAliases maps common shorthand to a canonical spelling so skill
// lists dedupe cleanly.
var skillAliases = map[string]string{
	"js":      "JavaScript",
	"ts":      "TypeScript",
	"py":      "Python",
	"python3": "Python",
	"reactjs": "React",
	"nodejs":  "Node.js",
	"k8s":     "Kubernetes",
	"aws":     "AWS",
	"gcp":     "GCP",
	"sql":     "SQL",
	"api":     "API",
	"golang":  "Go",
}

var (
	yearsRe   = regexp.MustCompile(`(?i)\b(\d{1,2})\+?\s*(?:years?|yrs?)\b`)
	emailRe   = regexp.MustCompile(`\S+@\S+\.\S+`)
	urlRe     = regexp.MustCompile(`(?i)\bhttps?://\S+`)
	bulletRe  = regexp.MustCompile(`^[-*\x{2022}\x{2023}\x{25e6}]\s*`)
	headingRe = regexp.MustCompile(`(?i)^(skills?|technologies|tech stack|projects?|experience|work experience|education|summary|about|contact)\s*:?\s*$`)
)

// roleKeywords flag a line as a job title rather than a name.
var roleKeywords = []string{
	"engineer", "developer", "designer", "manager", "scientist",
	"architect", "analyst", "consultant", "lead", "specialist",
	"administrator", "researcher", "writer", "marketer", "founder",
}

// Build parses extracted text into a ContentSchema. It never fails;
// missing sections simply leave zero values for the generation prompts
// to work around.
func Build(text string) models.ContentSchema {
	lines := strings.Split(text, "\n")

	s := models.ContentSchema{
		Tone:         "professional",
		TargetLength: "medium",
		RawContext:   truncate(text, maxRawContextBytes),
	}
	s.Name = findName(lines)
	s.Role = findRole(lines)
	s.ExperienceYears = findYears(text)
	s.Skills = findSkills(lines)
	s.Projects = findProjects(lines)
	s.Domain = domainFor(s.Role, s.Skills)
	return s
}

// findName takes the first short line that is not a heading, a contact
// detail, or an obvious job title.
func findName(lines []string) string {
	for _, line := range lines[:min(len(lines), 10)] {
		line = strings.TrimSpace(bulletRe.ReplaceAllString(line, ""))
		if line == "" || headingRe.MatchString(line) {
			continue
		}
		if emailRe.MatchString(line) || urlRe.MatchString(line) {
			continue
		}
		words := strings.Fields(line)
		if len(words) < 1 || len(words) > 4 {
			continue
		}
		if isRoleLine(line) || strings.ContainsAny(line, "0123456789@") {
			continue
		}
		return line
	}
	return ""
}

func findRole(lines []string) string {
	for _, line := range lines[:min(len(lines), 15)] {
		line = strings.TrimSpace(bulletRe.ReplaceAllString(line, ""))
		if line == "" || len(strings.Fields(line)) > 8 {
			continue
		}
		if isRoleLine(line) {
			return line
		}
	}
	return ""
}

func isRoleLine(line string) bool {
	lower := strings.ToLower(line)
	for _, kw := range roleKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func findYears(text string) int {
	m := yearsRe.FindStringSubmatch(text)
	if m == nil {
		return 0
	}
	years := 0
	for _, r := range m[1] {
		years = years*10 + int(r-'0')
	}
	if years > 60 {
		return 0
	}
	return years
}

// findSkills collects entries under a skills heading. Comma-separated
// lines and one-per-line bullets are both accepted.
func findSkills(lines []string) []string {
	section := sectionLines(lines, "skills", "technologies", "tech stack")
	seen := make(map[string]bool)
	var out []string
	for _, line := range section {
		for _, entry := range strings.FieldsFunc(line, func(r rune) bool {
			return r == ',' || r == ';' || r == '|'
		}) {
			skill := normalizeSkill(entry)
			if skill == "" || seen[strings.ToLower(skill)] {
				continue
			}
			seen[strings.ToLower(skill)] = true
			out = append(out, skill)
			if len(out) == maxSkills {
				return out
			}
		}
	}
	return out
}

func normalizeSkill(raw string) string {
	raw = strings.TrimSpace(bulletRe.ReplaceAllString(strings.TrimSpace(raw), ""))
	if len(raw) < 2 || len(raw) > 40 {
		return ""
	}
	if canonical, ok := skillAliases[strings.ToLower(raw)]; ok {
		return canonical
	}
	return raw
}

// findProjects reads the projects section: a non-bullet line starts a
// project (title), bullets and following prose accumulate into its
// description. Technologies are matched against the skill aliases plus
// anything after a "tech:" marker.
func findProjects(lines []string) []models.ProjectInput {
	section := sectionLines(lines, "projects", "project")
	var (
		out []models.ProjectInput
		cur *models.ProjectInput
	)
	flush := func() {
		if cur == nil {
			return
		}
		cur.Description = strings.TrimSpace(cur.Description)
		if len(cur.Description) >= minProjectDescLen {
			out = append(out, *cur)
		}
		cur = nil
	}
	for _, line := range section {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			flush()
			continue
		}
		isBullet := bulletRe.MatchString(trimmed)
		body := strings.TrimSpace(bulletRe.ReplaceAllString(trimmed, ""))
		if techs, ok := techLine(body); ok && cur != nil {
			cur.Technologies = append(cur.Technologies, techs...)
			continue
		}
		if !isBullet && looksLikeTitle(body) {
			flush()
			cur = &models.ProjectInput{Title: body}
			continue
		}
		if cur == nil {
			cur = &models.ProjectInput{}
		}
		if cur.Description != "" {
			cur.Description += " "
		}
		cur.Description += body
	}
	flush()
	return out
}

func looksLikeTitle(line string) bool {
	words := strings.Fields(line)
	return len(words) >= 1 && len(words) <= 8 && !strings.HasSuffix(line, ".")
}

func techLine(line string) ([]string, bool) {
	lower := strings.ToLower(line)
	for _, prefix := range []string{"tech:", "technologies:", "stack:", "built with:"} {
		if strings.HasPrefix(lower, prefix) {
			rest := line[len(prefix):]
			var techs []string
			for _, entry := range strings.Split(rest, ",") {
				if t := normalizeSkill(entry); t != "" {
					techs = append(techs, t)
				}
			}
			return techs, true
		}
	}
	return nil, false
}

// sectionLines returns the lines between a heading matching one of the
// given names and the next heading.
func sectionLines(lines []string, names ...string) []string {
	var out []string
	in := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if headingRe.MatchString(trimmed) {
			lower := strings.ToLower(strings.TrimRight(trimmed, ": "))
			matched := false
			for _, name := range names {
				if strings.HasPrefix(lower, name) {
					matched = true
					break
				}
			}
			in = matched
			continue
		}
		if in {
			out = append(out, line)
		}
	}
	return out
}

func domainFor(role string, skills []string) string {
	haystack := strings.ToLower(role + " " + strings.Join(skills, " "))
	switch {
	case strings.Contains(haystack, "data") || strings.Contains(haystack, "machine learning"):
		return "data"
	case strings.Contains(haystack, "design") || strings.Contains(haystack, "ux"):
		return "design"
	case strings.Contains(haystack, "market"):
		return "marketing"
	case strings.Contains(haystack, "engineer") || strings.Contains(haystack, "developer") || strings.Contains(haystack, "software"):
		return "software"
	default:
		return ""
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := s[:n]
	if i := strings.LastIndexByte(cut, '\n'); i > n/2 {
		cut = cut[:i]
	}
	return cut
}
