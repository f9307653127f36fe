package quality

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"portfolio-pipeline/internal/models"
)

// Scoring thresholds. Fragments pass at or above PassScore; a whole
// portfolio is accepted at or above AggregatePassScore.
const (
	MinTaglineWords = 6
	MaxTaglineWords = 18
	MinBioWords     = 120
	MaxBioWords     = 280
	MinProjectWords = 40

	PassScore          = 0.6
	AggregatePassScore = 0.70

	heroWeight    = 0.25
	bioWeight     = 0.35
	projectWeight = 0.40

	// Score assigned to the projects slot when there are no projects.
	emptyProjectsScore = 0.4
)

var placeholderPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\[.*?\]`),
	regexp.MustCompile(`lorem ipsum`),
	regexp.MustCompile(`\b(todo|fixme|tbd)\b`),
	regexp.MustCompile(`sample text`),
	regexp.MustCompile(`example\.com`),
	regexp.MustCompile(`your (name|project|company)`),
}

var firstPersonMarkers = []string{" i ", " my ", " i'm ", " i've "}

// Gate scores generated content fragments against deterministic rules.
// Evaluation is a pure function of its inputs; identical inputs always
// yield identical verdicts.
type Gate struct{}

func NewGate() *Gate { return &Gate{} }

// EvaluateHero scores a hero tagline. The schema contributes the name check.
func (g *Gate) EvaluateHero(tagline string, schema models.ContentSchema) models.FragmentReport {
	var issues []string
	score := 1.0

	tagline = strings.TrimSpace(tagline)
	switch wc := wordCount(tagline); {
	case wc < MinTaglineWords:
		issues = append(issues, "Tagline too short")
		score -= 0.3
	case wc > MaxTaglineWords:
		issues = append(issues, "Tagline too long")
		score -= 0.2
	}

	if strings.TrimSpace(schema.Name) == "" {
		issues = append(issues, "Missing name")
		score -= 0.3
	}

	if hasPlaceholders(tagline) {
		issues = append(issues, "Contains placeholder text")
		score -= 0.5
	}

	return finalize(score, issues)
}

// EvaluateBio scores a biography: length, first-person voice, repetition,
// and placeholder text.
func (g *Gate) EvaluateBio(bio string) models.FragmentReport {
	var issues []string
	score := 1.0

	switch wc := wordCount(bio); {
	case wc < MinBioWords:
		issues = append(issues, "Bio too short")
		score -= 0.3
	case wc > MaxBioWords:
		issues = append(issues, "Bio too long")
		score -= 0.1
	}

	if hasPlaceholders(bio) {
		issues = append(issues, "Contains placeholder text")
		score -= 0.5
	}

	if !isFirstPerson(bio) {
		issues = append(issues, "Not written in first person")
		score -= 0.2
	}

	if hasDuplicateSentences(bio) {
		issues = append(issues, "Repetitive phrasing detected")
		score -= 0.1
	}

	return finalize(score, issues)
}

// EvaluateProject scores a single project entry.
func (g *Gate) EvaluateProject(project models.Project) models.FragmentReport {
	var issues []string
	score := 1.0

	if strings.TrimSpace(project.Title) == "" {
		issues = append(issues, "Missing title")
		score -= 0.3
	}

	if wordCount(project.Description) < MinProjectWords {
		issues = append(issues, "Description too short")
		score -= 0.3
	}

	if hasPlaceholders(project.Description) {
		issues = append(issues, "Contains placeholder text")
		score -= 0.5
	}

	if len(project.Technologies) == 0 {
		issues = append(issues, "Missing tech stack")
		score -= 0.1
	}

	return finalize(score, issues)
}

// EvaluateProjects averages per-project scores; an empty list scores a flat
// value rather than zero so missing projects degrade, not sink, a portfolio.
func (g *Gate) EvaluateProjects(projects []models.Project) models.FragmentReport {
	if len(projects) == 0 {
		return finalize(emptyProjectsScore, []string{"No projects provided"})
	}

	var sum float64
	var issues []string
	for i, p := range projects {
		rep := g.EvaluateProject(p)
		sum += rep.Score
		if !rep.Passed {
			for _, issue := range rep.Issues {
				issues = append(issues, projectIssue(i, issue))
			}
		}
	}
	return finalize(sum/float64(len(projects)), issues)
}

// Aggregate computes the weighted portfolio verdict from its fragments.
func (g *Gate) Aggregate(p *models.Portfolio, schema models.ContentSchema) models.ValidationReport {
	hero := g.EvaluateHero(p.Hero.Tagline, schema)
	bio := g.EvaluateBio(p.Bio)
	projects := g.EvaluateProjects(p.Projects)

	score := hero.Score*heroWeight + bio.Score*bioWeight + projects.Score*projectWeight
	return models.ValidationReport{
		Hero:     hero,
		Bio:      bio,
		Projects: projects,
		Score:    round3(score),
		Passed:   score >= AggregatePassScore,
	}
}

func finalize(score float64, issues []string) models.FragmentReport {
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return models.FragmentReport{
		Score:  round3(score),
		Passed: score >= PassScore,
		Issues: issues,
	}
}

func wordCount(text string) int {
	return len(strings.Fields(text))
}

func hasPlaceholders(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range placeholderPatterns {
		if p.MatchString(lower) {
			return true
		}
	}
	return false
}

func isFirstPerson(text string) bool {
	lower := " " + strings.ToLower(text) + " "
	for _, marker := range firstPersonMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func hasDuplicateSentences(text string) bool {
	seen := make(map[string]struct{})
	for _, s := range strings.Split(text, ".") {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			return true
		}
		seen[s] = struct{}{}
	}
	return false
}

func projectIssue(index int, issue string) string {
	return fmt.Sprintf("Project %d: %s", index, issue)
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
