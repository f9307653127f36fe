package generate

import (
	"fmt"
	"strings"

	"portfolio-pipeline/internal/models"
)

const (
	defaultTone   = "professional"
	defaultDomain = "software engineering"
)

func heroPrompt(schema models.ContentSchema) string {
	return fmt.Sprintf(`Generate a compelling hero tagline for a %s portfolio.

Context:
- Name: %s
- Top skills: %s
- Number of projects: %d
- Desired tone: %s

Requirements:
- 6 to 18 words
- No cliches, no placeholder text
- No introductory phrases like "Here is"

Return ONLY the tagline text, nothing else.`,
		domainOf(schema),
		nameOf(schema),
		skillsOf(schema),
		len(schema.Projects),
		toneOf(schema))
}

func bioPrompt(schema models.ContentSchema) string {
	return fmt.Sprintf(`Write a professional biography for a %s portfolio.

Context:
- Name: %s
- Role: %s
- Years of experience: %d
- Skills: %s
- Desired tone: %s

Requirements:
- 120 to 280 words, written in first person
- Grounded strictly in the context above - NO fabrication
- Confident and human, no cliches, no repeated sentences
- No introductory phrases, no markdown

Return ONLY the biography text.`,
		domainOf(schema),
		nameOf(schema),
		coalesce(schema.Role, "professional"),
		schema.ExperienceYears,
		skillsOf(schema),
		toneOf(schema))
}

func projectPrompt(schema models.ContentSchema, project models.ProjectInput) string {
	wordRange := map[string]string{
		"short":  "80-100",
		"medium": "100-130",
		"long":   "130-160",
	}[schema.TargetLength]
	if wordRange == "" {
		wordRange = "100-130"
	}
	return fmt.Sprintf(`Enhance this project description for a professional portfolio.

Project title: %s
Original description: %s
Technologies: %s

Requirements:
- Word count: %s words
- Highlight the problem solved and the solution
- Mention technologies naturally in context
- Use active, strong verbs (built, developed, implemented, designed)
- Stay truthful to the original description - NO fabrication
- No introductory phrases like "Here is" or "The description"

Return ONLY the enhanced description.`,
		project.Title,
		project.Description,
		coalesce(strings.Join(project.Technologies, ", "), "Not specified"),
		wordRange)
}

func domainOf(schema models.ContentSchema) string {
	return strings.ReplaceAll(coalesce(schema.Domain, defaultDomain), "_", " ")
}

func nameOf(schema models.ContentSchema) string {
	return coalesce(schema.Name, "Professional")
}

func toneOf(schema models.ContentSchema) string {
	return coalesce(schema.Tone, defaultTone)
}

func skillsOf(schema models.ContentSchema) string {
	skills := schema.Skills
	if len(skills) > 5 {
		skills = skills[:5]
	}
	return coalesce(strings.Join(skills, ", "), "Various technical skills")
}

func coalesce(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
