package models

// FragmentKind identifies one independently generated piece of content.
type FragmentKind string

const (
	KindHero    FragmentKind = "hero"
	KindBio     FragmentKind = "bio"
	KindProject FragmentKind = "project"
)

// ProjectInput is the factual project record carried in a content schema.
type ProjectInput struct {
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Technologies []string `json:"technologies,omitempty"`
}

// ContentSchema carries the structured hints a generation request is built
// from: identity, domain, desired tone/length, and the raw factual context
// recovered from the source document.
type ContentSchema struct {
	Name            string         `json:"name"`
	Role            string         `json:"role,omitempty"`
	Domain          string         `json:"domain,omitempty"`
	Tone            string         `json:"tone,omitempty"`
	TargetLength    string         `json:"target_length,omitempty"`
	ExperienceYears int            `json:"experience_years,omitempty"`
	Skills          []string       `json:"skills,omitempty"`
	Projects        []ProjectInput `json:"projects,omitempty"`
	RawContext      string         `json:"raw_context,omitempty"`
}

// GenerationResult is the accepted output for a single fragment. Ephemeral
// outside the response cache.
type GenerationResult struct {
	Kind  FragmentKind `json:"kind"`
	Text  string       `json:"text"`
	Score float64      `json:"score"`
}

// Hero is the generated hero section of a portfolio.
type Hero struct {
	Name    string `json:"name"`
	Tagline string `json:"tagline"`
	Title   string `json:"title,omitempty"`
}

// Project is a generated (or fallback) project entry.
type Project struct {
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Technologies []string `json:"technologies,omitempty"`
	Enhanced     bool     `json:"enhanced"`
}

// FragmentReport is the quality gate verdict for one fragment.
type FragmentReport struct {
	Score  float64  `json:"score"`
	Passed bool     `json:"passed"`
	Issues []string `json:"issues,omitempty"`
}

// ValidationReport aggregates fragment verdicts into the portfolio score.
type ValidationReport struct {
	Hero     FragmentReport `json:"hero"`
	Bio      FragmentReport `json:"bio"`
	Projects FragmentReport `json:"projects"`
	Score    float64        `json:"score"`
	Passed   bool           `json:"passed"`
}

// Portfolio is the structured content artifact produced by a job.
type Portfolio struct {
	Hero       Hero              `json:"hero"`
	Bio        string            `json:"bio"`
	Projects   []Project         `json:"projects"`
	Skills     []string          `json:"skills,omitempty"`
	Validation *ValidationReport `json:"validation,omitempty"`
}
