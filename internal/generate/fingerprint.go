package generate

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"portfolio-pipeline/internal/models"
)

// Fingerprint derives the cache key for a hero or bio request: a stable
// hash over the fragment kind and the normalized schema fields that shape
// its prompt. Two schemas differing only in irrelevant fields share a key.
func Fingerprint(kind models.FragmentKind, schema models.ContentSchema) string {
	parts := []string{
		string(kind),
		normalize(schema.Name),
		normalize(schema.Role),
		normalize(schema.Domain),
		normalize(schema.Tone),
		normalize(schema.TargetLength),
		strconv.Itoa(schema.ExperienceYears),
		normalizeList(schema.Skills, 5),
	}
	return digest(parts)
}

// ProjectFingerprint keys a single project enhancement request. The original
// description is truncated so trailing edits do not defeat the cache.
func ProjectFingerprint(schema models.ContentSchema, project models.ProjectInput) string {
	desc := normalize(project.Description)
	if len(desc) > 100 {
		desc = desc[:100]
	}
	parts := []string{
		string(models.KindProject),
		normalize(project.Title),
		desc,
		normalizeList(project.Technologies, 5),
		normalize(schema.Tone),
		normalize(schema.TargetLength),
	}
	return digest(parts)
}

func digest(parts []string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func normalizeList(items []string, limit int) string {
	if len(items) > limit {
		items = items[:limit]
	}
	normalized := make([]string, 0, len(items))
	for _, item := range items {
		normalized = append(normalized, normalize(item))
	}
	return strings.Join(normalized, ",")
}
