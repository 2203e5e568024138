package regen

import (
	"sort"
	"strings"

	"github.com/velocols/colprofile/internal/models"
)

// PriorityFunc returns cols in the order their work should be submitted.
// Implementations must not modify the input slice.
type PriorityFunc func(cols []models.Col) []models.Col

// WellKnownPriority puts cols whose name contains one of names (case-insensitive)
// first. Within each group cols are ordered by descending catalogued gradient.
func WellKnownPriority(names []string) PriorityFunc {
	lowered := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n != "" {
			lowered = append(lowered, n)
		}
	}

	wellKnown := func(c *models.Col) bool {
		name := strings.ToLower(c.Name)
		for _, n := range lowered {
			if strings.Contains(name, n) {
				return true
			}
		}
		return false
	}

	return func(cols []models.Col) []models.Col {
		ordered := make([]models.Col, len(cols))
		copy(ordered, cols)

		known := make(map[string]bool, len(ordered))
		for i := range ordered {
			known[ordered[i].ID] = wellKnown(&ordered[i])
		}

		sort.SliceStable(ordered, func(i, j int) bool {
			ki, kj := known[ordered[i].ID], known[ordered[j].ID]
			if ki != kj {
				return ki
			}
			return ordered[i].AvgGrade > ordered[j].AvgGrade
		})
		return ordered
	}
}

// ByGradient orders cols by descending catalogued gradient only.
func ByGradient(cols []models.Col) []models.Col {
	return WellKnownPriority(nil)(cols)
}

// Sample returns the n steepest cols. n <= 0 returns all of them.
func Sample(cols []models.Col, n int) []models.Col {
	ordered := ByGradient(cols)
	if n > 0 && len(ordered) > n {
		ordered = ordered[:n]
	}
	return ordered
}
