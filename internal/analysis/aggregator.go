package analysis

import (
	"sort"
	"time"

	"github.com/aircode610/ShipSure/internal/models"
)

// AssembleReport merges finished task entries into the final report
// document. Every selected PR keeps exactly one entry, failed ones
// included; entries are ordered by PR number for a stable document.
func AssembleReport(repository string, entries []*models.PullRequestReport) *models.Report {
	pullRequests := make([]models.PullRequestReport, 0, len(entries))
	for _, entry := range entries {
		if entry == nil {
			continue
		}
		pullRequests = append(pullRequests, *entry)
	}

	sort.Slice(pullRequests, func(i, j int) bool {
		return pullRequests[i].ID < pullRequests[j].ID
	})

	return &models.Report{
		Repository:   repository,
		ProcessedAt:  time.Now().UTC(),
		PullRequests: pullRequests,
	}
}
