// Package stats derives dashboard figures from the full job collection.
package stats

import (
	"math"

	"github.com/justsurfingit/career-tracker/internal/models"
)

// Chart colors, one per status.
var statusColors = map[models.Status]string{
	models.StatusApplied:      "#007bff",
	models.StatusInterviewing: "#ffc107",
	models.StatusOffer:        "#28a745",
	models.StatusRejected:     "#dc3545",
}

// Summary is everything the dashboard shows above the job list.
type Summary struct {
	Total       int                   `json:"total"`
	Interviews  int                   `json:"interviews"`
	SuccessRate int                   `json:"successRate"`
	ByStatus    map[models.Status]int `json:"byStatus"`
	Chart       ChartSeries           `json:"chart"`
}

// ChartSeries is a proportion chart in [Applied, Interviewing, Offer, Rejected] order.
type ChartSeries struct {
	Labels []models.Status `json:"labels"`
	Data   []int           `json:"data"`
	Colors []string        `json:"colors"`
}

// Summarize recomputes the summary from scratch. Records with a status
// outside the enum are counted in Total only.
func Summarize(jobs []models.Job) Summary {
	byStatus := make(map[models.Status]int, 4)
	for _, s := range models.Statuses() {
		byStatus[s] = 0
	}
	for _, j := range jobs {
		if _, ok := byStatus[j.Status]; ok {
			byStatus[j.Status]++
		}
	}

	total := len(jobs)
	interviews := byStatus[models.StatusInterviewing]

	return Summary{
		Total:       total,
		Interviews:  interviews,
		SuccessRate: SuccessRate(interviews, total),
		ByStatus:    byStatus,
		Chart:       chartSeries(byStatus),
	}
}

// SuccessRate is round(100 * interviews / total), 0 for an empty collection.
func SuccessRate(interviews, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(interviews) / float64(total) * 100))
}

func chartSeries(byStatus map[models.Status]int) ChartSeries {
	order := models.Statuses()
	series := ChartSeries{
		Labels: order,
		Data:   make([]int, len(order)),
		Colors: make([]string, len(order)),
	}
	for i, s := range order {
		series.Data[i] = byStatus[s]
		series.Colors[i] = statusColors[s]
	}
	return series
}
