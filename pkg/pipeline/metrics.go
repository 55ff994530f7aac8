package pipeline

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes refresh counters and latencies to Prometheus
type Metrics struct {
	// Source files by outcome: ingested, failed, skipped
	FilesTotal *prometheus.CounterVec

	// Rows written per layer: bronze, silver, gold
	RecordsTotal *prometheus.CounterVec

	// Value rewrites recorded while building silver
	CleaningOperations prometheus.Counter

	// Average silver quality score per refresh
	QualityScore prometheus.Histogram

	// Versioned table changes by kind: inserted, closed, deleted, unchanged, late, rejected
	SCDMutations *prometheus.CounterVec

	// Errors by category
	RefreshErrors *prometheus.CounterVec

	// End-to-end refresh latency
	RefreshDuration prometheus.Histogram

	// Unix time of the last successful refresh
	LastRefresh prometheus.Gauge

	// Grant lookups that fell back to masked_only
	AccessFallbacks prometheus.Counter
}

// NewMetrics creates a Metrics instance registered with reg. A nil reg
// registers with the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		FilesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cleansing_files_total",
			Help: "Total source files seen by outcome",
		}, []string{"status"}),

		RecordsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cleansing_records_total",
			Help: "Total records written by layer",
		}, []string{"layer"}),

		CleaningOperations: factory.NewCounter(prometheus.CounterOpts{
			Name: "cleansing_cleaning_operations_total",
			Help: "Total value rewrites recorded while building silver",
		}),

		QualityScore: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "cleansing_quality_score",
			Help:    "Average silver quality score per refresh",
			Buckets: []float64{50, 60, 70, 80, 90, 95, 99, 100},
		}),

		SCDMutations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cleansing_scd_changes_total",
			Help: "Total versioned table changes by kind",
		}, []string{"kind"}),

		RefreshErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cleansing_refresh_errors_total",
			Help: "Total refresh errors by category",
		}, []string{"category"}),

		RefreshDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "cleansing_refresh_duration_seconds",
			Help:    "Duration of a full bronze to gold refresh",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),

		LastRefresh: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cleansing_last_refresh_timestamp_seconds",
			Help: "Unix time of the last successful refresh",
		}),

		AccessFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "cleansing_access_fallback_total",
			Help: "Grant lookups that failed and resolved to masked_only",
		}),
	}
}

// ObserveFile records a source file outcome
func (m *Metrics) ObserveFile(status string) {
	if m != nil {
		m.FilesTotal.WithLabelValues(status).Inc()
	}
}

// ObserveError records an error by category
func (m *Metrics) ObserveError(category ErrorCategory) {
	if m != nil {
		m.RefreshErrors.WithLabelValues(category.String()).Inc()
	}
}

// ObserveRefresh records the counters of a finished refresh
func (m *Metrics) ObserveRefresh(result *RefreshResult, succeeded bool) {
	if m == nil || result == nil {
		return
	}

	m.RecordsTotal.WithLabelValues("bronze").Add(float64(result.BronzeRows))
	m.RecordsTotal.WithLabelValues("silver").Add(float64(result.SilverRows))
	m.RecordsTotal.WithLabelValues("gold").Add(float64(result.GoldRows))
	m.CleaningOperations.Add(float64(result.CleaningOps))

	m.SCDMutations.WithLabelValues("inserted").Add(float64(result.Inserted))
	m.SCDMutations.WithLabelValues("closed").Add(float64(result.Closed))
	m.SCDMutations.WithLabelValues("deleted").Add(float64(result.Deleted))
	m.SCDMutations.WithLabelValues("unchanged").Add(float64(result.Unchanged))
	m.SCDMutations.WithLabelValues("late").Add(float64(result.Late))
	m.SCDMutations.WithLabelValues("rejected").Add(float64(result.Rejected))

	if result.SilverRows > 0 {
		m.QualityScore.Observe(result.Quality.AverageScore)
	}
	if result.Fallback {
		m.AccessFallbacks.Inc()
	}

	m.RefreshDuration.Observe(result.Duration.Seconds())
	if succeeded {
		m.LastRefresh.Set(float64(result.EndTime.Unix()))
	}
}

// formatDuration formats a duration to a human-readable string
func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	} else if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%.2fs", d.Seconds())
}

// getPercentage safely calculates a percentage, avoiding division by zero
func getPercentage(value, total float64) float64 {
	if total == 0 {
		return 0
	}
	return (value / total) * 100
}

// Report renders a human-readable summary of a refresh
func (r *RefreshResult) Report() string {
	totalFiles := r.FilesIngested + r.FilesFailed + r.FilesSkipped

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf(`
Refresh Report
==============
Run ID:                  %s
Identity:                %s
Duration:                %s
Start Time:              %s
End Time:                %s

Files
-----
Total Files:             %d
Ingested:                %d (%.1f%%)
Failed:                  %d (%.1f%%)
Skipped:                 %d (%.1f%%)

Layers
------
Bronze Rows:             %d
Silver Rows:             %d
Cleaning Ops:            %d
Flagged Rows:            %d
Average Quality Score:   %.2f
Current Versions:        %d
Gold Rows:               %d
Access Level:            %s

Versioning
----------
Inserted:                %d
Closed:                  %d
Deleted:                 %d
Unchanged:               %d
Late:                    %d
Rejected:                %d
Integrity Issues:        %d
`,
		r.RunID,
		r.Identity,
		formatDuration(r.Duration),
		r.StartTime.Format(time.RFC3339),
		r.EndTime.Format(time.RFC3339),

		totalFiles,
		r.FilesIngested, getPercentage(float64(r.FilesIngested), float64(totalFiles)),
		r.FilesFailed, getPercentage(float64(r.FilesFailed), float64(totalFiles)),
		r.FilesSkipped, getPercentage(float64(r.FilesSkipped), float64(totalFiles)),

		r.BronzeRows,
		r.SilverRows,
		r.CleaningOps,
		r.Quality.FlaggedRows,
		r.Quality.AverageScore,
		r.CurrentRows,
		r.GoldRows,
		r.AccessLevel,

		r.Inserted,
		r.Closed,
		r.Deleted,
		r.Unchanged,
		r.Late,
		r.Rejected,
		r.IntegrityIssues,
	))

	if len(r.Quality.Rules) > 0 {
		sb.WriteString("\nRule Pass Rates\n---------------\n")
		for _, rule := range r.Quality.Rules {
			sb.WriteString(fmt.Sprintf("- %s: %.1f%% (%d failed)\n", rule.Name, rule.PassRate, rule.Failed))
		}
	}

	if len(r.ErrorCategories) > 0 {
		sb.WriteString("\nError Distribution\n------------------\n")
		totalErrors := 0
		categories := make([]ErrorCategory, 0, len(r.ErrorCategories))
		for category, count := range r.ErrorCategories {
			totalErrors += count
			categories = append(categories, category)
		}
		sort.Slice(categories, func(i, j int) bool { return categories[i] < categories[j] })

		for _, category := range categories {
			count := r.ErrorCategories[category]
			percentage := getPercentage(float64(count), float64(totalErrors))
			sb.WriteString(fmt.Sprintf("- %s: %d (%.1f%%)\n", category.String(), count, percentage))
		}
	}

	return sb.String()
}

// ToJSON serializes the refresh summary to JSON
func (r *RefreshResult) ToJSON() ([]byte, error) {
	errorCounts := make(map[string]int, len(r.ErrorCategories))
	for category, count := range r.ErrorCategories {
		errorCounts[category.String()] = count
	}

	return json.Marshal(struct {
		RunID         string         `json:"runId"`
		Identity      string         `json:"identity"`
		Duration      string         `json:"duration"`
		FilesIngested int            `json:"filesIngested"`
		FilesFailed   int            `json:"filesFailed"`
		FilesSkipped  int            `json:"filesSkipped"`
		BronzeRows    int            `json:"bronzeRows"`
		SilverRows    int            `json:"silverRows"`
		CleaningOps   int            `json:"cleaningOps"`
		QualityScore  float64        `json:"qualityScore"`
		Inserted      int            `json:"inserted"`
		Closed        int            `json:"closed"`
		Deleted       int            `json:"deleted"`
		Late          int            `json:"late"`
		Rejected      int            `json:"rejected"`
		GoldRows      int            `json:"goldRows"`
		AccessLevel   string         `json:"accessLevel"`
		Fallback      bool           `json:"fallback"`
		Errors        map[string]int `json:"errors"`
	}{
		RunID:         r.RunID.String(),
		Identity:      r.Identity,
		Duration:      r.Duration.String(),
		FilesIngested: r.FilesIngested,
		FilesFailed:   r.FilesFailed,
		FilesSkipped:  r.FilesSkipped,
		BronzeRows:    r.BronzeRows,
		SilverRows:    r.SilverRows,
		CleaningOps:   r.CleaningOps,
		QualityScore:  r.Quality.AverageScore,
		Inserted:      r.Inserted,
		Closed:        r.Closed,
		Deleted:       r.Deleted,
		Late:          r.Late,
		Rejected:      r.Rejected,
		GoldRows:      r.GoldRows,
		AccessLevel:   string(r.AccessLevel),
		Fallback:      r.Fallback,
		Errors:        errorCounts,
	})
}
