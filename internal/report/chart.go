// Package report renders training curves.
package report

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"mad4pg/internal/explore"
)

// ScoreChart renders episode scores and their running average as an HTML
// line chart.
func ScoreChart(w io.Writer, title string, scores []float64) error {
	if len(scores) == 0 {
		return errors.New("no scores to plot")
	}

	episodes := make([]string, len(scores))
	raw := make([]opts.LineData, len(scores))
	avg := make([]opts.LineData, len(scores))
	for i, s := range scores {
		episodes[i] = fmt.Sprintf("%d", i+1)
		raw[i] = opts.LineData{Value: s}
		avg[i] = opts.LineData{Value: explore.RunningAverage(scores[:i+1])}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: title}),
		charts.WithInitializationOpts(opts.Initialization{Theme: "shine"}),
	)
	line.SetXAxis(episodes).
		AddSeries("score", raw).
		AddSeries(fmt.Sprintf("average (last %d)", explore.ScoreWindow), avg)

	page := components.NewPage()
	page.AddCharts(line)
	return page.Render(w)
}

// WriteScoreChart writes ScoreChart to path, creating parent directories.
func WriteScoreChart(path, title string, scores []float64) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create chart dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create chart: %w", err)
	}
	if err := ScoreChart(f, title, scores); err != nil {
		f.Close()
		return fmt.Errorf("render chart: %w", err)
	}
	return f.Close()
}
