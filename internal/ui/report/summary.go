// Package report renders build results and build history for the terminal.
package report

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"packt/internal/core/ports"
	"packt/internal/data/history"
	"packt/internal/engine/graph"
	"packt/internal/shared/util"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#3B82F6")).
			Bold(true)

	failStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F87171")).
			Bold(true)

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FBBF24"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#10B981")).
			Bold(true)

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#64748B")).
			Italic(true)
)

// RenderBuild summarizes one build: a status line, then per variant the
// emitted bundles, then warnings and timing.
func RenderBuild(res ports.BuildResult, buildErr error, root string) string {
	var b strings.Builder

	kind := "full"
	if res.Incremental {
		kind = "incremental"
	}
	if buildErr != nil {
		b.WriteString(failStyle.Render("build failed"))
	} else {
		b.WriteString(successStyle.Render("build succeeded"))
	}
	fmt.Fprintf(&b, " %s\n", statusStyle.Render(fmt.Sprintf("(%s, %s)", kind, res.Duration.Round(time.Millisecond))))

	for _, vr := range res.Variants {
		b.WriteString(titleStyle.Render("variant "+vr.Name))
		fmt.Fprintf(&b, "  %d modules\n", vr.Modules)
		for _, name := range util.SortedStringKeys(vr.Bundles) {
			fmt.Fprintf(&b, "  %-20s %d modules\n", name, len(vr.Bundles[name]))
		}
		for _, out := range vr.Outputs {
			fmt.Fprintf(&b, "  -> %s\n", relative(root, out))
		}
		if vr.Err != nil {
			fmt.Fprintf(&b, "  %s\n", failStyle.Render(vr.Err.Error()))
		}
	}

	for _, w := range res.Warnings {
		fmt.Fprintf(&b, "%s %s\n", warnStyle.Render("warning:"), w)
	}

	fmt.Fprintf(&b, "%s\n", statusStyle.Render(fmt.Sprintf(
		"processed %d, reused %d, cache %d/%d hits",
		res.Processed, res.Reused, res.CacheHits, res.CacheHits+res.CacheMisses,
	)))
	if len(res.HandlerStats) > 0 || len(res.BundlerStats) > 0 {
		b.WriteString(renderStats("handler", res.HandlerStats))
		b.WriteString(renderStats("bundler", res.BundlerStats))
	}
	if buildErr != nil {
		fmt.Fprintf(&b, "%s\n", failStyle.Render(buildErr.Error()))
	}
	return b.String()
}

func renderStats(kind string, stats map[string]ports.PerfStats) string {
	var b strings.Builder
	for _, name := range util.SortedStringKeys(stats) {
		s := stats[name]
		fmt.Fprintf(&b, "  %s %-12s transform=%s diskio=%s preprocess=%s\n",
			kind, name,
			s.Transform.Round(time.Microsecond),
			s.Diskio.Round(time.Microsecond),
			s.Preprocess.Round(time.Microsecond),
		)
	}
	return b.String()
}

// RenderHistoryTSV renders build records newest first, one per line.
func RenderHistoryTSV(records []history.BuildRecord) []byte {
	var buf strings.Builder
	buf.WriteString("Timestamp\tID\tStatus\tIncremental\tModules\tBundles\tCacheHitRatio\tDurationMs\tError\n")
	for _, r := range records {
		buf.WriteString(fmt.Sprintf("%s\t%s\t%s\t%t\t%d\t%d\t%.2f\t%d\t%s\n",
			r.Timestamp.Format(time.RFC3339),
			r.ID,
			r.Status,
			r.Incremental,
			r.Modules,
			r.Bundles,
			r.CacheHitRatio(),
			r.Duration.Milliseconds(),
			strings.ReplaceAll(r.Error, "\n", " "),
		))
	}
	return []byte(buf.String())
}

func RenderHistoryJSON(records []history.BuildRecord) ([]byte, error) {
	return json.MarshalIndent(records, "", "  ")
}

// RenderExplain prints each import chain that pulls a module into a variant.
func RenderExplain(variant, path string, chains map[string][]string, root string) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("%s in variant %s", relative(root, path), variant)))
	b.WriteString("\n")
	if len(chains) == 0 {
		b.WriteString(statusStyle.Render("  not reachable from any root"))
		b.WriteString("\n")
		return b.String()
	}
	for _, r := range util.SortedStringKeys(chains) {
		steps := make([]string, 0, len(chains[r]))
		for _, p := range chains[r] {
			steps = append(steps, relative(root, p))
		}
		fmt.Fprintf(&b, "  %s\n", strings.Join(steps, " -> "))
	}
	return b.String()
}

// RenderImpact prints the direct and transitive importers of a module.
func RenderImpact(variant string, impact graph.ImpactReport, root string) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("impact of %s in variant %s", relative(root, impact.TargetPath), variant)))
	b.WriteString("\n")
	fmt.Fprintf(&b, "Direct importers (%d)\n", len(impact.DirectImporters))
	for _, p := range impact.DirectImporters {
		fmt.Fprintf(&b, "- %s\n", relative(root, p))
	}
	fmt.Fprintf(&b, "Transitive importers (%d)\n", len(impact.TransitiveImporters))
	for _, p := range impact.TransitiveImporters {
		fmt.Fprintf(&b, "- %s\n", relative(root, p))
	}
	return b.String()
}

func relative(root, path string) string {
	if root == "" {
		return path
	}
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return filepath.ToSlash(rel)
}
