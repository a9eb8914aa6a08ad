package graph

import (
	"reflect"
	"testing"
)

func TestVariant_Importers(t *testing.T) {
	v := buildVariant(t, "default", map[string][]string{
		"home":  {"util"},
		"about": {"util"},
		"util":  {"deep"},
	})

	if got := v.Importers("util"); !reflect.DeepEqual(got, []string{"about", "home"}) {
		t.Fatalf("unexpected importers: %v", got)
	}
	if got := v.Importers("home"); len(got) != 0 {
		t.Fatalf("expected no importers, got %v", got)
	}
}

func TestVariant_AnalyzeImpact(t *testing.T) {
	v := buildVariant(t, "default", map[string][]string{
		"home":  {"util"},
		"about": {"util"},
		"util":  {"deep"},
		"other": {"leaf"},
	})

	report := v.AnalyzeImpact("deep")
	if report.TargetPath != "deep" {
		t.Fatalf("unexpected target: %s", report.TargetPath)
	}
	if !reflect.DeepEqual(report.DirectImporters, []string{"util"}) {
		t.Fatalf("unexpected direct importers: %v", report.DirectImporters)
	}
	if !reflect.DeepEqual(report.TransitiveImporters, []string{"about", "home"}) {
		t.Fatalf("unexpected transitive importers: %v", report.TransitiveImporters)
	}

	if report := v.AnalyzeImpact("home"); len(report.DirectImporters) != 0 || len(report.TransitiveImporters) != 0 {
		t.Fatalf("expected no impact for a root, got %+v", report)
	}
}

func TestVariant_AnalyzeImpactTerminatesOnCycles(t *testing.T) {
	v := buildVariant(t, "default", map[string][]string{
		"a": {"b"},
		"b": {"a"},
	})

	report := v.AnalyzeImpact("a")
	if !reflect.DeepEqual(report.DirectImporters, []string{"b"}) {
		t.Fatalf("unexpected direct importers: %v", report.DirectImporters)
	}
	if len(report.TransitiveImporters) != 0 {
		t.Fatalf("expected no transitive importers, got %v", report.TransitiveImporters)
	}
}
