package engine

import "testing"

func TestNormalizeFillsShowNameFromURL(t *testing.T) {
	d := Descriptor{URL: "https://example.com/files/report.pdf", SavePath: "/tmp/report.pdf"}
	d.Normalize(0)
	if d.ShowName != "report.pdf" {
		t.Fatalf("ShowName = %q", d.ShowName)
	}
}

func TestNormalizeFallsBackToSyntheticName(t *testing.T) {
	d := Descriptor{URL: "https://example.com/", SavePath: "/tmp/x"}
	d.Normalize(3)
	if d.ShowName != "task_3" {
		t.Fatalf("ShowName = %q", d.ShowName)
	}
}

func TestNormalizeLeavesExplicitShowNameAlone(t *testing.T) {
	d := Descriptor{URL: "https://example.com/a", SavePath: "/tmp/x", ShowName: "custom"}
	d.Normalize(0)
	if d.ShowName != "custom" {
		t.Fatalf("ShowName = %q", d.ShowName)
	}
}
