package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/bmkramer/academic-observatory-workflows/internal/registry"
)

func TestSetAllConfig(t *testing.T) {
	t.Setenv("ORCIDCTL_WORKFLOW_ID", "orcid_backfill")
	t.Setenv("ORCIDCTL_MAX_WORKERS", "4")
	t.Setenv("ORCIDCTL_BATCHES", "000,12X")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	workflowID := flags.String("workflow-id", "orcid", "")
	maxWorkers := flags.Int("max-workers", 0, "")
	batches := flags.StringSlice("batches", nil, "")
	end := flags.String("end", "", "")
	if err := flags.Parse([]string{"--max-workers=8"}); err != nil {
		t.Fatal(err)
	}

	if err := setAllConfig(viper.New(), flags, envPrefix); err != nil {
		t.Fatalf("setAllConfig() error = %v", err)
	}
	if *workflowID != "orcid_backfill" {
		t.Errorf("workflow-id = %q, want env value", *workflowID)
	}
	if *maxWorkers != 8 {
		t.Errorf("max-workers = %d, command line should win", *maxWorkers)
	}
	if strings.Join(*batches, ",") != "000,12X" {
		t.Errorf("batches = %v", *batches)
	}
	if *end != "" {
		t.Errorf("end = %q, want default", *end)
	}
}

func TestSetAllConfigInvalidEnv(t *testing.T) {
	t.Setenv("ORCIDCTL_MAX_WORKERS", "many")
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("max-workers", 0, "")
	if err := setAllConfig(viper.New(), flags, envPrefix); err == nil {
		t.Error("expected error for non-numeric env value")
	}
}

func TestStartOptionsInput(t *testing.T) {
	reg, err := registry.Parse([]byte(`
workflows:
  - workflow_id: orcid
    class: orcid_telescope
    kwargs:
      max_workers: 16
      batches: ["000"]
`))
	if err != nil {
		t.Fatal(err)
	}
	wf, _ := reg.Lookup("orcid")

	opts := &startOptions{start: "2023-06-01", end: "2023-06-08", maxWorkers: 2}
	input, err := opts.input(wf)
	if err != nil {
		t.Fatalf("input() error = %v", err)
	}
	if input.WorkflowID != "orcid" || input.MaxWorkers != 2 || len(input.Batches) != 1 {
		t.Errorf("input = %+v", input)
	}
	if input.DataIntervalStart.Format(dateLayout) != "2023-06-01" || input.DataIntervalEnd.Format(dateLayout) != "2023-06-08" {
		t.Errorf("window = %v..%v", input.DataIntervalStart, input.DataIntervalEnd)
	}

	if _, err := (&startOptions{end: "08/06/2023"}).input(wf); err == nil {
		t.Error("expected error for malformed --end")
	}
}

func TestBatchesCommand(t *testing.T) {
	var out bytes.Buffer
	root := NewRootCommand(nil, &out, &out)
	root.SetArgs([]string{"batches"})
	if err := root.Execute(); err != nil {
		t.Fatal(err)
	}
	lines := strings.Fields(out.String())
	if len(lines) != 1100 || lines[0] != "000" || lines[len(lines)-1] != "99X" {
		t.Errorf("batches = %d lines, first %q", len(lines), lines[0])
	}
}

func TestTransformCommand(t *testing.T) {
	download := t.TempDir()
	transform := filepath.Join(t.TempDir(), "out")
	if err := os.MkdirAll(filepath.Join(download, "000"), 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"0000-0001-5000-5000.xml", "0000-0001-5007-2000.xml"} {
		data, err := os.ReadFile(filepath.Join("..", "..", "internal", "orcid", "testdata", name))
		if err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(download, "000", name), data, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	var out bytes.Buffer
	root := NewRootCommand(nil, &out, &out)
	root.SetArgs([]string{"transform", "--download-dir", download, "--transform-dir", transform, "000"})
	if err := root.Execute(); err != nil {
		t.Fatalf("transform error = %v", err)
	}
	if !strings.Contains(out.String(), "records 1\ttombstones 1") {
		t.Errorf("output = %q", out.String())
	}
	for _, f := range []string{"000_upsert.jsonl.gz", "000_delete.parquet"} {
		if _, err := os.Stat(filepath.Join(transform, f)); err != nil {
			t.Errorf("missing %s: %v", f, err)
		}
	}
}
