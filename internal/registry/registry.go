// Package registry loads the workflows.yaml file listing which workflows
// the deployment runs and on what schedule.
package registry

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ClassOrcidTelescope is the class name of the ORCID telescope workflow.
const ClassOrcidTelescope = "orcid_telescope"

var knownClasses = map[string]bool{
	ClassOrcidTelescope: true,
}

// Workflow is one configured workflow instance.
type Workflow struct {
	Name       string    `yaml:"name"`
	WorkflowID string    `yaml:"workflow_id"`
	Class      string    `yaml:"class"`
	Schedule   string    `yaml:"schedule"`
	TaskQueue  string    `yaml:"task_queue"`
	Kwargs     yaml.Node `yaml:"kwargs"`
}

// DecodeKwargs decodes the workflow's kwargs into out. Missing kwargs leave
// out untouched.
func (w *Workflow) DecodeKwargs(out any) error {
	if w.Kwargs.Kind == 0 {
		return nil
	}
	if err := w.Kwargs.Decode(out); err != nil {
		return fmt.Errorf("workflow %s: invalid kwargs: %w", w.WorkflowID, err)
	}
	return nil
}

// Registry is the parsed workflows file.
type Registry struct {
	Workflows []Workflow `yaml:"workflows"`
}

// Load reads and validates the workflows file at path.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflows file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a workflows document.
func Parse(data []byte) (*Registry, error) {
	var r Registry
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse workflows file: %w", err)
	}
	if err := r.validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *Registry) validate() error {
	seen := make(map[string]bool, len(r.Workflows))
	for i := range r.Workflows {
		w := &r.Workflows[i]
		w.WorkflowID = strings.TrimSpace(w.WorkflowID)
		if w.WorkflowID == "" {
			return fmt.Errorf("workflow %d (%q): workflow_id is required", i, w.Name)
		}
		if seen[w.WorkflowID] {
			return fmt.Errorf("duplicate workflow_id %q", w.WorkflowID)
		}
		seen[w.WorkflowID] = true
		if !knownClasses[w.Class] {
			return fmt.Errorf("workflow %s: unknown class %q", w.WorkflowID, w.Class)
		}
		if w.Name == "" {
			w.Name = w.WorkflowID
		}
	}
	return nil
}

// Lookup returns the workflow with the given id.
func (r *Registry) Lookup(workflowID string) (*Workflow, bool) {
	for i := range r.Workflows {
		if r.Workflows[i].WorkflowID == workflowID {
			return &r.Workflows[i], true
		}
	}
	return nil, false
}

// Scheduled returns the workflows that have a schedule.
func (r *Registry) Scheduled() []*Workflow {
	var out []*Workflow
	for i := range r.Workflows {
		if r.Workflows[i].Schedule != "" {
			out = append(out, &r.Workflows[i])
		}
	}
	return out
}

// TaskQueues returns the distinct task queues, using fallback for
// workflows that do not name one.
func (r *Registry) TaskQueues(fallback string) []string {
	seen := map[string]bool{}
	var queues []string
	for _, w := range r.Workflows {
		q := w.TaskQueue
		if q == "" {
			q = fallback
		}
		if !seen[q] {
			seen[q] = true
			queues = append(queues, q)
		}
	}
	return queues
}
