package definition

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pitabwire/stepwise/model"
)

func testActions() model.ActionRegistry {
	return model.ActionRegistry{
		"notify_reviewers": model.ActionFunc(func(context.Context, model.ActionContext) error { return nil }),
	}
}

func TestLoader_LoadFile(t *testing.T) {
	l := NewLoader(testActions())
	doc, err := l.LoadFile("testdata/valid/demo.yaml")
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if len(doc.Workflows) != 1 {
		t.Fatalf("Workflows = %d, want 1", len(doc.Workflows))
	}
	wf := doc.Workflows[0]
	if wf.Name != "demo" {
		t.Errorf("Name = %q, want demo", wf.Name)
	}
	if len(wf.Steps) != 4 {
		t.Errorf("Steps = %d, want 4", len(wf.Steps))
	}
	if wf.Transitions[0].Emit == nil || wf.Transitions[0].Emit.Type != "survey.created" {
		t.Errorf("Emit = %+v", wf.Transitions[0].Emit)
	}
	if doc.Checksum == "" {
		t.Error("Checksum should not be empty")
	}
	if doc.SourceFile != "testdata/valid/demo.yaml" {
		t.Errorf("SourceFile = %q", doc.SourceFile)
	}
}

func TestLoader_LoadFile_notFound(t *testing.T) {
	l := NewLoader(nil)
	if _, err := l.LoadFile("testdata/nonexistent.yaml"); err == nil {
		t.Fatal("LoadFile() with missing file should return error")
	}
}

func TestLoader_LoadFile_invalidYAML(t *testing.T) {
	l := NewLoader(nil)
	if _, err := l.LoadFile("testdata/badyaml/bad.yaml"); err == nil {
		t.Fatal("LoadFile() with invalid YAML should return error")
	}
}

func TestLoader_LoadAll_recursesAndFilters(t *testing.T) {
	l := NewLoader(nil)
	docs, err := l.LoadAll([]string{"testdata/valid"})
	if err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	if len(docs) != 2 {
		t.Errorf("LoadAll() = %d documents, want 2 (README ignored, .yml included)", len(docs))
	}
}

func TestLoader_LoadAll_missingDir(t *testing.T) {
	l := NewLoader(nil)
	if _, err := l.LoadAll([]string{"testdata/missing"}); err == nil {
		t.Fatal("LoadAll() with missing directory should return error")
	}
}

// --- Compile ---

func TestLoader_Compile_valid(t *testing.T) {
	l := NewLoader(testActions())
	docs, err := l.LoadAll([]string{"testdata/valid"})
	if err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	compiled, verrs := l.Compile(docs)
	if len(verrs) > 0 {
		t.Fatalf("Compile() errors = %v", verrs)
	}
	if len(compiled) != 2 {
		t.Fatalf("Compile() = %d definitions, want 2", len(compiled))
	}

	var demo model.WorkflowDefinition
	for _, c := range compiled {
		if c.Definition.Name == "demo" {
			demo = c.Definition
		}
	}
	if demo.Timeout != 2*time.Hour {
		t.Errorf("Timeout = %v, want 2h", demo.Timeout)
	}
	if demo.Completion == nil {
		t.Error("Completion should be compiled")
	}
	tr := demo.Transitions[0]
	if tr.Guard == nil || tr.Action == nil {
		t.Fatalf("transition guard/action not compiled: %+v", tr)
	}
	ok, err := tr.Guard.Evaluate(model.StepData{"approved": true})
	if err != nil || !ok {
		t.Errorf("Guard(approved=true) = %v, %v", ok, err)
	}
}

func TestLoader_Compile_collectsErrors(t *testing.T) {
	l := NewLoader(nil)
	doc, err := l.LoadFile("testdata/invalid/broken.yaml")
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	compiled, verrs := l.Compile([]Document{doc})
	if len(compiled) != 0 {
		t.Errorf("Compile() returned %d definitions for a broken document", len(compiled))
	}

	codes := map[string]bool{}
	for _, e := range verrs {
		codes[e.Code] = true
		if !strings.HasPrefix(e.Path, "testdata/invalid/broken.yaml:workflows[0]") {
			t.Errorf("Path = %q, want file-prefixed path", e.Path)
		}
	}
	for _, want := range []string{"INVALID_DURATION", "DUPLICATE", "REF_NOT_FOUND", "INVALID_EXPRESSION"} {
		if !codes[want] {
			t.Errorf("missing %s in %v", want, verrs)
		}
	}
}

func TestLoader_Compile_structValidation(t *testing.T) {
	l := NewLoader(nil)
	doc, err := l.LoadFile("testdata/invalid/empty.yaml")
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	_, verrs := l.Compile([]Document{doc})
	if len(verrs) == 0 {
		t.Fatal("Compile() should reject a workflow with no steps")
	}
	if !strings.Contains(verrs[0].Path, "workflows[0].steps") {
		t.Errorf("Path = %q, want yaml field names", verrs[0].Path)
	}
}

func TestLoader_Compile_duplicateAcrossDocuments(t *testing.T) {
	l := NewLoader(testActions())
	a, _ := l.LoadFile("testdata/valid/demo.yaml")
	b, _ := l.LoadFile("testdata/valid/demo.yaml")
	b.SourceFile = "copy.yaml"
	compiled, verrs := l.Compile([]Document{a, b})
	if len(compiled) != 1 {
		t.Errorf("Compile() = %d definitions, want 1", len(compiled))
	}
	if len(verrs) != 1 || verrs[0].Code != "DUPLICATE" {
		t.Errorf("verrs = %v, want one DUPLICATE", verrs)
	}
}

func TestLoader_Parse_validationDocument(t *testing.T) {
	l := NewLoader(nil)
	doc, err := l.Parse([]byte(`
workflows:
  - name: gated
    steps: [{id: a}, {id: b}]
    transitions:
      - from: a
        to: b
        validation: {operation: update}
`), "inline")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	_, verrs := l.Compile([]Document{doc})
	if len(verrs) == 0 {
		t.Fatal("validation with operation but no resource should fail")
	}
}

func TestLoader_LoadAndRegister(t *testing.T) {
	l := NewLoader(testActions())
	reg := NewRegistry()
	n, verrs, err := l.LoadAndRegister(reg, []string{"testdata/valid"})
	if err != nil || len(verrs) > 0 {
		t.Fatalf("LoadAndRegister() = %v, %v", verrs, err)
	}
	if n != 2 || reg.Len() != 2 {
		t.Errorf("registered %d (registry %d), want 2", n, reg.Len())
	}
}

func TestLoader_LoadAndRegister_invalidRegistersNothing(t *testing.T) {
	l := NewLoader(testActions())
	reg := NewRegistry()
	_, verrs, err := l.LoadAndRegister(reg, []string{"testdata/valid", "testdata/invalid"})
	if err != nil {
		t.Fatalf("LoadAndRegister() error = %v", err)
	}
	if len(verrs) == 0 {
		t.Fatal("expected validation errors")
	}
	if reg.Len() != 0 {
		t.Errorf("registry has %d definitions, want 0", reg.Len())
	}
}
