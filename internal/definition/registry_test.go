package definition

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/pitabwire/stepwise/model"
)

func demoDefinition() model.WorkflowDefinition {
	return model.WorkflowDefinition{
		Name:        "demo",
		TargetRoles: []string{"manager"},
		Steps: []model.StepDefinition{
			{ID: "login"},
			{ID: "dashboard"},
			{ID: "create"},
			{ID: "review", DependsOn: []string{"create"}},
		},
		Transitions: []model.TransitionDefinition{
			{From: "create", To: "review", Guard: model.FieldEquals{Field: "approved", Value: true}},
		},
	}
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(demoDefinition()); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	def, err := r.Get("demo")
	if err != nil {
		t.Fatalf("Get(demo) error = %v", err)
	}
	if len(def.Steps) != 4 {
		t.Errorf("Steps = %d, want 4", len(def.Steps))
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

func TestRegistry_Get_notFound(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get("missing")
	if !model.IsCode(err, model.ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want NOT_FOUND", err)
	}
}

func TestRegistry_Register_duplicateName(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(demoDefinition()); err != nil {
		t.Fatalf("first Register() error = %v", err)
	}
	err := r.Register(demoDefinition())
	if !model.IsCode(err, model.ErrDefinitionError) {
		t.Errorf("second Register() error = %v, want DEFINITION_ERROR", err)
	}
}

func TestRegistry_definitionsAreIsolated(t *testing.T) {
	r := NewRegistry()
	def := demoDefinition()
	if err := r.Register(def); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	def.Steps[1].ID = "zzz"
	def.Steps[3].DependsOn[0] = "zzz"
	def.TargetRoles[0] = "intruder"
	def.Transitions[0].To = "zzz"

	got, _ := r.Get("demo")
	if got.Steps[1].ID != "dashboard" || got.Steps[3].DependsOn[0] != "create" {
		t.Errorf("registered steps follow caller mutation: %+v", got.Steps)
	}
	if got.TargetRoles[0] != "manager" || got.Transitions[0].To != "review" {
		t.Errorf("registered definition follows caller mutation: roles=%v to=%s", got.TargetRoles, got.Transitions[0].To)
	}

	got.Steps[0].ID = "reader-change"
	if again, _ := r.Get("demo"); again.Steps[0].ID != "login" {
		t.Errorf("Get() shares storage with readers: %q", again.Steps[0].ID)
	}
	if all := r.All(); all[0].Steps[0].ID != "login" {
		t.Errorf("All()[0].Steps[0] = %q", all[0].Steps[0].ID)
	}
}

func TestRegistry_Register_rejectsMalformed(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*model.WorkflowDefinition)
		field  string
	}{
		{
			name:   "empty steps",
			mutate: func(d *model.WorkflowDefinition) { d.Steps = nil; d.Transitions = nil },
			field:  "steps",
		},
		{
			name:   "duplicate step id",
			mutate: func(d *model.WorkflowDefinition) { d.Steps = append(d.Steps, model.StepDefinition{ID: "login"}) },
			field:  "steps[4].id",
		},
		{
			name: "transition to unknown step",
			mutate: func(d *model.WorkflowDefinition) {
				d.Transitions = append(d.Transitions, model.TransitionDefinition{From: "login", To: "nowhere"})
			},
			field: "transitions[1].to",
		},
		{
			name: "transition from unknown step",
			mutate: func(d *model.WorkflowDefinition) {
				d.Transitions = append(d.Transitions, model.TransitionDefinition{From: "nowhere", To: "login"})
			},
			field: "transitions[1].from",
		},
		{
			name:   "unknown dependency",
			mutate: func(d *model.WorkflowDefinition) { d.Steps[1].DependsOn = []string{"ghost"} },
			field:  "steps[1].depends_on[0]",
		},
		{
			name:   "missing name",
			mutate: func(d *model.WorkflowDefinition) { d.Name = "" },
			field:  "name",
		},
		{
			name:   "half scope check",
			mutate: func(d *model.WorkflowDefinition) { d.Steps[2].Resource = "survey" },
			field:  "steps[2]",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := demoDefinition()
			tt.mutate(&def)
			r := NewRegistry()
			err := r.Register(def)
			if !model.IsCode(err, model.ErrDefinitionError) {
				t.Fatalf("Register() error = %v, want DEFINITION_ERROR", err)
			}
			env := err.(*model.ErrorEnvelope)
			found := false
			for _, d := range env.Details {
				if d.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("Details = %+v, want one for field %q", env.Details, tt.field)
			}
			if r.Len() != 0 {
				t.Error("rejected definition was registered")
			}
		})
	}
}

func TestRegistry_All_sorted(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		def := demoDefinition()
		def.Name = name
		if err := r.Register(def); err != nil {
			t.Fatalf("Register(%s) error = %v", name, err)
		}
	}
	all := r.All()
	if len(all) != 3 || all[0].Name != "alpha" || all[1].Name != "mid" || all[2].Name != "zeta" {
		t.Errorf("All() order = %v", names(all))
	}
}

func TestRegistry_ForRole(t *testing.T) {
	r := NewRegistry()
	managers := demoDefinition()
	everyone := demoDefinition()
	everyone.Name = "open"
	everyone.TargetRoles = nil
	_ = r.Register(managers)
	_ = r.Register(everyone)

	if got := names(r.ForRole("manager")); len(got) != 2 {
		t.Errorf("ForRole(manager) = %v, want both", got)
	}
	got := names(r.ForRole("employee"))
	if len(got) != 1 || got[0] != "open" {
		t.Errorf("ForRole(employee) = %v, want [open]", got)
	}
}

func TestRegistry_Checksum_changes(t *testing.T) {
	r := NewRegistry()
	before := r.Checksum()
	_ = r.Register(demoDefinition())
	after := r.Checksum()
	if after == "" || after == before {
		t.Errorf("Checksum did not change on register: %q -> %q", before, after)
	}
}

func TestRegistry_concurrentReads(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			def := demoDefinition()
			def.Name = fmt.Sprintf("wf-%d", i)
			_ = r.Register(def)
		}(i)
		go func() {
			defer wg.Done()
			_ = r.All()
			_, _ = r.Get("wf-0")
		}()
	}
	wg.Wait()
	if r.Len() != 10 {
		t.Errorf("Len() = %d, want 10", r.Len())
	}
}

func TestCatalog_registers(t *testing.T) {
	r := NewRegistry()
	published := false
	actions := model.ActionRegistry{
		ActionPublishSurvey: model.ActionFunc(func(_ context.Context, _ model.ActionContext) error {
			published = true
			return nil
		}),
	}
	if err := RegisterCatalog(r, actions); err != nil {
		t.Fatalf("RegisterCatalog() error = %v", err)
	}
	if r.Len() != 4 {
		t.Errorf("Len() = %d, want 4", r.Len())
	}

	def, err := r.Get(WorkflowSurveyCreation)
	if err != nil {
		t.Fatalf("Get(%s) error = %v", WorkflowSurveyCreation, err)
	}
	var attached model.Action
	for _, tr := range def.Transitions {
		if tr.From == "publish" {
			attached = tr.Action
		}
	}
	if attached == nil {
		t.Fatal("publish action was not attached")
	}
	_ = attached.Run(context.Background(), model.ActionContext{})
	if !published {
		t.Error("attached action is not the registered one")
	}

	live, _ := r.Get(WorkflowLiveFeedback)
	for _, tr := range live.Transitions {
		if tr.Action != nil {
			t.Errorf("transition %s->%s has an action that was never registered", tr.From, tr.To)
		}
	}
}

func names(defs []model.WorkflowDefinition) []string {
	out := make([]string, len(defs))
	for i, d := range defs {
		out[i] = d.Name
	}
	return out
}
