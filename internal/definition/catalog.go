package definition

import (
	"time"

	"github.com/pitabwire/stepwise/model"
)

// Built-in workflow names.
const (
	WorkflowSurveyCreation   = "survey_creation"
	WorkflowLiveFeedback     = "live_feedback_session"
	WorkflowActionPlan       = "action_plan_management"
	WorkflowReportGeneration = "report_generation"
)

// Action names the built-in catalog attaches when the caller registers them.
const (
	ActionPublishSurvey    = "publish_survey"
	ActionOpenLiveSession  = "open_live_session"
	ActionCloseLiveSession = "close_live_session"
	ActionAssignActionPlan = "assign_action_plan"
	ActionDeliverReport    = "deliver_report"
)

// Catalog returns the product's built-in workflows. Transitions whose action
// name is present in actions get that action attached; the rest run without
// one.
func Catalog(actions model.ActionRegistry) []model.WorkflowDefinition {
	act := func(name string) model.Action {
		if a, ok := actions[name]; ok {
			return a
		}
		return nil
	}

	return []model.WorkflowDefinition{
		{
			Name:        WorkflowSurveyCreation,
			Title:       "Create a survey",
			Description: "Draft, configure, review and publish an organizational survey.",
			TargetRoles: []string{"admin", "manager"},
			Timeout:     72 * time.Hour,
			Steps: []model.StepDefinition{
				{ID: "select_template", Name: "Select template", Permissions: []string{"survey:view"}},
				{ID: "draft_questions", Name: "Draft questions", Permissions: []string{"survey:create"}, Resource: "survey", Operation: "create", DependsOn: []string{"select_template"}},
				{ID: "select_audience", Name: "Select audience", Permissions: []string{"survey:create"}, Resource: "department", Operation: "view", DependsOn: []string{"draft_questions"}},
				{ID: "schedule", Name: "Schedule delivery", Permissions: []string{"survey:schedule"}, Optional: true},
				{ID: "review", Name: "Review", Permissions: []string{"survey:create"}, DependsOn: []string{"draft_questions", "select_audience"}},
				{ID: "publish", Name: "Publish", Permissions: []string{"survey:publish"}, Resource: "survey", Operation: "update", DependsOn: []string{"review"}},
			},
			Transitions: []model.TransitionDefinition{
				{From: "select_audience", To: "review", Guard: model.FieldEquals{Field: "schedule_later", Value: false}},
				{
					From:       "review",
					To:         "publish",
					Guard:      model.FieldEquals{Field: "approved", Value: true},
					Validation: &model.AuthorizationRequirement{Resource: "survey", Operation: "update", Permission: "survey:publish"},
				},
				{From: "review", To: "draft_questions", Guard: model.FieldEquals{Field: "approved", Value: false}},
				{
					From:   "publish",
					To:     "publish",
					Action: act(ActionPublishSurvey),
					Emit:   &model.EventSpec{Type: "survey.published", TargetModules: []string{"notifications", "analytics"}},
				},
			},
		},
		{
			Name:        WorkflowLiveFeedback,
			Title:       "Run a live feedback session",
			Description: "Prepare, open, moderate and close a real-time feedback session.",
			TargetRoles: []string{"admin", "manager"},
			Timeout:     4 * time.Hour,
			Steps: []model.StepDefinition{
				{ID: "prepare", Name: "Prepare questions", Permissions: []string{"survey:live:manage"}},
				{ID: "open", Name: "Open session", Permissions: []string{"survey:live:manage"}, Resource: "live_session", Operation: "create"},
				{ID: "moderate", Name: "Moderate responses", Permissions: []string{"survey:live:manage"}, Resource: "live_session", Operation: "update"},
				{ID: "close", Name: "Close session", Permissions: []string{"survey:live:manage"}},
				{ID: "share", Name: "Share summary", Permissions: []string{"report:view"}, Optional: true},
			},
			Transitions: []model.TransitionDefinition{
				{
					From:   "prepare",
					To:     "open",
					Action: act(ActionOpenLiveSession),
					Emit:   &model.EventSpec{Type: "live_session.opened", TargetModules: []string{"notifications"}},
				},
				{
					From:   "moderate",
					To:     "close",
					Action: act(ActionCloseLiveSession),
					Emit:   &model.EventSpec{Type: "live_session.closed", TargetModules: []string{"analytics"}},
				},
			},
		},
		{
			Name:        WorkflowActionPlan,
			Title:       "Manage an action plan",
			Description: "Turn survey findings into assigned, tracked actions.",
			TargetRoles: []string{"admin", "manager", "employee"},
			Timeout:     30 * 24 * time.Hour,
			Steps: []model.StepDefinition{
				{ID: "review_findings", Name: "Review findings", Permissions: []string{"report:view"}, Resource: "report", Operation: "view"},
				{ID: "define_actions", Name: "Define actions", RequiredRole: "manager", Permissions: []string{"action_plan:create"}, Resource: "action_plan", Operation: "create"},
				{ID: "assign_owners", Name: "Assign owners", RequiredRole: "manager", Permissions: []string{"action_plan:assign"}, DependsOn: []string{"define_actions"}},
				{ID: "track_progress", Name: "Track progress", Permissions: []string{"action_plan:view"}, Resource: "action_plan", Operation: "view"},
				{ID: "close_plan", Name: "Close plan", RequiredRole: "manager", Permissions: []string{"action_plan:update"}},
			},
			Transitions: []model.TransitionDefinition{
				{
					From:       "assign_owners",
					To:         "track_progress",
					Validation: &model.AuthorizationRequirement{Resource: "action_plan", Operation: "update"},
					Action:     act(ActionAssignActionPlan),
					Emit:       &model.EventSpec{Type: "action_plan.assigned", TargetModules: []string{"notifications"}},
				},
				{From: "track_progress", To: "track_progress", Guard: model.FieldEquals{Field: "all_done", Value: false}},
			},
		},
		{
			Name:        WorkflowReportGeneration,
			Title:       "Generate a report",
			Description: "Select a survey, filter responses and export the report.",
			TargetRoles: []string{"admin", "manager"},
			Timeout:     2 * time.Hour,
			Steps: []model.StepDefinition{
				{ID: "select_survey", Name: "Select survey", Permissions: []string{"report:view"}},
				{ID: "filter", Name: "Filter responses", Permissions: []string{"report:view"}, Resource: "report", Operation: "view"},
				{ID: "compare", Name: "Compare departments", Permissions: []string{"report:compare"}, Resource: "report", Operation: "compare", Optional: true},
				{ID: "export", Name: "Export", Permissions: []string{"report:export"}, Resource: "report", Operation: "export"},
			},
			Transitions: []model.TransitionDefinition{
				{From: "filter", To: "export", Guard: model.FieldEquals{Field: "skip_comparison", Value: true}},
				{
					From:   "export",
					To:     "export",
					Action: act(ActionDeliverReport),
					Emit:   &model.EventSpec{Type: "report.exported", TargetModules: []string{"notifications"}},
				},
			},
		},
	}
}

// RegisterCatalog registers the built-in workflows.
func RegisterCatalog(reg *Registry, actions model.ActionRegistry) error {
	for _, def := range Catalog(actions) {
		if err := reg.Register(def); err != nil {
			return err
		}
	}
	return nil
}
