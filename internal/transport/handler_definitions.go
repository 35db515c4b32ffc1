package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/stepwise/model"
)

// ChecksumHeader carries the registry checksum on definition responses.
const ChecksumHeader = "X-Definitions-Checksum"

type definitionsHandler struct {
	defs Definitions
}

type definitionSummary struct {
	Name        string   `json:"name"`
	Title       string   `json:"title,omitempty"`
	TargetRoles []string `json:"target_roles,omitempty"`
	Steps       int      `json:"steps"`
	Transitions int      `json:"transitions"`
	Timeout     string   `json:"timeout,omitempty"`
}

type stepView struct {
	ID           string   `json:"id"`
	Name         string   `json:"name,omitempty"`
	RequiredRole string   `json:"required_role,omitempty"`
	Permissions  []string `json:"permissions,omitempty"`
	Resource     string   `json:"resource,omitempty"`
	Operation    string   `json:"operation,omitempty"`
	Optional     bool     `json:"optional,omitempty"`
	DependsOn    []string `json:"depends_on,omitempty"`
}

type transitionView struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Guarded   bool   `json:"guarded,omitempty"`
	Validated bool   `json:"validated,omitempty"`
	Action    bool   `json:"action,omitempty"`
	Emits     string `json:"emits,omitempty"`
}

type definitionView struct {
	definitionSummary
	Description    string           `json:"description,omitempty"`
	StepList       []stepView       `json:"step_list"`
	TransitionList []transitionView `json:"transition_list"`
}

func summarize(def model.WorkflowDefinition) definitionSummary {
	s := definitionSummary{
		Name:        def.Name,
		Title:       def.Title,
		TargetRoles: def.TargetRoles,
		Steps:       len(def.Steps),
		Transitions: len(def.Transitions),
	}
	if def.Timeout > 0 {
		s.Timeout = def.Timeout.String()
	}
	return s
}

func (h *definitionsHandler) list(w http.ResponseWriter, _ *http.Request) {
	all := h.defs.All()
	out := make([]definitionSummary, 0, len(all))
	for _, def := range all {
		out = append(out, summarize(def))
	}
	w.Header().Set(ChecksumHeader, h.defs.Checksum())
	WriteJSON(w, http.StatusOK, out)
}

func (h *definitionsHandler) get(w http.ResponseWriter, r *http.Request) {
	def, err := h.defs.Get(chi.URLParam(r, "name"))
	if err != nil {
		WriteError(w, err)
		return
	}

	view := definitionView{
		definitionSummary: summarize(def),
		Description:       def.Description,
		StepList:          make([]stepView, 0, len(def.Steps)),
		TransitionList:    make([]transitionView, 0, len(def.Transitions)),
	}
	for _, s := range def.Steps {
		view.StepList = append(view.StepList, stepView{
			ID:           s.ID,
			Name:         s.Name,
			RequiredRole: s.RequiredRole,
			Permissions:  s.Permissions,
			Resource:     s.Resource,
			Operation:    s.Operation,
			Optional:     s.Optional,
			DependsOn:    s.DependsOn,
		})
	}
	for _, t := range def.Transitions {
		tv := transitionView{
			From:      t.From,
			To:        t.To,
			Guarded:   t.Guard != nil,
			Validated: t.Validation != nil,
			Action:    t.Action != nil,
		}
		if t.Emit != nil {
			tv.Emits = t.Emit.Type
		}
		view.TransitionList = append(view.TransitionList, tv)
	}
	w.Header().Set(ChecksumHeader, h.defs.Checksum())
	WriteJSON(w, http.StatusOK, view)
}
