package definition

// Document is the root structure of a definition file. A file declares one
// or more workflows.
type Document struct {
	Workflows []WorkflowDocument `yaml:"workflows" validate:"required,min=1,dive"`

	// Checksum is computed at load time and not part of the YAML.
	Checksum string `yaml:"-"`
	// SourceFile records the originating file path.
	SourceFile string `yaml:"-"`
}

// WorkflowDocument is the YAML form of a workflow definition.
type WorkflowDocument struct {
	Name        string               `yaml:"name"         validate:"required"`
	Title       string               `yaml:"title"`
	Description string               `yaml:"description"`
	TargetRoles []string             `yaml:"target_roles" validate:"dive,required"`
	Timeout     string               `yaml:"timeout"`
	Completion  string               `yaml:"completion"`
	Steps       []StepDocument       `yaml:"steps"        validate:"required,min=1,dive"`
	Transitions []TransitionDocument `yaml:"transitions"  validate:"dive"`
}

// StepDocument is the YAML form of a step.
type StepDocument struct {
	ID           string   `yaml:"id"            validate:"required"`
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description"`
	RequiredRole string   `yaml:"required_role"`
	Permissions  []string `yaml:"permissions"   validate:"dive,required"`
	Resource     string   `yaml:"resource"      validate:"required_with=Operation"`
	Operation    string   `yaml:"operation"     validate:"required_with=Resource"`
	Optional     bool     `yaml:"optional"`
	DependsOn    []string `yaml:"depends_on"    validate:"dive,required"`
}

// TransitionDocument is the YAML form of a transition.
type TransitionDocument struct {
	From       string              `yaml:"from"       validate:"required"`
	To         string              `yaml:"to"         validate:"required"`
	Guard      string              `yaml:"guard"`
	Validation *ValidationDocument `yaml:"validation"`
	Action     string              `yaml:"action"`
	Emit       *EmitDocument       `yaml:"emit"`
}

// ValidationDocument is the YAML form of a transition's authorization check.
type ValidationDocument struct {
	Resource   string `yaml:"resource"   validate:"required_without=Permission,required_with=Operation"`
	Operation  string `yaml:"operation"  validate:"required_with=Resource"`
	Permission string `yaml:"permission"`
}

// EmitDocument is the YAML form of a transition's domain event.
type EmitDocument struct {
	Type    string   `yaml:"type"    validate:"required"`
	Targets []string `yaml:"targets"`
}
