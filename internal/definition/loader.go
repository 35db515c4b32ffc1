// Package definition loads YAML workflow definitions, compiles their guard and
// completion expressions, and provides a lock-free registry of the results.
package definition

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/pitabwire/stepwise/model"
)

// Compiled is a definition ready for Registry.RegisterWithChecksum.
type Compiled struct {
	Definition model.WorkflowDefinition
	Checksum   string
	SourceFile string
}

// Loader scans directories for YAML definition files, parses them, and
// compiles them into model definitions.
type Loader struct {
	validate *validator.Validate
	actions  model.ActionRegistry
}

// NewLoader creates a Loader that resolves action names against actions.
// A nil registry makes any named action a load error.
func NewLoader(actions model.ActionRegistry) *Loader {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Loader{validate: v, actions: actions}
}

// LoadAll recursively scans directories for *.yaml and *.yml files and parses
// each into a Document.
func (l *Loader) LoadAll(directories []string) ([]Document, error) {
	var docs []Document

	for _, dir := range directories {
		err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			ext := strings.ToLower(filepath.Ext(path))
			if ext != ".yaml" && ext != ".yml" {
				return nil
			}

			doc, err := l.LoadFile(path)
			if err != nil {
				return err
			}
			docs = append(docs, doc)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scanning directory %s: %w", dir, err)
		}
	}

	return docs, nil
}

// LoadFile loads and parses a single YAML definition file. It computes the
// SHA-256 checksum and records the source file path.
func (l *Loader) LoadFile(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("reading %s: %w", path, err)
	}
	return l.Parse(data, path)
}

// Parse decodes one definition document.
func (l *Loader) Parse(data []byte, source string) (Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("parsing %s: %w", source, err)
	}
	doc.Checksum = fmt.Sprintf("%x", sha256.Sum256(data))
	doc.SourceFile = source
	return doc, nil
}

// Compile validates documents and turns them into model definitions. All
// problems across all documents are collected; a definition is only returned
// when it compiled cleanly.
func (l *Loader) Compile(docs []Document) ([]Compiled, []VError) {
	var (
		out  []Compiled
		errs []VError
		seen = make(map[string]string)
	)

	for _, doc := range docs {
		prefix := doc.SourceFile
		if prefix == "" {
			prefix = "document"
		}

		if verrs := l.structErrors(prefix, doc); len(verrs) > 0 {
			errs = append(errs, verrs...)
			continue
		}

		for i, wd := range doc.Workflows {
			wp := fmt.Sprintf("%s:workflows[%d]", prefix, i)

			if other, dup := seen[wd.Name]; dup {
				errs = append(errs, VError{
					Path:    wp + ".name",
					Code:    "DUPLICATE",
					Message: fmt.Sprintf("workflow %q is also declared in %s", wd.Name, other),
				})
				continue
			}
			seen[wd.Name] = wp

			def, verrs := l.compileWorkflow(wp, wd)
			if len(verrs) > 0 {
				errs = append(errs, verrs...)
				continue
			}
			out = append(out, Compiled{Definition: def, Checksum: doc.Checksum, SourceFile: doc.SourceFile})
		}
	}

	return out, errs
}

// LoadAndRegister loads every document under directories, compiles them and
// registers the results. Any VError aborts registration of everything.
func (l *Loader) LoadAndRegister(reg *Registry, directories []string) (int, []VError, error) {
	docs, err := l.LoadAll(directories)
	if err != nil {
		return 0, nil, err
	}
	compiled, verrs := l.Compile(docs)
	if len(verrs) > 0 {
		return 0, verrs, nil
	}
	for _, c := range compiled {
		if err := reg.RegisterWithChecksum(c.Definition, c.Checksum); err != nil {
			return 0, nil, fmt.Errorf("registering %s: %w", c.SourceFile, err)
		}
	}
	return len(compiled), nil, nil
}

func (l *Loader) structErrors(prefix string, doc Document) []VError {
	err := l.validate.Struct(doc)
	if err == nil {
		return nil
	}
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return []VError{{Path: prefix, Code: "INVALID", Message: err.Error()}}
	}
	errs := make([]VError, 0, len(validationErrors))
	for _, fe := range validationErrors {
		ns := fe.Namespace()
		if i := strings.Index(ns, "."); i >= 0 {
			ns = ns[i+1:]
		}
		errs = append(errs, VError{
			Path:    prefix + ":" + ns,
			Code:    strings.ToUpper(fe.Tag()),
			Message: fmt.Sprintf("%s failed the %q rule", fe.Field(), fe.Tag()),
		})
	}
	return errs
}

func (l *Loader) compileWorkflow(prefix string, wd WorkflowDocument) (model.WorkflowDefinition, []VError) {
	var errs []VError

	def := model.WorkflowDefinition{
		Name:        wd.Name,
		Title:       wd.Title,
		Description: wd.Description,
		TargetRoles: wd.TargetRoles,
	}

	if wd.Timeout != "" {
		dur, err := time.ParseDuration(wd.Timeout)
		if err != nil {
			errs = append(errs, VError{Path: prefix + ".timeout", Code: "INVALID_DURATION", Message: err.Error()})
		}
		def.Timeout = dur
	}

	if wd.Completion != "" {
		c, err := CompileCompletion(wd.Completion)
		if err != nil {
			errs = append(errs, VError{Path: prefix + ".completion", Code: "INVALID_EXPRESSION", Message: err.Error()})
		} else {
			def.Completion = c
		}
	}

	for _, sd := range wd.Steps {
		def.Steps = append(def.Steps, model.StepDefinition{
			ID:           sd.ID,
			Name:         sd.Name,
			Description:  sd.Description,
			RequiredRole: sd.RequiredRole,
			Permissions:  sd.Permissions,
			Resource:     sd.Resource,
			Operation:    sd.Operation,
			Optional:     sd.Optional,
			DependsOn:    sd.DependsOn,
		})
	}

	for i, td := range wd.Transitions {
		tp := fmt.Sprintf("%s.transitions[%d]", prefix, i)
		tr := model.TransitionDefinition{From: td.From, To: td.To}

		if td.Guard != "" {
			g, err := CompileGuard(td.Guard)
			if err != nil {
				errs = append(errs, VError{Path: tp + ".guard", Code: "INVALID_EXPRESSION", Message: err.Error()})
			} else {
				tr.Guard = g
			}
		}
		if td.Action != "" {
			a, err := l.actions.Lookup(td.Action)
			if err != nil {
				errs = append(errs, VError{Path: tp + ".action", Code: "REF_NOT_FOUND", Message: err.Error()})
			} else {
				tr.Action = a
			}
		}
		if v := td.Validation; v != nil {
			tr.Validation = &model.AuthorizationRequirement{
				Resource:   v.Resource,
				Operation:  v.Operation,
				Permission: v.Permission,
			}
		}
		if e := td.Emit; e != nil {
			tr.Emit = &model.EventSpec{Type: e.Type, TargetModules: e.Targets}
		}
		def.Transitions = append(def.Transitions, tr)
	}

	for _, fe := range CheckDefinition(def) {
		errs = append(errs, VError{Path: prefix + "." + fe.Field, Code: fe.Code, Message: fe.Message})
	}

	return def, errs
}
