package job

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-playground/validator/v10"
)

var jobNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._:-]*$`)

// ErrDuplicateJob indicates two handlers registered the same name.
var ErrDuplicateJob = errors.New("job already registered")

// UnknownDependencyError reports a dependency that names no registered job.
type UnknownDependencyError struct {
	Job        string
	Dependency string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("job %s depends on unregistered job %s", e.Job, e.Dependency)
}

// Registry maps job names to handlers. Build it once at startup, call Validate,
// then treat it as read-only.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	validate *validator.Validate
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("jobname", func(fl validator.FieldLevel) bool {
		return jobNamePattern.MatchString(fl.Field().String())
	})
	return &Registry{
		handlers: make(map[string]Handler),
		validate: v,
	}
}

// Register adds a handler after checking its definition.
func (r *Registry) Register(h Handler) error {
	if h == nil {
		return errors.New("handler is required")
	}
	def := h.Definition()
	if err := r.validate.Struct(def); err != nil {
		return fmt.Errorf("invalid definition for job %q: %w", def.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[def.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, def.Name)
	}
	r.handlers[def.Name] = h
	return nil
}

// MustRegister registers handlers and panics on the first error.
func (r *Registry) MustRegister(handlers ...Handler) {
	for _, h := range handlers {
		if err := r.Register(h); err != nil {
			panic(err)
		}
	}
}

// Validate checks cross-definition constraints: every dependency is registered and there is no cycle.
func (r *Registry) Validate() error {
	defs := r.Definitions()
	names := make(map[string]struct{}, len(defs))
	for _, d := range defs {
		names[d.Name] = struct{}{}
	}

	var errs []error
	for _, d := range defs {
		for _, dep := range d.Dependencies {
			if _, ok := names[dep]; !ok {
				errs = append(errs, &UnknownDependencyError{Job: d.Name, Dependency: dep})
			}
		}
	}
	if _, err := Order(defs); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Lookup returns the handler registered under name.
func (r *Registry) Lookup(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Definition returns the definition registered under name.
func (r *Registry) Definition(name string) (Definition, bool) {
	h, ok := r.Lookup(name)
	if !ok {
		return Definition{}, false
	}
	return h.Definition(), true
}

// Definitions returns every definition sorted by name.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defs := make([]Definition, 0, len(r.handlers))
	for _, h := range r.handlers {
		defs = append(defs, h.Definition())
	}
	r.mu.RUnlock()

	slices.SortFunc(defs, func(a, b Definition) int {
		return strings.Compare(a.Name, b.Name)
	})
	return defs
}

// Names returns every registered job name, sorted.
func (r *Registry) Names() []string {
	defs := r.Definitions()
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Name
	}
	return names
}

// Group returns the definitions that declare membership in group, sorted by name.
func (r *Registry) Group(group string) []Definition {
	var out []Definition
	for _, d := range r.Definitions() {
		if d.InGroup(group) {
			out = append(out, d)
		}
	}
	return out
}

// Match returns definitions whose name matches a doublestar glob such as "reports-*".
func (r *Registry) Match(pattern string) ([]Definition, error) {
	if pattern == "" {
		return r.Definitions(), nil
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid job pattern %q", pattern)
	}
	var out []Definition
	for _, d := range r.Definitions() {
		ok, err := doublestar.Match(pattern, d.Name)
		if err != nil {
			return nil, fmt.Errorf("match job pattern: %w", err)
		}
		if ok {
			out = append(out, d)
		}
	}
	return out, nil
}

// Len returns the number of registered handlers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}
