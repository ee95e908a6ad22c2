// Package catalog provides the editable micro-step library consumed by the
// recovery engine.
//
// The Provider owns the only mutable copy of the catalog. Readers receive
// deep-copied snapshots so an admin edit never changes steps under a
// recovery call that is already running.
package catalog

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/BTreeMap/Onebit/internal/focus"
	"github.com/BTreeMap/Onebit/internal/models"
	"gopkg.in/yaml.v3"
)

// Error variables for catalog edits.
var (
	ErrCategoryNotFound  = errors.New("category not found")
	ErrCategoryExists    = errors.New("category already exists")
	ErrProtectedCategory = errors.New("the Generic category cannot be removed")
	ErrStepIndexRange    = errors.New("step index out of range")
	ErrLastGenericStep   = errors.New("the Generic category must keep at least two steps")
)

// MinGenericSteps is the number of steps Generic must always keep.
const MinGenericSteps = 2

// Saver persists a catalog after every successful edit.
type Saver interface {
	SaveCatalog(categories []models.StepCategory) error
}

// Default returns a fresh copy of the built-in step library.
func Default() []models.StepCategory {
	return []models.StepCategory{
		{Name: focus.CategoryWriting, Steps: []string{"Open the file", "Write a title", "Write one sentence", "Set a 5-minute timer"}},
		{Name: focus.CategoryStudying, Steps: []string{"Open the textbook", "Read one paragraph", "Write one question", "Highlight one key point"}},
		{Name: focus.CategoryCalls, Steps: []string{"Find contact info", "Write 3 bullet points", "Set a reminder", "Draft opening line"}},
		{Name: focus.CategoryAdmin, Steps: []string{"Open the form", "Fill one field", "Find the document", "Write the subject line"}},
		{Name: focus.CategoryGeneric, Steps: []string{"Set a 5-minute timer", "Clear desktop of distractions", "Write down the first step", "Open the relevant app"}},
	}
}

// Opts holds configuration for a Provider.
type Opts struct {
	Initial []models.StepCategory
	Saver   Saver
}

// Option defines a configuration option for the Provider.
type Option func(*Opts)

// WithInitial seeds the provider with categories instead of the defaults.
func WithInitial(categories []models.StepCategory) Option {
	return func(o *Opts) { o.Initial = categories }
}

// WithSaver persists every edit through s.
func WithSaver(s Saver) Option {
	return func(o *Opts) { o.Saver = s }
}

// Provider serves catalog snapshots and applies admin edits.
type Provider struct {
	mu         sync.RWMutex
	categories []models.StepCategory
	saver      Saver
}

// NewProvider creates a Provider. An empty initial catalog falls back to Default.
func NewProvider(opts ...Option) *Provider {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	categories := Normalize(cfg.Initial)
	if len(categories) == 0 {
		categories = Default()
	}
	slog.Debug("catalog.NewProvider: catalog ready", "categories", len(categories), "saver_set", cfg.Saver != nil)
	return &Provider{categories: categories, saver: cfg.Saver}
}

// Get returns a deep copy of the current catalog.
func (p *Provider) Get() []models.StepCategory {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return clone(p.categories)
}

// AddCategory appends an empty category.
func (p *Provider) AddCategory(name string) error {
	name = strings.TrimSpace(name)
	if err := validateName(name); err != nil {
		return err
	}
	return p.edit(func(cats []models.StepCategory) ([]models.StepCategory, error) {
		if indexOf(cats, name) >= 0 {
			return nil, fmt.Errorf("%w: %s", ErrCategoryExists, name)
		}
		return append(cats, models.StepCategory{Name: name, Steps: []string{}}), nil
	})
}

// RemoveCategory deletes a category. Generic is protected.
func (p *Provider) RemoveCategory(name string) error {
	name = strings.TrimSpace(name)
	if name == focus.CategoryGeneric {
		return ErrProtectedCategory
	}
	return p.edit(func(cats []models.StepCategory) ([]models.StepCategory, error) {
		i := indexOf(cats, name)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", ErrCategoryNotFound, name)
		}
		return append(cats[:i], cats[i+1:]...), nil
	})
}

// AddStep appends a step to a category.
func (p *Provider) AddStep(category, step string) error {
	category = strings.TrimSpace(category)
	step = strings.TrimSpace(step)
	if step == "" {
		return models.ErrEmptyStep
	}
	if len(step) > models.MaxStepLength {
		return models.ErrStepTooLong
	}
	return p.edit(func(cats []models.StepCategory) ([]models.StepCategory, error) {
		i := indexOf(cats, category)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", ErrCategoryNotFound, category)
		}
		cats[i].Steps = append(cats[i].Steps, step)
		return cats, nil
	})
}

// RemoveStep deletes the step at index from a category.
func (p *Provider) RemoveStep(category string, index int) error {
	category = strings.TrimSpace(category)
	return p.edit(func(cats []models.StepCategory) ([]models.StepCategory, error) {
		i := indexOf(cats, category)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", ErrCategoryNotFound, category)
		}
		steps := cats[i].Steps
		if index < 0 || index >= len(steps) {
			return nil, ErrStepIndexRange
		}
		if category == focus.CategoryGeneric && len(steps) <= MinGenericSteps {
			return nil, ErrLastGenericStep
		}
		cats[i].Steps = append(steps[:index], steps[index+1:]...)
		return cats, nil
	})
}

// Reset restores the built-in library.
func (p *Provider) Reset() error {
	return p.edit(func([]models.StepCategory) ([]models.StepCategory, error) {
		return Default(), nil
	})
}

// edit applies fn to a working copy and commits it only if fn and the
// saver both succeed.
func (p *Provider) edit(fn func([]models.StepCategory) ([]models.StepCategory, error)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	next, err := fn(clone(p.categories))
	if err != nil {
		slog.Warn("catalog.Provider: edit rejected", "error", err)
		return err
	}
	if p.saver != nil {
		if err := p.saver.SaveCatalog(next); err != nil {
			slog.Error("catalog.Provider: failed to persist catalog", "error", err)
			return fmt.Errorf("failed to persist catalog: %w", err)
		}
	}
	p.categories = next
	slog.Info("catalog.Provider: catalog updated", "categories", len(next))
	return nil
}

// fileFormat is the YAML layout accepted by LoadFile.
type fileFormat struct {
	Categories []models.StepCategory `yaml:"categories"`
}

// LoadFile reads a YAML step library of the form
//
//	categories:
//	  - name: Writing
//	    steps: [Open the file, Write a title]
func LoadFile(path string) ([]models.StepCategory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a YAML step library and normalizes it.
func Parse(data []byte) ([]models.StepCategory, error) {
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	cats := Normalize(f.Categories)
	if len(cats) == 0 {
		return nil, errors.New("catalog file defines no categories")
	}
	return cats, nil
}

// Normalize trims names and steps, drops blank entries and duplicate
// category names (first wins), and guarantees a usable Generic entry.
func Normalize(in []models.StepCategory) []models.StepCategory {
	if len(in) == 0 {
		return nil
	}
	out := make([]models.StepCategory, 0, len(in)+1)
	seen := make(map[string]bool, len(in))
	for _, c := range in {
		name := strings.TrimSpace(c.Name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		steps := make([]string, 0, len(c.Steps))
		for _, s := range c.Steps {
			if s = strings.TrimSpace(s); s != "" {
				steps = append(steps, s)
			}
		}
		out = append(out, models.StepCategory{Name: name, Steps: steps})
	}
	defaults := Default()
	generic := defaults[indexOf(defaults, focus.CategoryGeneric)]
	if i := indexOf(out, focus.CategoryGeneric); i < 0 {
		out = append(out, generic)
	} else if len(out[i].Steps) < MinGenericSteps {
		out[i].Steps = generic.Steps
	}
	return out
}

func validateName(name string) error {
	if name == "" {
		return models.ErrEmptyCategoryName
	}
	if len(name) > models.MaxCategoryNameLength {
		return models.ErrCategoryNameTooLong
	}
	return nil
}

func indexOf(cats []models.StepCategory, name string) int {
	for i, c := range cats {
		if c.Name == name {
			return i
		}
	}
	return -1
}

func clone(in []models.StepCategory) []models.StepCategory {
	out := make([]models.StepCategory, len(in))
	for i, c := range in {
		out[i] = models.StepCategory{Name: c.Name, Steps: append([]string{}, c.Steps...)}
	}
	return out
}
