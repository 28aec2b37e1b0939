package prompts

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed templates/*.tmpl templates/params.yaml
var promptFS embed.FS

// Template names.
const (
	ReviewSystem   = "review_system"
	ReviewUser     = "review_user"
	RefactorSystem = "refactor_system"
	RefactorUser   = "refactor_user"
)

// Operation names used for generation parameters.
const (
	OpReview   = "review"
	OpRefactor = "refactor"
)

// Params are the generation parameters sent with an operation.
type Params struct {
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// ReviewData fills the review templates.
type ReviewData struct {
	Language string
	Focus    string
	Code     string
}

// RefactorData fills the refactor templates.
type RefactorData struct {
	Language string
	Code     string
	Issues   []string
}

// Set is a loaded collection of prompt templates and parameters.
type Set struct {
	templates map[string]*template.Template
	params    map[string]Params
}

// overrideFile is the on-disk format accepted by Load.
type overrideFile struct {
	Templates map[string]string `yaml:"templates"`
	Params    map[string]Params `yaml:"params"`
}

// Default returns the embedded prompt set.
func Default() (*Set, error) {
	set := &Set{
		templates: make(map[string]*template.Template),
		params:    make(map[string]Params),
	}

	entries, err := promptFS.ReadDir("templates")
	if err != nil {
		return nil, fmt.Errorf("failed to read prompt templates: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".tmpl") {
			continue
		}
		content, err := promptFS.ReadFile(path.Join("templates", entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read prompt file %s: %w", entry.Name(), err)
		}
		name := strings.TrimSuffix(entry.Name(), ".tmpl")
		if err := set.parse(name, string(content)); err != nil {
			return nil, err
		}
	}

	raw, err := promptFS.ReadFile("templates/params.yaml")
	if err != nil {
		return nil, fmt.Errorf("failed to read prompt params: %w", err)
	}
	if err := yaml.Unmarshal(raw, &set.params); err != nil {
		return nil, fmt.Errorf("failed to decode prompt params: %w", err)
	}
	return set, nil
}

// Load returns the embedded set with overrides from the YAML file at path
// applied. An empty path yields the embedded set.
func Load(filePath string) (*Set, error) {
	set, err := Default()
	if err != nil {
		return nil, err
	}
	if filePath == "" {
		return set, nil
	}

	raw, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read prompts file: %w", err)
	}
	var overrides overrideFile
	if err := yaml.Unmarshal(raw, &overrides); err != nil {
		return nil, fmt.Errorf("decode prompts file %s: %w", filePath, err)
	}

	for name, content := range overrides.Templates {
		if _, ok := set.templates[name]; !ok {
			return nil, fmt.Errorf("prompts file %s: unknown template %q (known: %s)",
				filePath, name, strings.Join(set.Names(), ", "))
		}
		if err := set.parse(name, content); err != nil {
			return nil, err
		}
	}
	for op, params := range overrides.Params {
		if _, ok := set.params[op]; !ok {
			return nil, fmt.Errorf("prompts file %s: unknown operation %q", filePath, op)
		}
		set.params[op] = params
	}
	return set, nil
}

func (s *Set) parse(name, content string) error {
	tmpl, err := template.New(name).Option("missingkey=error").Parse(content)
	if err != nil {
		return fmt.Errorf("parse prompt template %s: %w", name, err)
	}
	s.templates[name] = tmpl
	return nil
}

// Names lists the template names in the set.
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.templates))
	for name := range s.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Render executes the named template with data.
func (s *Set) Render(name string, data any) (string, error) {
	tmpl, ok := s.templates[name]
	if !ok {
		return "", fmt.Errorf("prompt template '%s' not found", name)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render prompt %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// Params returns the generation parameters for op.
func (s *Set) Params(op string) Params {
	return s.params[op]
}

// Review renders the system and user prompt of a review.
func (s *Set) Review(data ReviewData) (system, user string, err error) {
	if system, err = s.Render(ReviewSystem, data); err != nil {
		return "", "", err
	}
	if user, err = s.Render(ReviewUser, data); err != nil {
		return "", "", err
	}
	return system, user, nil
}

// Refactor renders the system and user prompt of a refactor.
func (s *Set) Refactor(data RefactorData) (system, user string, err error) {
	if system, err = s.Render(RefactorSystem, data); err != nil {
		return "", "", err
	}
	if user, err = s.Render(RefactorUser, data); err != nil {
		return "", "", err
	}
	return system, user, nil
}
