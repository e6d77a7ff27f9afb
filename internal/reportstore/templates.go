package reportstore

import (
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/ehrlich-b/shiplog/internal/docstore"
)

// Index templates are embedded so index creation works regardless of
// the working directory. They are a versioned contract with whatever
// reads the store; changing a mapping means a new generation, not an
// in-place edit.

//go:embed templates/build.json
var buildTemplate []byte

//go:embed templates/failure.json
var failureTemplate []byte

//go:embed templates/log.json
var logTemplate []byte

// TemplateFor returns the index creation template for a class.
func TemplateFor(class Class) (docstore.Template, error) {
	var raw []byte
	switch class {
	case ClassBuild:
		raw = buildTemplate
	case ClassFailure:
		raw = failureTemplate
	case ClassLog:
		raw = logTemplate
	default:
		return docstore.Template{}, fmt.Errorf("unknown index class %q", class)
	}

	var tmpl docstore.Template
	if err := json.Unmarshal(raw, &tmpl); err != nil {
		return docstore.Template{}, fmt.Errorf("parse %s template: %w", class, err)
	}
	return tmpl, nil
}
