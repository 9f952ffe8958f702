package manifest

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/fulmenhq/gofulmen/schema"

	schemasassets "github.com/3leaps/jobsender/internal/assets/schemas"
)

// SchemaID identifies the batch manifest schema.
const SchemaID = "jobsender/v1.0.0/batch-manifest"

var (
	ErrSchemaNotFound   = errors.New("manifest schema not found")
	ErrValidationFailed = errors.New("manifest validation failed")
)

// Problem is one schema violation, located by JSON pointer
// (e.g. "/athena/evtmax"). The pointer is empty for document-level issues
// such as a missing flavor section.
type Problem struct {
	Pointer string
	Message string
}

func (p Problem) String() string {
	if p.Pointer == "" {
		return p.Message
	}
	return p.Pointer + ": " + p.Message
}

// SchemaError lists every violation found in a batch manifest. It matches
// ErrValidationFailed with errors.Is.
type SchemaError struct {
	Problems []Problem
}

func (e *SchemaError) Error() string {
	if len(e.Problems) == 1 {
		return "invalid batch manifest: " + e.Problems[0].String()
	}
	lines := make([]string, 0, len(e.Problems)+1)
	lines = append(lines, fmt.Sprintf("invalid batch manifest (%d problems):", len(e.Problems)))
	for _, p := range e.Problems {
		lines = append(lines, "  - "+p.String())
	}
	return strings.Join(lines, "\n")
}

func (e *SchemaError) Unwrap() error { return ErrValidationFailed }

var batchSchema = sync.OnceValues(func() (*schema.Validator, error) {
	if len(schemasassets.BatchManifestSchema) == 0 {
		return nil, fmt.Errorf("%w: embedded batch-manifest schema is empty", ErrSchemaNotFound)
	}
	v, err := schema.NewValidator(schemasassets.BatchManifestSchema)
	if err != nil {
		return nil, fmt.Errorf("compile batch manifest schema: %w", err)
	}
	return v, nil
})

// ValidateRaw checks a JSON document against the embedded batch manifest
// schema. Warnings are ignored; any error-level diagnostic yields a
// *SchemaError.
func ValidateRaw(jsonData []byte) error {
	v, err := batchSchema()
	if err != nil {
		return err
	}
	diags, err := v.ValidateJSON(jsonData)
	if err != nil {
		return fmt.Errorf("validate batch manifest: %w", err)
	}

	var problems []Problem
	for _, d := range diags {
		if d.Severity == schema.SeverityError {
			problems = append(problems, Problem{Pointer: d.Pointer, Message: d.Message})
		}
	}
	if len(problems) == 0 {
		return nil
	}
	return &SchemaError{Problems: problems}
}
