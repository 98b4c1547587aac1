package records

import (
	"context"
	"fmt"
	"io"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/celerix-dev/carbon-ledger/pkg/schema"
	"github.com/celerix-dev/carbon-ledger/pkg/sdk"
)

// SeedFile is the YAML layout accepted by Seed. Field names inside each entry
// are the document field names.
type SeedFile struct {
	Users           []map[string]any `yaml:"users"`
	Activities      []map[string]any `yaml:"activities"`
	EmissionFactors []map[string]any `yaml:"emissionFactors"`
	Emissions       []map[string]any `yaml:"emissions"`
	Recommendations []map[string]any `yaml:"recommendations"`
	Vehicles        []map[string]any `yaml:"vehicles"`
}

// Seed imports a YAML seed file through the ledger and returns the number of
// records created per collection. Every entry is validated before anything is
// written. When a create fails the counts of what was already written are
// returned with the error.
func Seed(ctx context.Context, l *Ledger, r io.Reader) (map[string]int, error) {
	var file SeedFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil && err != io.EOF {
		return nil, eris.Wrap(err, "records: parse seed file")
	}

	var steps []func() error
	counts := make(map[string]int)

	if err := plan(ctx, l.Users, file.Users, counts, &steps); err != nil {
		return nil, err
	}
	if err := plan(ctx, l.Activities, file.Activities, counts, &steps); err != nil {
		return nil, err
	}
	if err := plan(ctx, l.EmissionFactors, file.EmissionFactors, counts, &steps); err != nil {
		return nil, err
	}
	if err := plan(ctx, l.Emissions, file.Emissions, counts, &steps); err != nil {
		return nil, err
	}
	if err := plan(ctx, l.Recommendations, file.Recommendations, counts, &steps); err != nil {
		return nil, err
	}
	if err := plan(ctx, l.Vehicles, file.Vehicles, counts, &steps); err != nil {
		return nil, err
	}

	for _, step := range steps {
		if err := step(); err != nil {
			return counts, err
		}
	}
	return counts, nil
}

// plan decodes and validates entries, queueing one create per entry.
func plan[T schema.Record[T]](ctx context.Context, repo *Repository[T], entries []map[string]any, counts map[string]int, steps *[]func() error) error {
	for i, entry := range entries {
		rec, err := sdk.Decode[T]("", sdk.Document(normalizeYAML(entry).(map[string]any)))
		if err != nil {
			return eris.Wrapf(err, "records: seed %s[%d]", repo.Collection(), i)
		}
		if err := rec.WithDefaults(repo.now()).Validate(); err != nil {
			return eris.Wrapf(err, "records: seed %s[%d]", repo.Collection(), i)
		}
		*steps = append(*steps, func() error {
			if _, err := repo.Create(ctx, rec); err != nil {
				return eris.Wrapf(err, "records: seed %s[%d]", repo.Collection(), i)
			}
			counts[repo.Collection()]++
			return nil
		})
	}
	return nil
}

// normalizeYAML turns the map[any]any values yaml can produce for nested
// mappings into JSON-encodable maps.
func normalizeYAML(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeYAML(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[fmt.Sprint(k)] = normalizeYAML(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeYAML(item)
		}
		return out
	}
	return v
}
