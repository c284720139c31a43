package translations

import (
	"context"
	"fmt"
	"strings"

	"github.com/mschirtzinger/sitesync/internal/repository"
	"github.com/mschirtzinger/sitesync/internal/staging"
	"github.com/mschirtzinger/sitesync/internal/storage"
)

// Registry is an ordered, immutable set of translators. It is safe for
// concurrent use.
type Registry struct {
	translators []Translator
	order       []string
}

// NewRegistry builds a registry. Translators are consulted in the given
// order. It fails if pull dependencies form a cycle.
func NewRegistry(translators ...Translator) (*Registry, error) {
	order, err := tableOrder(translators)
	if err != nil {
		return nil, err
	}
	return &Registry{translators: translators, order: order}, nil
}

// All returns the registry of every built-in translator.
func All() *Registry {
	r, err := NewRegistry(
		newUnitTranslator(),
		newItemTranslator(),
		newBarcodeTranslator(),
		newNameTranslator(),
		newStoreTranslator(),
		newLocationTranslator(),
		newStockLineTranslator(),
		newInvoiceTranslator(),
		newInvoiceLineTranslator(),
	)
	if err != nil {
		panic(err)
	}
	return r
}

// Translators returns the translators in registration order.
func (r *Registry) Translators() []Translator {
	return append([]Translator(nil), r.translators...)
}

// TableOrder returns claimed wire tables so that every table follows the
// tables it depends on. Ties keep registration order.
func (r *Registry) TableOrder() []string {
	return append([]string(nil), r.order...)
}

// tableOrder is a stable topological sort over pull dependencies.
// Dependencies on tables no translator claims are ignored.
func tableOrder(translators []Translator) ([]string, error) {
	deps := make(map[string][]string)
	var tables []string
	for _, t := range translators {
		name := t.TableName()
		if _, seen := deps[name]; !seen {
			tables = append(tables, name)
			deps[name] = nil
		}
		deps[name] = append(deps[name], t.PullDependencies()...)
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(tables))
	order := make([]string, 0, len(tables))

	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		if state[name] == done {
			return nil
		}
		// Siblings must not share the backing array.
		next := make([]string, len(path), len(path)+1)
		copy(next, path)
		next = append(next, name)
		if state[name] == visiting {
			return fmt.Errorf("pull dependency cycle: %s", strings.Join(next, " -> "))
		}
		state[name] = visiting
		for _, dep := range deps[name] {
			if _, known := deps[dep]; !known {
				continue
			}
			if err := visit(dep, next); err != nil {
				return err
			}
		}
		state[name] = done
		order = append(order, name)
		return nil
	}

	for _, name := range tables {
		if err := visit(name, nil); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// Dispatch is the combined result of every translator that claimed a record.
type Dispatch struct {
	// Operations from every Operations outcome, in translator order.
	Operations []Operation
	// Matched counts translators that returned Operations or Ignored.
	Matched int
	// Ignored is the first ignore reason, if any translator ignored the record.
	Ignored string
	// Translators names the wire tables of translators that matched.
	Translators []string
}

// IsIgnored reports whether any translator ignored the record.
func (d *Dispatch) IsIgnored() bool { return d.Ignored != "" }

// Dispatch runs every translator that claims rec. A translator error stops
// dispatch and is returned as is.
func (r *Registry) Dispatch(ctx context.Context, q storage.Querier, rec *staging.Record) (*Dispatch, error) {
	result := &Dispatch{}
	for _, t := range r.translators {
		if !t.ShouldTranslate(rec) {
			continue
		}

		var (
			outcome Outcome
			err     error
		)
		switch rec.Action {
		case staging.ActionUpsert:
			outcome, err = t.TranslateUpsert(ctx, q, rec)
		case staging.ActionDelete:
			outcome, err = t.TranslateDelete(ctx, q, rec)
		case staging.ActionMerge:
			outcome, err = t.TranslateMerge(ctx, q, rec)
		default:
			return nil, fmt.Errorf("unknown action %q", rec.Action)
		}
		if err != nil {
			return nil, err
		}

		switch outcome.Kind {
		case OutcomeOperations:
			result.Matched++
			result.Translators = append(result.Translators, t.TableName())
			result.Operations = append(result.Operations, outcome.Operations...)
		case OutcomeIgnored:
			result.Matched++
			result.Translators = append(result.Translators, t.TableName())
			if result.Ignored == "" {
				result.Ignored = outcome.Reason
				if result.Ignored == "" {
					result.Ignored = "ignored"
				}
			}
		}
	}
	return result, nil
}

// Outgoing translates a changelog entry with the first translator that
// handles its table. It returns nil when no translator pushes the table.
func (r *Registry) Outgoing(ctx context.Context, q storage.Querier, entry *repository.ChangelogRow) (*WireRecord, error) {
	for _, t := range r.translators {
		if t.ChangelogTable() == "" || !t.ShouldTranslateOutgoing(entry) {
			continue
		}
		return t.TranslateOutgoing(ctx, q, entry)
	}
	return nil, nil
}

// ChangelogTables returns the local tables pushed by some translator.
func (r *Registry) ChangelogTables() []string {
	var out []string
	seen := make(map[string]bool)
	for _, t := range r.translators {
		if name := t.ChangelogTable(); name != "" && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}
