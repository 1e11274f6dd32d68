package statemachine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vigil-soc/vigil/pkg/docstore"
)

// NextIncidentID allocates the next INC-YYYY-XXXXX identifier by
// CAS-incrementing a per-year counter document. Safe across
// coordinator instances sharing one store.
func (m *Machine) NextIncidentID(ctx context.Context, now time.Time) (string, error) {
	year := now.UTC().Year()
	counterID := fmt.Sprintf("incident-%d", year)

	for attempt := 0; attempt < casRetries; attempt++ {
		doc, err := m.store.Get(ctx, docstore.IndexCounters, counterID)
		if errors.Is(err, docstore.ErrNotFound) {
			created, cerr := m.store.Create(ctx, docstore.IndexCounters, counterID, map[string]any{"value": 1})
			if errors.Is(cerr, docstore.ErrConflict) {
				continue // another instance initialized it first
			}
			if cerr != nil {
				return "", fmt.Errorf("initializing incident counter: %w", cerr)
			}
			_ = created
			return fmt.Sprintf("INC-%d-%05d", year, 1), nil
		}
		if err != nil {
			return "", fmt.Errorf("reading incident counter: %w", err)
		}

		current, _ := doc.Source["value"].(float64)
		next := int64(current) + 1
		_, err = m.store.Update(ctx, docstore.IndexCounters, counterID,
			map[string]any{"value": next}, doc.SeqNo, doc.PrimaryTerm)
		if err == nil {
			return fmt.Sprintf("INC-%d-%05d", year, next), nil
		}
		if !errors.Is(err, docstore.ErrConflict) {
			return "", fmt.Errorf("incrementing incident counter: %w", err)
		}
	}
	return "", &ConcurrencyError{IncidentID: counterID, Attempts: casRetries}
}
