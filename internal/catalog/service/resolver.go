package service

import (
	"strings"

	"github.com/smallbiznis/paymatch/internal/catalog/domain"
)

// resolve picks exactly one entry for a possibly truncated id. An exact id
// wins; otherwise prefix candidates are narrowed by price. When several
// candidates remain and none matches the amount, rejectAmbiguous decides
// between the first candidate in id order and ErrAmbiguousPrefix.
func resolve[T domain.Entry](entries []T, id string, amount int64, rejectAmbiguous bool) (T, error) {
	var zero T
	id = strings.ToLower(strings.TrimSpace(id))
	if id == "" {
		return zero, domain.ErrNotFound
	}

	for _, entry := range entries {
		if strings.ToLower(entry.CatalogID()) == id {
			return entry, nil
		}
	}

	candidates := make([]T, 0, 2)
	for _, entry := range entries {
		if strings.HasPrefix(strings.ToLower(entry.CatalogID()), id) {
			candidates = append(candidates, entry)
		}
	}

	switch len(candidates) {
	case 0:
		return zero, domain.ErrNotFound
	case 1:
		return candidates[0], nil
	}

	for _, candidate := range candidates {
		if candidate.CatalogPrice() == amount {
			return candidate, nil
		}
	}
	if rejectAmbiguous {
		return zero, domain.ErrAmbiguousPrefix
	}
	return candidates[0], nil
}
