package sqlstore

import (
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

// keyedRecord is a bun model whose primary key is a string column named id.
// Marketplace ids are uuids for generated rows but callers may supply their
// own, so the repository sees uuid.Nil for anything that does not parse.
type keyedRecord[T any] interface {
	*T
	primaryKey() *string
}

func (r *integrationRecord) primaryKey() *string  { return &r.ID }
func (r *installationRecord) primaryKey() *string { return &r.ID }
func (r *webhookEventRecord) primaryKey() *string { return &r.ID }

func recordHandlers[T any, P keyedRecord[T]]() repository.ModelHandlers[P] {
	key := func(record P) string {
		if record == nil {
			return ""
		}
		return strings.TrimSpace(*record.primaryKey())
	}
	return repository.ModelHandlers[P]{
		NewRecord: func() P { return P(new(T)) },
		GetID: func(record P) uuid.UUID {
			id, err := uuid.Parse(key(record))
			if err != nil {
				return uuid.Nil
			}
			return id
		},
		SetID: func(record P, id uuid.UUID) {
			if record != nil && key(record) == "" {
				*record.primaryKey() = id.String()
			}
		},
		GetIdentifier:      func() string { return "id" },
		GetIdentifierValue: key,
	}
}

func integrationHandlers() repository.ModelHandlers[*integrationRecord] {
	return recordHandlers[integrationRecord]()
}

func installationHandlers() repository.ModelHandlers[*installationRecord] {
	return recordHandlers[installationRecord]()
}

func webhookEventHandlers() repository.ModelHandlers[*webhookEventRecord] {
	return recordHandlers[webhookEventRecord]()
}
