// Package postgresql implements the catalog store over PostgreSQL with raw
// SQL. Every method wraps driver failures into the dberror hierarchy and
// logs through the context logger.
package postgresql

import (
	"github.com/jackc/pgconn"
	"github.com/jackc/pgtype"

	"github.com/terrado/geosyncsrv/internal/db/dberror"
	"github.com/terrado/geosyncsrv/internal/db/dbmanager"
	"github.com/terrado/geosyncsrv/pkg/apperrors"
	"github.com/terrado/geosyncsrv/pkg/types"
)

type Store struct {
	q dbmanager.Querier
}

func NewStore(q dbmanager.Querier) *Store {
	return &Store{q: q}
}

// constraintErr maps a PostgreSQL constraint violation onto the dberror
// hierarchy. Unique violations become ErrAlreadyExists, foreign key
// violations ErrInvalidInput. Anything else returns nil so the caller
// falls through to ErrDatabase.
func constraintErr(err error) apperrors.Error {
	pgErr, ok := err.(*pgconn.PgError)
	if !ok {
		return nil
	}
	switch pgErr.Code {
	case "23505":
		return dberror.ErrAlreadyExists.Msg("duplicate value for " + pgErr.ConstraintName)
	case "23503":
		return dberror.ErrInvalidInput.Msg("referenced row does not exist (" + pgErr.ConstraintName + ")")
	}
	return nil
}

// textArray adapts a string slice for a text[] parameter.
func textArray(values []string) *pgtype.TextArray {
	a := &pgtype.TextArray{}
	if values == nil {
		values = []string{}
	}
	_ = a.Set(values)
	return a
}

func slugArray(values []types.Slug) *pgtype.TextArray {
	s := make([]string, len(values))
	for i, v := range values {
		s[i] = string(v)
	}
	return textArray(s)
}

func usernameArray(values []types.Username) *pgtype.TextArray {
	s := make([]string, len(values))
	for i, v := range values {
		s[i] = string(v)
	}
	return textArray(s)
}

func fromTextArray(a pgtype.TextArray) []string {
	var out []string
	_ = a.AssignTo(&out)
	if out == nil {
		out = []string{}
	}
	return out
}

func toSlugs(a pgtype.TextArray) []types.Slug {
	raw := fromTextArray(a)
	out := make([]types.Slug, len(raw))
	for i, v := range raw {
		out[i] = types.Slug(v)
	}
	return out
}

func toUsernames(a pgtype.TextArray) []types.Username {
	raw := fromTextArray(a)
	out := make([]types.Username, len(raw))
	for i, v := range raw {
		out[i] = types.Username(v)
	}
	return out
}
