package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/capitalize-ai/shopping-assistant/internal/apperr"
	"github.com/capitalize-ai/shopping-assistant/internal/model"
	"github.com/capitalize-ai/shopping-assistant/internal/persona"
)

const personaColumns = `id, owner_id, type, name, age, gender, interests_json, last_purchase_json, created_at, updated_at`

const defaultListLimit = 100

// PersonaStore implements persona.Store.
type PersonaStore struct {
	db  *DB
	now func() time.Time
}

// NewPersonaStore creates a persona store.
func NewPersonaStore(db *DB) *PersonaStore {
	return &PersonaStore{db: db, now: time.Now}
}

var _ persona.Store = (*PersonaStore)(nil)

func normName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// FindByType returns the owner's personas of a type, most recently updated first.
func (s *PersonaStore) FindByType(ctx context.Context, ownerID, personaType string) ([]model.Persona, error) {
	return s.query(ctx, "find personas by type",
		`SELECT `+personaColumns+` FROM personas WHERE owner_id = ? AND type = ? ORDER BY updated_at DESC, id`,
		ownerID, personaType)
}

// FindByTypeAndName returns the most recently updated persona matching type
// and name case-insensitively, or nil.
func (s *PersonaStore) FindByTypeAndName(ctx context.Context, ownerID, personaType, name string) (*model.Persona, error) {
	found, err := s.query(ctx, "find persona by name",
		`SELECT `+personaColumns+` FROM personas WHERE owner_id = ? AND type = ? AND name_norm = ? ORDER BY updated_at DESC, id LIMIT 1`,
		ownerID, personaType, normName(name))
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, nil
	}
	return &found[0], nil
}

// Create inserts a persona, assigning an id and timestamps when unset.
func (s *PersonaStore) Create(ctx context.Context, p model.Persona) (model.Persona, error) {
	if p.ID == "" {
		p.ID = uuid.Must(uuid.NewV7()).String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}
	p.CreatedAt = truncate(p.CreatedAt)
	p.UpdatedAt = truncate(p.UpdatedAt)
	p.Type = strings.ToLower(strings.TrimSpace(p.Type))

	args, err := personaArgs(p)
	if err != nil {
		return model.Persona{}, err
	}
	_, err = s.db.db.ExecContext(ctx, s.db.rebind(`
		INSERT INTO personas (`+personaColumns+`, name_norm)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		append(args, normName(p.Name))...)
	if err != nil {
		return model.Persona{}, s.db.unavailable("create persona", err)
	}
	return p, nil
}

// Update applies a patch to the owner's persona.
func (s *PersonaStore) Update(ctx context.Context, ownerID, id string, patch model.PersonaPatch) (model.Persona, error) {
	tx, err := s.db.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Persona{}, s.db.unavailable("begin persona update", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, s.db.rebind(`SELECT `+personaColumns+` FROM personas WHERE owner_id = ? AND id = ?`), ownerID, id)
	cur, err := scanPersona(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Persona{}, apperr.NewNotFound("persona", id)
	}
	if err != nil {
		return model.Persona{}, s.db.unavailable("load persona", err)
	}

	next := *patch.Apply(&cur)
	next.UpdatedAt = truncate(s.now())

	interests, purchase, err := encodeJSONColumns(next)
	if err != nil {
		return model.Persona{}, err
	}
	_, err = tx.ExecContext(ctx, s.db.rebind(`
		UPDATE personas
		SET name = ?, name_norm = ?, age = ?, gender = ?, interests_json = ?, last_purchase_json = ?, updated_at = ?
		WHERE owner_id = ? AND id = ?`),
		next.Name, normName(next.Name), nullAge(next.Age), nullString(string(next.Gender)),
		interests, purchase, toMillis(next.UpdatedAt), ownerID, id)
	if err != nil {
		return model.Persona{}, s.db.unavailable("update persona", err)
	}
	if err := tx.Commit(); err != nil {
		return model.Persona{}, s.db.unavailable("commit persona update", err)
	}
	return next, nil
}

// Get returns one of the owner's personas.
func (s *PersonaStore) Get(ctx context.Context, ownerID, id string) (model.Persona, error) {
	row := s.db.db.QueryRowContext(ctx, s.db.rebind(`SELECT `+personaColumns+` FROM personas WHERE owner_id = ? AND id = ?`), ownerID, id)
	p, err := scanPersona(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Persona{}, apperr.NewNotFound("persona", id)
	}
	if err != nil {
		return model.Persona{}, s.db.unavailable("get persona", err)
	}
	return p, nil
}

// List returns the owner's personas, newest first.
func (s *PersonaStore) List(ctx context.Context, ownerID string, filter persona.ListFilter) ([]model.Persona, error) {
	query := `SELECT ` + personaColumns + ` FROM personas WHERE owner_id = ?`
	args := []any{ownerID}
	if filter.Type != "" {
		query += ` AND type = ?`
		args = append(args, strings.ToLower(strings.TrimSpace(filter.Type)))
	}
	if filter.Name != "" {
		query += ` AND name_norm = ?`
		args = append(args, normName(filter.Name))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	return s.query(ctx, "list personas", query, args...)
}

// Delete removes one of the owner's personas.
func (s *PersonaStore) Delete(ctx context.Context, ownerID, id string) error {
	res, err := s.db.db.ExecContext(ctx, s.db.rebind(`DELETE FROM personas WHERE owner_id = ? AND id = ?`), ownerID, id)
	if err != nil {
		return s.db.unavailable("delete persona", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return s.db.unavailable("delete persona", err)
	}
	if n == 0 {
		return apperr.NewNotFound("persona", id)
	}
	return nil
}

func (s *PersonaStore) query(ctx context.Context, op, query string, args ...any) ([]model.Persona, error) {
	rows, err := s.db.db.QueryContext(ctx, s.db.rebind(query), args...)
	if err != nil {
		return nil, s.db.unavailable(op, err)
	}
	defer rows.Close()

	out := []model.Persona{}
	for rows.Next() {
		p, err := scanPersona(rows)
		if err != nil {
			return nil, s.db.unavailable(op, err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, s.db.unavailable(op, err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPersona(row scanner) (model.Persona, error) {
	var (
		p                   model.Persona
		age                 sql.NullInt64
		gender              sql.NullString
		interests, purchase sql.NullString
		createdAt, updated  int64
	)
	if err := row.Scan(&p.ID, &p.OwnerID, &p.Type, &p.Name, &age, &gender, &interests, &purchase, &createdAt, &updated); err != nil {
		return model.Persona{}, err
	}
	if age.Valid {
		v := int(age.Int64)
		p.Age = &v
	}
	p.Gender = model.Gender(gender.String)
	if interests.Valid && interests.String != "" {
		if err := json.Unmarshal([]byte(interests.String), &p.Interests); err != nil {
			return model.Persona{}, fmt.Errorf("failed to decode interests: %w", err)
		}
	}
	if purchase.Valid && purchase.String != "" {
		var lp model.Purchase
		if err := json.Unmarshal([]byte(purchase.String), &lp); err != nil {
			return model.Persona{}, fmt.Errorf("failed to decode last purchase: %w", err)
		}
		p.LastPurchase = &lp
	}
	p.CreatedAt = fromMillis(createdAt)
	p.UpdatedAt = fromMillis(updated)
	return p, nil
}

func personaArgs(p model.Persona) ([]any, error) {
	interests, purchase, err := encodeJSONColumns(p)
	if err != nil {
		return nil, err
	}
	return []any{
		p.ID, p.OwnerID, p.Type, p.Name, nullAge(p.Age), nullString(string(p.Gender)),
		interests, purchase, toMillis(p.CreatedAt), toMillis(p.UpdatedAt),
	}, nil
}

func encodeJSONColumns(p model.Persona) (sql.NullString, sql.NullString, error) {
	var interests, purchase sql.NullString
	if len(p.Interests) > 0 {
		data, err := json.Marshal(p.Interests)
		if err != nil {
			return interests, purchase, fmt.Errorf("failed to encode interests: %w", err)
		}
		interests = sql.NullString{String: string(data), Valid: true}
	}
	if p.LastPurchase != nil {
		data, err := json.Marshal(p.LastPurchase)
		if err != nil {
			return interests, purchase, fmt.Errorf("failed to encode last purchase: %w", err)
		}
		purchase = sql.NullString{String: string(data), Valid: true}
	}
	return interests, purchase, nil
}

func nullAge(age *int) sql.NullInt64 {
	if age == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*age), Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
