package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/shopping-assistant/internal/apperr"
	"github.com/capitalize-ai/shopping-assistant/internal/model"
	"github.com/capitalize-ai/shopping-assistant/internal/persona"
	"github.com/capitalize-ai/shopping-assistant/pkg/logger"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "data", "assistant.db"), 0, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func intPtr(v int) *int { return &v }

func TestOpen_MigratesOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "assistant.db")
	ctx := context.Background()

	db, err := Open(ctx, path, 0, logger.NewNop())
	require.NoError(t, err)
	assert.Equal(t, DialectSQLite, db.Dialect())
	require.NoError(t, db.Ping(ctx))

	var version int
	require.NoError(t, db.db.QueryRowContext(ctx, "PRAGMA user_version;").Scan(&version))
	assert.Equal(t, CurrentSchemaVersion, version)
	require.NoError(t, db.Close())

	db, err = Open(ctx, path, 0, logger.NewNop())
	require.NoError(t, err)
	require.NoError(t, db.Close())
}

func TestIsPostgresDSN(t *testing.T) {
	assert.True(t, IsPostgresDSN("postgres://u:p@localhost/assistant?sslmode=disable"))
	assert.True(t, IsPostgresDSN("host=localhost user=assistant dbname=assistant"))
	assert.False(t, IsPostgresDSN("data/assistant.db"))
}

func TestRebind(t *testing.T) {
	pg := &DB{dialect: DialectPostgres}
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", pg.rebind("SELECT * FROM t WHERE a = ? AND b = ?"))

	lite := &DB{dialect: DialectSQLite}
	assert.Equal(t, "a = ?", lite.rebind("a = ?"))
}

func TestPersonaStore_CRUD(t *testing.T) {
	s := NewPersonaStore(openTestDB(t))
	ctx := context.Background()

	created, err := s.Create(ctx, model.Persona{
		OwnerID: "u1", Type: "Mother", Name: "Jane", Age: intPtr(62),
		Gender: model.GenderFemale, Interests: []string{"gardening", "reading"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "mother", created.Type)

	got, err := s.Get(ctx, "u1", created.ID)
	require.NoError(t, err)
	assert.Equal(t, created, got)

	_, err = s.Get(ctx, "u2", created.ID)
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))

	newAge := 63
	purchase := &model.Purchase{Item: "Trowel", Occasion: "birthday", Date: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)}
	updated, err := s.Update(ctx, "u1", created.ID, model.PersonaPatch{Age: &newAge, LastPurchase: purchase})
	require.NoError(t, err)
	assert.Equal(t, 63, *updated.Age)
	assert.Equal(t, []string{"gardening", "reading"}, updated.Interests)

	got, err = s.Get(ctx, "u1", created.ID)
	require.NoError(t, err)
	assert.Equal(t, updated, got)
	require.NotNil(t, got.LastPurchase)
	assert.Equal(t, "Trowel", got.LastPurchase.Item)

	_, err = s.Update(ctx, "u1", "missing", model.PersonaPatch{Age: &newAge})
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))

	require.NoError(t, s.Delete(ctx, "u1", created.ID))
	err = s.Delete(ctx, "u1", created.ID)
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))
}

func TestPersonaStore_Find(t *testing.T) {
	s := NewPersonaStore(openTestDB(t))
	ctx := context.Background()

	for _, p := range []model.Persona{
		{OwnerID: "u1", Type: "friend", Name: "Sam"},
		{OwnerID: "u1", Type: "friend", Name: "Alex Kim"},
		{OwnerID: "u1", Type: "mother", Name: "Jane"},
		{OwnerID: "u2", Type: "friend", Name: "Sam"},
	} {
		_, err := s.Create(ctx, p)
		require.NoError(t, err)
	}

	friends, err := s.FindByType(ctx, "u1", "friend")
	require.NoError(t, err)
	assert.Len(t, friends, 2)

	alex, err := s.FindByTypeAndName(ctx, "u1", "friend", "  alex   KIM ")
	require.NoError(t, err)
	require.NotNil(t, alex)
	assert.Equal(t, "Alex Kim", alex.Name)

	none, err := s.FindByTypeAndName(ctx, "u1", "father", "Bob")
	require.NoError(t, err)
	assert.Nil(t, none)

	listed, err := s.List(ctx, "u1", persona.ListFilter{Type: "friend", Name: "sam"})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "u1", listed[0].OwnerID)

	all, err := s.List(ctx, "u1", persona.ListFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestPersonaStore_IncompleteRecord(t *testing.T) {
	s := NewPersonaStore(openTestDB(t))
	ctx := context.Background()

	created, err := s.Create(ctx, model.Persona{OwnerID: "u1", Type: "sibling", Name: "Ann"})
	require.NoError(t, err)

	got, err := s.Get(ctx, "u1", created.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Age)
	assert.Empty(t, got.Gender)
	assert.Empty(t, got.Interests)
	assert.Equal(t, model.AllAttributes[1:], got.Missing())
}

func TestPersonaStore_ClosedDatabaseIsUnavailable(t *testing.T) {
	db := openTestDB(t)
	s := NewPersonaStore(db)
	require.NoError(t, db.Close())

	_, err := s.FindByType(context.Background(), "u1", "friend")
	assert.True(t, apperr.Is(err, apperr.CodeStorageUnavailable))
}

func TestSessionStore(t *testing.T) {
	s := NewSessionStore(openTestDB(t))
	ctx := context.Background()
	base := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

	for i, id := range []string{"s1", "s2", "s3"} {
		st := model.NewFlowState(id, base)
		st.EntryPoint = "myself"
		st.CurrentStep = model.StepCategory
		require.NoError(t, s.RecordSession(ctx, model.FlowSession{
			ID:        "snap-" + id,
			SessionID: id,
			OwnerID:   "u1",
			Reason:    model.ReasonAbandoned,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			State:     st,
		}))
	}

	// Recording the same session again is a no-op.
	require.NoError(t, s.RecordSession(ctx, model.FlowSession{
		ID: "snap-dup", SessionID: "s1", OwnerID: "u1", Reason: model.ReasonCompleted, CreatedAt: base.Add(time.Hour),
	}))

	n, err := s.CountSessions(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got, err := s.ListSessions(ctx, "u1", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "s3", got[0].SessionID)
	assert.Equal(t, "s2", got[1].SessionID)
	assert.Equal(t, "myself", got[0].State.EntryPoint)
	assert.Equal(t, model.ReasonAbandoned, got[0].Reason)

	others, err := s.ListSessions(ctx, "u2", 5)
	require.NoError(t, err)
	assert.Empty(t, others)
}
