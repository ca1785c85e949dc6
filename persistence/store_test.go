package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/BaSui01/inkflow/internal/database"
	"github.com/BaSui01/inkflow/testutil"
	"github.com/BaSui01/inkflow/types"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// testT 同时满足 *testing.T 与 *rapid.T
type testT interface {
	Helper()
	Errorf(format string, args ...any)
	FailNow()
}

type fixture struct {
	pool  *database.PoolManager
	clock *testutil.StepClock
	*Stores
}

func newFixture(t testing.TB) *fixture {
	t.Helper()
	pool := testutil.NewSQLitePool(t)
	clock := testutil.NewStepClock(t0, time.Second)
	return &fixture{
		pool:   pool,
		clock:  clock,
		Stores: NewStores(pool, DefaultMaxCheckpoints, zap.NewNop(), WithClock(clock.Now)),
	}
}

func sampleMetadata() types.DocumentMetadata {
	return types.DocumentMetadata{
		Title:       "Practical Go Concurrency",
		Description: "Patterns for bounded worker pools",
		Tone:        "pragmatic",
		Keywords:    []string{"go", "concurrency", "errgroup"},
		Audience:    "backend engineers",
		LengthMin:   800,
		LengthMax:   1500,
	}
}

func (f *fixture) newDocument(t testT, content string) types.Document {
	t.Helper()
	ctx := context.Background()
	doc, err := f.Documents.Create(ctx, types.Document{OwnerID: "owner-1", Metadata: sampleMetadata()})
	require.NoError(t, err)
	if content != "" {
		doc, err = f.Documents.UpdateContent(ctx, doc.ID, content, "")
		require.NoError(t, err)
	}
	return doc
}

func (f *fixture) setContent(t testT, id, content string) {
	t.Helper()
	_, err := f.Documents.UpdateContent(context.Background(), id, content, "")
	require.NoError(t, err)
}

// =============================================================================
// 🧪 DocumentStore
// =============================================================================

func TestDocumentStore_CreateThenLoadRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := testutil.TestContext(t)

	created, err := f.Documents.Create(ctx, types.Document{
		OwnerID:      "owner-1",
		Metadata:     sampleMetadata(),
		Content:      "# Draft",
		Instructions: "prefer short paragraphs",
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	assert.False(t, created.CreatedAt.IsZero())
	assert.Equal(t, created.CreatedAt, created.UpdatedAt)

	loaded, err := f.Documents.Load(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created, loaded)
	assert.Equal(t, sampleMetadata(), loaded.Metadata)
	assert.Equal(t, "# Draft", loaded.Content)
	assert.Equal(t, "prefer short paragraphs", loaded.Instructions)
}

func TestDocumentStore_CreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := testutil.TestContext(t)

	_, err := f.Documents.Create(ctx, types.Document{Metadata: sampleMetadata()})
	assert.True(t, types.IsErrorCode(err, types.ErrValidation))

	bad := sampleMetadata()
	bad.LengthMin, bad.LengthMax = 900, 100
	_, err = f.Documents.Create(ctx, types.Document{OwnerID: "o", Metadata: bad})
	assert.True(t, types.IsErrorCode(err, types.ErrValidation))
}

func TestDocumentStore_CreateWithExistingIDReturnsExisting(t *testing.T) {
	f := newFixture(t)
	ctx := testutil.TestContext(t)

	id := DeriveID("exec-1", t0)
	first, err := f.Documents.Create(ctx, types.Document{ID: id, OwnerID: "o", Metadata: sampleMetadata()})
	require.NoError(t, err)

	again, err := f.Documents.Create(ctx, types.Document{ID: id, OwnerID: "o", Metadata: sampleMetadata()})
	require.NoError(t, err)
	assert.Equal(t, first, again)

	summaries, err := f.Documents.ListSummaries(ctx, "o")
	require.NoError(t, err)
	assert.Len(t, summaries, 1)
}

func TestDocumentStore_UpdateContentWritesOnlyNonEmptyFields(t *testing.T) {
	f := newFixture(t)
	ctx := testutil.TestContext(t)
	doc := f.newDocument(t, "body v1")

	updated, err := f.Documents.UpdateContent(ctx, doc.ID, "", "always cite sources")
	require.NoError(t, err)
	assert.Equal(t, "body v1", updated.Content)
	assert.Equal(t, "always cite sources", updated.Instructions)
	assert.True(t, updated.UpdatedAt.After(doc.UpdatedAt))

	bumped, err := f.Documents.UpdateContent(ctx, doc.ID, "", "")
	require.NoError(t, err)
	assert.Equal(t, "body v1", bumped.Content)
	assert.True(t, bumped.UpdatedAt.After(updated.UpdatedAt))

	_, err = f.Documents.UpdateContent(ctx, "missing", "x", "")
	assert.True(t, types.IsNotFound(err))
}

func TestDocumentStore_LoadMissing(t *testing.T) {
	f := newFixture(t)
	_, err := f.Documents.Load(testutil.TestContext(t), "nope")
	assert.True(t, types.IsNotFound(err))
	assert.False(t, types.IsRetryable(err))

	_, err = f.Documents.View(testutil.TestContext(t), "nope")
	assert.True(t, types.IsNotFound(err))
}

func TestDocumentStore_ListSummariesNewestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := testutil.TestContext(t)

	a := f.newDocument(t, "")
	b := f.newDocument(t, "")
	f.setContent(t, a.ID, "touched later")

	_, err := f.Documents.Create(ctx, types.Document{OwnerID: "someone-else", Metadata: sampleMetadata()})
	require.NoError(t, err)

	summaries, err := f.Documents.ListSummaries(ctx, "owner-1")
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, a.ID, summaries[0].ID)
	assert.Equal(t, b.ID, summaries[1].ID)
	assert.Equal(t, "Practical Go Concurrency", summaries[0].Title)
}

// =============================================================================
// 🧪 MessageStore
// =============================================================================

func TestMessageStore_AppendIsIdempotentPerKey(t *testing.T) {
	f := newFixture(t)
	ctx := testutil.TestContext(t)
	doc := f.newDocument(t, "")

	m1, err := f.Messages.Append(ctx, doc.ID, "shorter intro", "trimmed the intro", "exec-1")
	require.NoError(t, err)
	again, err := f.Messages.Append(ctx, doc.ID, "shorter intro", "trimmed the intro", "exec-1")
	require.NoError(t, err)
	assert.Equal(t, m1, again)

	_, err = f.Messages.Append(ctx, doc.ID, "add faq", "added faq", "")
	require.NoError(t, err)

	all, err := f.Messages.ListByDocumentAscending(ctx, doc.ID)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestMessageStore_AppendRejectsKeyFromAnotherDocument(t *testing.T) {
	f := newFixture(t)
	ctx := testutil.TestContext(t)
	docA := f.newDocument(t, "")
	docB := f.newDocument(t, "")

	_, err := f.Messages.Append(ctx, docA.ID, "u", "a", "exec-1")
	require.NoError(t, err)

	_, err = f.Messages.Append(ctx, docB.ID, "u", "a", "exec-1")
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrValidation))

	onB, err := f.Messages.ListByDocumentAscending(ctx, docB.ID)
	require.NoError(t, err)
	assert.Empty(t, onB)
}

func TestMessageStore_AppendUnknownDocument(t *testing.T) {
	f := newFixture(t)
	_, err := f.Messages.Append(testutil.TestContext(t), "ghost", "u", "a", "k")
	assert.True(t, types.IsNotFound(err))
}

func TestMessageStore_TimestampsStrictlyIncreaseUnderFrozenClock(t *testing.T) {
	pool := testutil.NewSQLitePool(t)
	frozen := func() time.Time { return t0 }
	stores := NewStores(pool, DefaultMaxCheckpoints, nil, WithClock(frozen))
	ctx := testutil.TestContext(t)

	doc, err := stores.Documents.Create(ctx, types.Document{OwnerID: "o", Metadata: sampleMetadata()})
	require.NoError(t, err)

	var prev time.Time
	for i := 0; i < 5; i++ {
		m, err := stores.Messages.Append(ctx, doc.ID, "u", "a", "")
		require.NoError(t, err)
		assert.True(t, m.UpdatedAt.After(prev), "message %d", i)
		prev = m.UpdatedAt

		cp, err := stores.Checkpoints.Create(ctx, m.ID)
		require.NoError(t, err)
		assert.False(t, cp.CreatedAt.Before(t0))
	}

	cps, err := stores.Checkpoints.ListByDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, cps, 3)
	assert.True(t, cps[0].CreatedAt.Before(cps[1].CreatedAt))
	assert.True(t, cps[1].CreatedAt.Before(cps[2].CreatedAt))
}

func TestMessageStore_ListRecentKeepsAscendingOrder(t *testing.T) {
	f := newFixture(t)
	ctx := testutil.TestContext(t)
	doc := f.newDocument(t, "")

	var ids []string
	for _, text := range []string{"one", "two", "three", "four"} {
		m, err := f.Messages.Append(ctx, doc.ID, text, "ok", "")
		require.NoError(t, err)
		ids = append(ids, m.ID)
	}

	recent, err := f.Messages.ListRecent(ctx, doc.ID, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, ids[2], recent[0].ID)
	assert.Equal(t, ids[3], recent[1].ID)

	all, err := f.Messages.ListRecent(ctx, doc.ID, 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestMessageStore_DeleteByIDsRemovesOwnedCheckpoints(t *testing.T) {
	f := newFixture(t)
	ctx := testutil.TestContext(t)
	doc := f.newDocument(t, "v1")

	m1, err := f.Messages.Append(ctx, doc.ID, "u1", "a1", "")
	require.NoError(t, err)
	m2, err := f.Messages.Append(ctx, doc.ID, "u2", "a2", "")
	require.NoError(t, err)
	cp, err := f.Checkpoints.Create(ctx, m2.ID)
	require.NoError(t, err)

	n, err := f.Messages.DeleteByIDs(ctx, []string{m2.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = f.Checkpoints.Get(ctx, cp.ID)
	assert.True(t, types.IsNotFound(err))
	_, err = f.Messages.Get(ctx, m1.ID)
	assert.NoError(t, err)

	n, err = f.Messages.DeleteByIDs(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

// =============================================================================
// 🧪 错误映射
// =============================================================================

func newMockStores(t *testing.T) (*Stores, sqlmock.Sqlmock) {
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB}), &gorm.Config{DisableAutomaticPing: true})
	require.NoError(t, err)
	pool, err := database.NewPoolManager(gormDB, database.PoolConfig{MaxOpenConns: 1, MaxIdleConns: 1}, zap.NewNop())
	require.NoError(t, err)

	return NewStores(pool, DefaultMaxCheckpoints, zap.NewNop()), mock
}

func TestStores_DriverErrorsAreTransient(t *testing.T) {
	stores, mock := newMockStores(t)
	mock.ExpectQuery(`SELECT \* FROM "documents"`).WillReturnError(errors.New("connection reset by peer"))

	_, err := stores.Documents.Load(context.Background(), "doc-1")
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrTransientInfra))
	assert.True(t, types.IsRetryable(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

var (
	messageColumns  = []string{"id", "document_id", "user_text", "ai_text", "checkpoint_id", "idempotency_key", "updated_at"}
	documentColumns = []string{"id", "owner_id", "title", "content", "created_at", "updated_at"}
)

// expectDocumentLock 期望先按消息查出文档 ID，再锁定文档行
func expectDocumentLock(mock sqlmock.Sqlmock, from string) {
	mock.ExpectQuery(`SELECT "document_id" FROM "` + from + `"`).
		WillReturnRows(sqlmock.NewRows([]string{"document_id"}).AddRow("d1"))
	mock.ExpectQuery(`SELECT \* FROM "documents" .*FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows(documentColumns).AddRow("d1", "o", "T", "body", t0, t0))
}

func TestCheckpointStore_CreateRollsBackWhenLinkFails(t *testing.T) {
	stores, mock := newMockStores(t)

	mock.ExpectBegin()
	expectDocumentLock(mock, "messages")
	mock.ExpectQuery(`SELECT \* FROM "messages" .*FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows(messageColumns).AddRow("m1", "d1", "u", "a", nil, nil, t0))
	mock.ExpectQuery(`SELECT "id","created_at" FROM "checkpoints" .*FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}))
	mock.ExpectExec(`INSERT INTO "checkpoints"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE "messages" SET "checkpoint_id"`).WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()

	_, err := stores.Checkpoints.Create(context.Background(), "m1")
	require.Error(t, err)
	assert.True(t, types.IsRetryable(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckpointStore_CreateLocksDocumentBeforeListing(t *testing.T) {
	stores, mock := newMockStores(t)

	mock.ExpectBegin()
	expectDocumentLock(mock, "messages")
	mock.ExpectQuery(`SELECT \* FROM "messages" .*FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows(messageColumns).AddRow("m4", "d1", "u", "a", nil, nil, t0.Add(4*time.Second)))
	mock.ExpectQuery(`SELECT "id","created_at" FROM "checkpoints" .*FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).
			AddRow("c1", t0.Add(time.Second)).
			AddRow("c2", t0.Add(2*time.Second)).
			AddRow("c3", t0.Add(3*time.Second)))
	// 已满：淘汰最旧的 c1 后再插入
	mock.ExpectExec(`UPDATE "messages" SET "checkpoint_id"`).WithArgs(nil, "c1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM "checkpoints"`).WithArgs("c1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO "checkpoints"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE "messages" SET "checkpoint_id"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	cp, err := stores.Checkpoints.Create(context.Background(), "m4")
	require.NoError(t, err)
	assert.Equal(t, "d1", cp.DocumentID)
	assert.Equal(t, "body", cp.Content)
	assert.True(t, cp.CreatedAt.After(t0.Add(3*time.Second)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckpointStore_RestoreLocksDocumentFirst(t *testing.T) {
	stores, mock := newMockStores(t)

	mock.ExpectBegin()
	expectDocumentLock(mock, "checkpoints")
	mock.ExpectQuery(`SELECT \* FROM "checkpoints" .*FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "document_id", "content", "created_at"}).
			AddRow("c1", "d1", "old body", t0))
	mock.ExpectQuery(`SELECT \* FROM "messages" .*checkpoint_id.*FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows(messageColumns).AddRow("m1", "d1", "u", "a", "c1", nil, t0))
	mock.ExpectQuery(`SELECT "id" FROM "messages" .*FOR UPDATE`).
		WillReturnError(errors.New("lock wait timeout exceeded"))
	mock.ExpectRollback()

	_, err := stores.Checkpoints.Restore(context.Background(), "c1")
	require.Error(t, err)
	assert.True(t, types.IsRetryable(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageStore_AppendLocksDocumentFirst(t *testing.T) {
	stores, mock := newMockStores(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "documents" .*FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows(documentColumns).AddRow("d1", "o", "T", "body", t0, t0))
	mock.ExpectQuery(`SELECT \* FROM "messages" WHERE idempotency_key`).
		WillReturnRows(sqlmock.NewRows(messageColumns))
	mock.ExpectQuery(`SELECT \* FROM "messages" .*FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows(messageColumns).AddRow("m1", "d1", "u", "a", nil, nil, t0))
	mock.ExpectExec(`INSERT INTO "messages"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	m, err := stores.Messages.Append(context.Background(), "d1", "u2", "a2", "exec-9")
	require.NoError(t, err)
	assert.True(t, m.UpdatedAt.After(t0))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeriveID_Deterministic(t *testing.T) {
	a := DeriveID("exec-42", t0)
	assert.Equal(t, a, DeriveID("exec-42", t0))
	assert.NotEqual(t, a, DeriveID("exec-43", t0))
	assert.Len(t, a, 26)
	assert.Less(t, NewID(t0), NewID(t0.Add(time.Millisecond)))
}
