package mysql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	apperrors "OpenMCP-Intent/internal/errors"
	"OpenMCP-Intent/internal/review"
	"OpenMCP-Intent/internal/storage"
	"OpenMCP-Intent/internal/vault"
)

func TestStoreMessages(t *testing.T) {
	t.Parallel()

	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	rows := mockRowsData{
		columns: []string{"id", "wallet", "recipient", "body", "created_at"},
		values:  [][]driver.Value{{"m1", "0xaa", "alice", "hi", created.UnixMilli()}},
	}
	db, drv := newMockDB(t, []mockOperation{
		execOp(insertMessageSQL, mockResult{rowsAffected: 1}),
		queryOp(listMessagesSQL, rows),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	store := NewWithDB(db)
	ctx := context.Background()
	if err := store.SaveMessage(ctx, storage.Message{ID: "m1", Wallet: "0xAA", Recipient: "alice", Body: "hi", CreatedAt: created}); err != nil {
		t.Fatalf("保存消息失败: %v", err)
	}
	if got := drv.lastArgs[1]; got != "0xaa" {
		t.Fatalf("wallet must be stored lowercased, got %v", got)
	}
	msgs, err := store.ListMessages(ctx, "0xaa", 5)
	if err != nil {
		t.Fatalf("查询消息失败: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Recipient != "alice" || !msgs[0].CreatedAt.Equal(created) {
		t.Fatalf("unexpected messages %+v", msgs)
	}
}

func TestStoreNotes(t *testing.T) {
	t.Parallel()

	rows := mockRowsData{
		columns: []string{"id", "wallet", "title", "body", "tags", "created_at"},
		values:  [][]driver.Value{{"n1", "0xaa", "milk", "buy milk", `["todo","home"]`, int64(1)}},
	}
	db, drv := newMockDB(t, []mockOperation{
		execOp(insertNoteSQL, mockResult{rowsAffected: 1}),
		queryOp(getNoteSQL, rows),
		queryOp(getNoteSQL, mockRowsData{columns: rows.columns}),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	store := NewWithDB(db)
	ctx := context.Background()
	if err := store.SaveNote(ctx, storage.Note{ID: "n1", Wallet: "0xaa", Title: "milk", Body: "buy milk", Tags: []string{"todo", "home"}}); err != nil {
		t.Fatalf("保存笔记失败: %v", err)
	}
	if drv.lastArgs[4] != `["todo","home"]` {
		t.Fatalf("tags must be stored as json, got %v", drv.lastArgs[4])
	}
	note, err := store.GetNote(ctx, "0xaa", "n1")
	if err != nil || len(note.Tags) != 2 || note.Tags[1] != "home" {
		t.Fatalf("unexpected note %+v %v", note, err)
	}
	if _, err := store.GetNote(ctx, "0xaa", "missing"); apperrors.CodeOf(err) != apperrors.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestReviewStoreTransitionConflict(t *testing.T) {
	t.Parallel()

	ticketRows := mockRowsData{
		columns: []string{"id", "wallet", "endpoint", "args", "reason", "status", "message", "error_code", "reviewer", "created_at", "updated_at"},
		values:  [][]driver.Value{{"t1", "0xaa", "payments.send", `{"amount":150}`, "amount", "executed", "done", "", "0xaa", int64(1), int64(2)}},
	}
	db, drv := newMockDB(t, []mockOperation{
		execOp(insertTicketSQL, mockResult{rowsAffected: 1}),
		execOp(transitionTicketSQL, mockResult{rowsAffected: 0}),
		queryOp(selectTicketColumns+` WHERE id = ?`, ticketRows),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	store := NewWithDB(db).ReviewStore()
	ctx := context.Background()
	ticket := &review.Ticket{ID: "t1", Wallet: "0xaa", Endpoint: "payments.send", Args: map[string]any{"amount": 150.0}, Status: review.StatusPending, CreatedAt: 1, UpdatedAt: 1}
	if err := store.Create(ctx, ticket); err != nil {
		t.Fatalf("创建审核单失败: %v", err)
	}
	err := store.Transition(ctx, review.Ticket{ID: "t1", Status: review.StatusApproved, UpdatedAt: 3}, review.StatusPending)
	if !errors.Is(err, review.ErrTicketConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestReviewStoreListBuildsFilter(t *testing.T) {
	t.Parallel()

	db, drv := newMockDB(t, []mockOperation{
		queryOp(selectTicketColumns+` WHERE wallet = ? AND status = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
			mockRowsData{columns: []string{"id"}}),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	list, err := NewWithDB(db).ReviewStore().List(context.Background(), review.Filter{Wallet: "0xAA", Status: review.StatusPending, Limit: 5})
	if err != nil || len(list) != 0 {
		t.Fatalf("unexpected list %+v %v", list, err)
	}
	if len(drv.lastArgs) != 3 || drv.lastArgs[0] != "0xaa" {
		t.Fatalf("unexpected args %v", drv.lastArgs)
	}
}

func TestCredentialStore(t *testing.T) {
	t.Parallel()

	db, drv := newMockDB(t, []mockOperation{
		execOp(upsertCredentialSQL, mockResult{rowsAffected: 1}),
		queryOp(getCredentialSQL, mockRowsData{columns: []string{"wallet", "provider", "encrypted_blob", "nonce", "salt", "updated_at"}}),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	store := NewWithDB(db)
	ctx := context.Background()
	rec := vault.Record{Wallet: "0xAA", Provider: "Spotify", Envelope: vault.Envelope{EncryptedBlob: "b", Nonce: "n", Salt: "s"}, UpdatedAt: time.Unix(10, 0)}
	if err := store.PutCredential(ctx, rec); err != nil {
		t.Fatalf("保存凭证失败: %v", err)
	}
	if drv.lastArgs[1] != "spotify" {
		t.Fatalf("provider must be lowercased, got %v", drv.lastArgs[1])
	}
	if _, ok, err := store.GetCredential(ctx, "0xaa", "github"); ok || err != nil {
		t.Fatalf("missing credential must report false without error: %v", err)
	}
}

func TestRunMigrations(t *testing.T) {
	t.Parallel()

	files, err := loadMigrationFiles()
	if err != nil {
		t.Fatalf("读取迁移失败: %v", err)
	}
	if len(files) != 2 || files[0].version != "0001" {
		t.Fatalf("unexpected migrations %+v", files)
	}

	ops := []mockOperation{
		execOp(`CREATE TABLE IF NOT EXISTS schema_migrations (
        version VARCHAR(32) NOT NULL PRIMARY KEY,
        applied_at BIGINT NOT NULL
)`, mockResult{}),
		queryOp(`SELECT version FROM schema_migrations`, mockRowsData{
			columns: []string{"version"},
			values:  [][]driver.Value{{"0001"}},
		}),
		beginOp(),
	}
	for _, stmt := range files[1].statements {
		ops = append(ops, execOp(stmt, mockResult{}))
	}
	ops = append(ops,
		execOp(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, mockResult{rowsAffected: 1}),
		commitOp(),
	)
	db, drv := newMockDB(t, ops)
	defer drv.assertConsumed(t)
	defer db.Close()

	if err := runMigrations(context.Background(), db); err != nil {
		t.Fatalf("执行迁移失败: %v", err)
	}
}

func TestSplitSQLStatementsSkipsComments(t *testing.T) {
	stmts := splitSQLStatements("-- header\nCREATE TABLE a (id INT);\n\n-- second\nCREATE TABLE b (id INT);\n")
	if len(stmts) != 2 || !strings.HasPrefix(stmts[1], "CREATE TABLE b") {
		t.Fatalf("unexpected statements %q", stmts)
	}
}

type operationType int

const (
	opExec operationType = iota
	opQuery
	opBegin
	opCommit
	opRollback
)

type mockOperation struct {
	typ    operationType
	query  string
	result mockResult
	rows   mockRowsData
	err    error
}

type mockResult struct {
	lastInsertID int64
	rowsAffected int64
}

func (r mockResult) LastInsertId() (int64, error) { return r.lastInsertID, nil }
func (r mockResult) RowsAffected() (int64, error) { return r.rowsAffected, nil }

type mockRowsData struct {
	columns []string
	values  [][]driver.Value
}

type queueDriver struct {
	ops      []mockOperation
	idx      int32
	lastArgs []any
}

var driverSeq atomic.Int32

func newMockDB(t *testing.T, ops []mockOperation) (*sql.DB, *queueDriver) {
	t.Helper()

	drv := &queueDriver{ops: ops}
	name := fmt.Sprintf("mock-mysql-%d", driverSeq.Add(1))
	sql.Register(name, drv)

	db, err := sql.Open(name, "")
	if err != nil {
		t.Fatalf("open mock db failed: %v", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, drv
}

func execOp(query string, result mockResult) mockOperation {
	return mockOperation{typ: opExec, query: query, result: result}
}

func queryOp(query string, rows mockRowsData) mockOperation {
	return mockOperation{typ: opQuery, query: query, rows: rows}
}

func beginOp() mockOperation { return mockOperation{typ: opBegin} }

func commitOp() mockOperation { return mockOperation{typ: opCommit} }

func (d *queueDriver) assertConsumed(t *testing.T) {
	t.Helper()

	if int(atomic.LoadInt32(&d.idx)) != len(d.ops) {
		t.Fatalf("not all operations consumed: %d/%d", atomic.LoadInt32(&d.idx), len(d.ops))
	}
}

func (d *queueDriver) Open(string) (driver.Conn, error) {
	return &mockConn{driver: d}, nil
}

type mockConn struct {
	driver *queueDriver
}

func (c *mockConn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepare not supported: %s", query)
}

func (c *mockConn) Close() error { return nil }

func (c *mockConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *mockConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	op, err := c.driver.next(opBegin, "")
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return &mockTx{driver: c.driver}, nil
}

func (c *mockConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	op, err := c.driver.next(opExec, query)
	if err != nil {
		return nil, err
	}
	c.driver.record(args)
	if op.err != nil {
		return nil, op.err
	}
	return op.result, nil
}

func (c *mockConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	op, err := c.driver.next(opQuery, query)
	if err != nil {
		return nil, err
	}
	c.driver.record(args)
	if op.err != nil {
		return nil, op.err
	}
	return &mockRows{columns: op.rows.columns, values: op.rows.values}, nil
}

func (c *mockConn) Ping(context.Context) error { return nil }

func (d *queueDriver) record(args []driver.NamedValue) {
	d.lastArgs = make([]any, len(args))
	for i, arg := range args {
		d.lastArgs[i] = arg.Value
	}
}

func (d *queueDriver) next(expected operationType, query string) (*mockOperation, error) {
	idx := int(atomic.LoadInt32(&d.idx))
	if idx >= len(d.ops) {
		return nil, fmt.Errorf("unexpected operation: %v", expected)
	}
	op := &d.ops[idx]
	if op.typ != expected {
		return nil, fmt.Errorf("expected operation %v, got %v", expected, op.typ)
	}
	atomic.AddInt32(&d.idx, 1)
	if op.query != "" {
		expectedSQL := normalizeSQL(op.query)
		actualSQL := normalizeSQL(query)
		if expectedSQL != actualSQL {
			return nil, fmt.Errorf("unexpected query. want %q got %q", expectedSQL, actualSQL)
		}
	}
	return op, nil
}

type mockTx struct {
	driver *queueDriver
}

func (t *mockTx) Commit() error {
	op, err := t.driver.next(opCommit, "")
	if err != nil {
		return err
	}
	return op.err
}

func (t *mockTx) Rollback() error {
	op, err := t.driver.next(opRollback, "")
	if err != nil {
		return err
	}
	return op.err
}

type mockRows struct {
	columns []string
	values  [][]driver.Value
	idx     int
}

func (r *mockRows) Columns() []string { return r.columns }
func (r *mockRows) Close() error      { return nil }

func (r *mockRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.values) {
		return io.EOF
	}
	copy(dest, r.values[r.idx])
	r.idx++
	return nil
}

func normalizeSQL(query string) string {
	return strings.Join(strings.Fields(query), " ")
}
