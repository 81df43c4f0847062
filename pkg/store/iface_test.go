package store

import (
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/daviddao/cyclepool/pkg/model"
)

// TestStoreImplementsInterface drives a real store through the interface
// type.
func TestStoreImplementsInterface(t *testing.T) {
	var iface StoreInterface = newTestStore(t)

	if err := iface.PutInsertTaskStates([]TaskState{state("a", 1, 0, model.StatusWaiting)}); err != nil {
		t.Fatalf("PutInsertTaskStates: %v", err)
	}
	if err := iface.PutUpdateTaskStates([]TaskState{state("a", 1, 1, model.StatusSubmitted)}); err != nil {
		t.Fatalf("PutUpdateTaskStates: %v", err)
	}
	nums, err := iface.SelectSubmitNums([]TaskKey{{"a", 1}})
	if err != nil || nums[TaskKey{"a", 1}] != 1 {
		t.Fatalf("SelectSubmitNums = %v, %v", nums, err)
	}
	if err := iface.PutTaskPool([]PoolRow{{Point: 1, Name: "a", Status: model.StatusSubmitted}}); err != nil {
		t.Fatalf("PutTaskPool: %v", err)
	}
	if rows, err := iface.SelectTaskPool(); err != nil || len(rows) != 1 {
		t.Fatalf("SelectTaskPool = %v, %v", rows, err)
	}
	if err := iface.PutTaskEvents([]TaskEvent{{Name: "a", Point: 1, Time: t0, Event: "submitted"}}); err != nil {
		t.Fatalf("PutTaskEvents: %v", err)
	}
	if evs, err := iface.ListTaskEvents("a.1", 10); err != nil || len(evs) != 1 {
		t.Fatalf("ListTaskEvents = %v, %v", evs, err)
	}
	if states, err := iface.ListTaskStates(); err != nil || len(states) != 1 {
		t.Fatalf("ListTaskStates = %v, %v", states, err)
	}
	if err := iface.SetParam("k", "v"); err != nil {
		t.Fatalf("SetParam: %v", err)
	}
	if v, err := iface.GetParam("k"); err != nil || v != "v" {
		t.Fatalf("GetParam = %q, %v", v, err)
	}
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &Store{db: db}, mock
}

func TestPutTaskPool_RollsBackOnInsertFailure(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM task_pool`)).WillReturnResult(sqlmock.NewResult(0, 3))
	prep := mock.ExpectPrepare(regexp.QuoteMeta(`INSERT INTO task_pool`))
	prep.ExpectExec().WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	err := s.PutTaskPool([]PoolRow{{Point: 1, Name: "a", Status: model.StatusWaiting}})
	if err == nil {
		t.Fatal("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPutTaskEvents_RetriesTransientBegin(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin().WillReturnError(errors.New("database is locked"))
	mock.ExpectBegin()
	prep := mock.ExpectPrepare(regexp.QuoteMeta(`INSERT INTO task_events`))
	prep.ExpectExec().WithArgs("a", int64(1), sqlmock.AnyArg(), 1, "started", "").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := s.PutTaskEvents([]TaskEvent{{Name: "a", Point: 1, Time: t0, SubmitNum: 1, Event: "started"}})
	if err != nil {
		t.Fatalf("PutTaskEvents: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSelectSubmitNums_QueryError(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT name, cycle, submit_num FROM task_states`)).
		WillReturnError(errors.New("no such table: task_states"))

	if _, err := s.SelectSubmitNums([]TaskKey{{"a", 1}}); err == nil {
		t.Fatal("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSelectTaskPool_BadStatus(t *testing.T) {
	s, mock := newMockStore(t)
	rows := sqlmock.NewRows([]string{"cycle", "name", "status", "is_held", "submit_num", "satisfied", "outputs"}).
		AddRow(int64(1), "a", "sleeping", 0, 0, "[]", "[]")
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT cycle, name, status`)).WillReturnRows(rows)

	_, err := s.SelectTaskPool()
	if !errors.Is(err, model.ErrUnknownStatus) {
		t.Fatalf("err = %v, want ErrUnknownStatus", err)
	}
}
