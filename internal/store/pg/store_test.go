package pg

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"schedulers.app/internal/audit"
	"schedulers.app/internal/auth"
	"schedulers.app/internal/mutation"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		db.Close()
	})
	return New(db), mock
}

var principalCols = []string{"id", "username", "password_verifier", "display_name", "email", "phone", "role", "is_active",
	"failed_login_attempts", "locked_until", "last_login", "created_at", "updated_at"}

func TestFindByIdentifier(t *testing.T) {
	s, mock := newMock(t)
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	until := created.Add(time.Hour)

	mock.ExpectQuery("from principals\\s+where lower\\(username\\) = \\$1 or lower\\(email\\) = \\$1").
		WithArgs("admin").
		WillReturnRows(sqlmock.NewRows(principalCols).
			AddRow(1, "admin", "pbkdf2_sha256$1$a$b", "System Administrator", "admin@example.com", nil, "superadmin", true,
				5, until, nil, created, nil))

	p, err := s.FindByIdentifier(context.Background(), "  ADMIN ")
	if err != nil {
		t.Fatalf("FindByIdentifier: %v", err)
	}
	if p.ID != 1 || p.Role != auth.RoleSuperAdmin || p.FailedAttempts != 5 {
		t.Fatalf("unexpected principal: %+v", p)
	}
	if p.LockedUntil == nil || !p.LockedUntil.Equal(until) || p.LastLogin != nil {
		t.Fatalf("unexpected timestamps: %+v", p)
	}

	mock.ExpectQuery("from principals").WithArgs("ghost").WillReturnError(sql.ErrNoRows)
	if _, err := s.FindByIdentifier(context.Background(), "ghost"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRecordFailureLocksRow(t *testing.T) {
	s, mock := newMock(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	policy := auth.DefaultLockoutPolicy()

	mock.ExpectBegin()
	mock.ExpectQuery("select failed_login_attempts, locked_until\\s+from principals\\s+where id = \\$1\\s+for update").
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"failed_login_attempts", "locked_until"}).AddRow(4, nil))
	mock.ExpectExec("update principals set failed_login_attempts = \\$2, locked_until = \\$3 where id = \\$1").
		WithArgs(int64(3), 5, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	next, err := s.RecordFailure(context.Background(), 3, func(st auth.LockoutState) auth.LockoutState {
		return policy.Fail(st, now)
	})
	if err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	if next.FailedAttempts != 5 || next.LockedUntil == nil || !next.LockedUntil.Equal(now.Add(30*time.Minute)) {
		t.Fatalf("unexpected state: %+v", next)
	}
}

func TestRecordFailureMissingPrincipal(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("for update").WithArgs(int64(9)).WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := s.RecordFailure(context.Background(), 9, func(st auth.LockoutState) auth.LockoutState { return st })
	if !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRecordSuccess(t *testing.T) {
	s, mock := newMock(t)
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec("set failed_login_attempts = 0,\\s+locked_until = null").
		WithArgs(int64(1), at, sql.NullString{}).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := s.RecordSuccess(context.Background(), 1, at, ""); err != nil {
		t.Fatalf("RecordSuccess: %v", err)
	}

	mock.ExpectExec("update principals").
		WithArgs(int64(2), at, sql.NullString{String: "pbkdf2_sha256$x", Valid: true}).
		WillReturnResult(sqlmock.NewResult(0, 0))
	if err := s.RecordSuccess(context.Background(), 2, at, "pbkdf2_sha256$x"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreatePrincipal(t *testing.T) {
	s, mock := newMock(t)
	p := &auth.Principal{Username: "ref1", Verifier: "v", DisplayName: "Ref One", Email: "ref1@example.com", Role: auth.RoleOfficial, Active: true}

	mock.ExpectBegin()
	mock.ExpectQuery("select exists").WithArgs("ref1", "ref1@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery("insert into principals").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))
	mock.ExpectCommit()

	if err := s.CreatePrincipal(context.Background(), p); err != nil {
		t.Fatalf("CreatePrincipal: %v", err)
	}
	if p.ID != 11 {
		t.Fatalf("expected id 11, got %d", p.ID)
	}
}

func TestCreatePrincipalConflict(t *testing.T) {
	s, mock := newMock(t)
	p := &auth.Principal{Username: "ref1", Email: "ref1@example.com", Role: auth.RoleOfficial}

	mock.ExpectBegin()
	mock.ExpectQuery("select exists").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()
	if err := s.CreatePrincipal(context.Background(), p); !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	mock.ExpectBegin()
	mock.ExpectQuery("select exists").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery("insert into principals").WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})
	mock.ExpectRollback()
	if err := s.CreatePrincipal(context.Background(), p); !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected ErrConflict from unique violation, got %v", err)
	}
}

func TestSessionRoundTrip(t *testing.T) {
	s, mock := newMock(t)
	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	sess := &auth.Session{TokenHash: "abc", PrincipalID: 4, Role: auth.RoleAdmin, CreatedAt: created, Origin: "10.0.0.1"}

	mock.ExpectExec("insert into sessions").
		WithArgs("abc", int64(4), "admin", sql.NullString{String: "10.0.0.1", Valid: true}, created).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := s.CreateSession(context.Background(), sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	cols := []string{"token_hash", "principal_id", "role", "origin", "created_at"}
	mock.ExpectQuery("from sessions\\s+where token_hash = \\$1").WithArgs("abc").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("abc", 4, "admin", "10.0.0.1", created))
	got, err := s.FindSession(context.Background(), "abc")
	if err != nil {
		t.Fatalf("FindSession: %v", err)
	}
	if got.PrincipalID != 4 || got.Role != auth.RoleAdmin || got.Origin != "10.0.0.1" {
		t.Fatalf("unexpected session: %+v", got)
	}

	mock.ExpectQuery("delete from sessions\\s+where token_hash = \\$1\\s+returning").WithArgs("abc").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("abc", 4, "admin", nil, created))
	if _, err := s.DeleteSession(context.Background(), "abc"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}

	mock.ExpectQuery("delete from sessions").WithArgs("abc").WillReturnError(sql.ErrNoRows)
	if _, err := s.DeleteSession(context.Background(), "abc"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	mock.ExpectExec("delete from sessions where created_at <= \\$1").WithArgs(created).
		WillReturnResult(sqlmock.NewResult(0, 3))
	n, err := s.DeleteSessionsBefore(context.Background(), created)
	if err != nil || n != 3 {
		t.Fatalf("DeleteSessionsBefore: n=%d err=%v", n, err)
	}
}

func TestAppendAudit(t *testing.T) {
	s, mock := newMock(t)
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec("insert into activity_log").
		WithArgs("01J0000000000000000000000", at, sql.NullInt64{Int64: 2, Valid: true}, "update_game",
			sql.NullString{String: "game", Valid: true}, sql.NullString{String: "42", Valid: true},
			sql.NullString{String: "fields=status", Valid: true}, sql.NullString{}, sql.NullString{}).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.AppendAudit(context.Background(), &audit.Entry{
		ID: "01J0000000000000000000000", OccurredAt: at, ActorID: audit.Actor(2), Action: "update_game",
		ResourceType: "game", ResourceID: "42", Detail: "fields=status",
	})
	if err != nil {
		t.Fatalf("AppendAudit: %v", err)
	}
}

func TestApplyMutation(t *testing.T) {
	s, mock := newMock(t)
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cs := mutation.ChangeSet{
		Entity:  "game",
		Table:   "games",
		ID:      42,
		Changes: []mutation.Change{{Field: "status", Value: "completed"}},
		ActorID: 1,
		At:      at,
		StampAt: "updated_at",
		StampBy: "updated_by",
	}

	mock.ExpectBegin()
	mock.ExpectExec(`update "games" set "status" = \$1, "updated_at" = \$2, "updated_by" = \$3 where id = \$4`).
		WithArgs("completed", at, int64(1), int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := s.Apply(context.Background(), cs); err != nil {
		t.Fatalf("Apply: %v", err)
	}
}

func TestApplyMutationNotFound(t *testing.T) {
	s, mock := newMock(t)
	cs := mutation.ChangeSet{Table: "games", ID: 404, Changes: []mutation.Change{{Field: "status", Value: "completed"}}}

	mock.ExpectBegin()
	mock.ExpectExec(`update "games" set "status" = \$1 where id = \$2`).
		WithArgs("completed", int64(404)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	if err := s.Apply(context.Background(), cs); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestApplyMutationUniqueCollision(t *testing.T) {
	s, mock := newMock(t)
	cs := mutation.ChangeSet{
		Table:   "principals",
		ID:      2,
		Changes: []mutation.Change{{Field: "email", Value: "taken@example.com"}},
		Unique:  []string{"username", "email"},
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`select exists\(select 1 from "principals" where lower\("email"\) = lower\(\$1\) and id <> \$2\)`).
		WithArgs("taken@example.com", int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	if err := s.Apply(context.Background(), cs); !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestApplyRejectsBadIdentifiers(t *testing.T) {
	s, _ := newMock(t)
	cs := mutation.ChangeSet{Table: "games; drop table games", ID: 1, Changes: []mutation.Change{{Field: "status", Value: "x"}}}
	if err := s.Apply(context.Background(), cs); err == nil {
		t.Fatal("expected identifier error")
	}
	cs = mutation.ChangeSet{Table: "games", ID: 1, Changes: []mutation.Change{{Field: "Status\"", Value: "x"}}}
	if err := s.Apply(context.Background(), cs); err == nil {
		t.Fatal("expected identifier error")
	}
}

func TestExists(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(`select exists\(select 1 from "games" where id = \$1\)`).WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := s.Exists(context.Background(), "games", 42)
	if err != nil || !ok {
		t.Fatalf("Exists: ok=%v err=%v", ok, err)
	}
}

func TestColumn(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(`select "role" from "principals" where id = \$1`).WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow([]byte("superadmin")))
	mock.ExpectQuery(`select "role" from "principals" where id = \$1`).WithArgs(int64(404)).
		WillReturnError(sql.ErrNoRows)

	v, err := s.Column(context.Background(), "principals", 3, "role")
	if err != nil || v != "superadmin" {
		t.Fatalf("Column: v=%v err=%v", v, err)
	}
	if _, err := s.Column(context.Background(), "principals", 404, "role"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.Column(context.Background(), "principals", 3, "role; drop"); err == nil {
		t.Fatal("expected identifier rejection")
	}
}

func TestDashboardStats(t *testing.T) {
	s, mock := newMock(t)
	today := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("select count\\(\\*\\) from games").WithArgs("2025-06-01").
		WillReturnRows(sqlmock.NewRows([]string{"a", "b", "c", "d", "e"}).AddRow(12, 4, 7, 30, 9))

	st, err := s.DashboardStats(context.Background(), today)
	if err != nil {
		t.Fatalf("DashboardStats: %v", err)
	}
	if st.TotalGames != 12 || st.UpcomingGames != 4 || st.ActiveOfficials != 7 || st.TotalAssignments != 30 || st.TotalUsers != 9 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestListGames(t *testing.T) {
	s, mock := newMock(t)
	created := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	cols := []string{"id", "date", "time", "home_team", "away_team", "location", "sport", "league", "level",
		"officials_needed", "notes", "status", "game_fee", "created_at", "created_by", "updated_at", "updated_by"}
	mock.ExpectQuery("from games\\s+order by date desc, time desc\\s+limit \\$1").WithArgs(100).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(42, "2025-09-13", "18:30", "Eagles", "Hawks", nil, "soccer", "U12", nil, 3, nil, "scheduled", 45.0, created, 1, nil, nil))

	games, err := s.ListGames(context.Background(), 0)
	if err != nil {
		t.Fatalf("ListGames: %v", err)
	}
	if len(games) != 1 || games[0].ID != 42 || games[0].Date != "2025-09-13" || games[0].League != "U12" {
		t.Fatalf("unexpected games: %+v", games)
	}
	if games[0].CreatedBy == nil || *games[0].CreatedBy != 1 || games[0].UpdatedBy != nil {
		t.Fatalf("unexpected audit columns: %+v", games[0])
	}
}
