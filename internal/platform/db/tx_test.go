package db

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
)

func TestRunInTx_Commits(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO users").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err = RunInTx(context.Background(), mock, func(ctx context.Context) error {
		if TxFromContext(ctx) == nil {
			t.Fatal("expected transaction in context")
		}
		_, err := Conn(ctx, mock).Exec(ctx, "INSERT INTO users (id) VALUES (1)")
		return err
	})
	if err != nil {
		t.Fatalf("RunInTx() error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestRunInTx_RollsBackOnError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	sentinel := errors.New("profile write failed")
	err = RunInTx(context.Background(), mock, func(ctx context.Context) error {
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestRunInTx_NestedReusesOuter(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectCommit()

	err = RunInTx(context.Background(), mock, func(ctx context.Context) error {
		outer := TxFromContext(ctx)
		return RunInTx(ctx, mock, func(inner context.Context) error {
			if TxFromContext(inner) != outer {
				t.Error("nested call must reuse the outer transaction")
			}
			return nil
		})
	})
	if err != nil {
		t.Fatalf("RunInTx() error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestConn_FallsBackWithoutTx(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	if Conn(context.Background(), mock) != Queryable(mock) {
		t.Error("expected fallback queryable")
	}
}
