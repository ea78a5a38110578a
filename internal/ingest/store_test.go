package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rushilcs/data-viewer/pkg/database"
)

type scriptedRunner struct {
	errs  []error
	calls int
}

func (r *scriptedRunner) InTx(_ context.Context, fn func(tx database.DBTX) error) error {
	r.calls++
	if len(r.errs) > 0 {
		err := r.errs[0]
		r.errs = r.errs[1:]
		return err
	}
	return fn(nil)
}

func TestUnitOfWorkRetries(t *testing.T) {
	deadlock := &pgconn.PgError{Code: "40P01"}
	for _, tc := range []struct {
		name      string
		errs      []error
		wantCalls int
		wantErr   bool
	}{
		{"success", nil, 1, false},
		{"deadlock then success", []error{deadlock}, 2, false},
		{"persistent deadlock", []error{deadlock, deadlock, deadlock, deadlock}, maxTxAttempts, true},
		{"other error", []error{errors.New("boom")}, 1, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			runner := &scriptedRunner{errs: tc.errs}
			ran := 0
			err := NewUnitOfWork(runner).InTx(context.Background(), func(Store) error {
				ran++
				return nil
			})
			if (err != nil) != tc.wantErr {
				t.Fatalf("err: want error=%v got=%v", tc.wantErr, err)
			}
			if runner.calls != tc.wantCalls {
				t.Fatalf("calls: want=%d got=%d", tc.wantCalls, runner.calls)
			}
			if !tc.wantErr && ran != 1 {
				t.Fatalf("fn runs: want=1 got=%d", ran)
			}
		})
	}
}
