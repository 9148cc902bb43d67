package member

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/oligo/txprop"
	"github.com/oligo/txprop/sqlxtx"
)

func newTestService(t *testing.T, outer bool, logPropagation txprop.PropagationType) *Service {
	t.Helper()
	ctx := context.Background()

	store, err := Open(ctx, DriverSQLite, t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate(ctx))

	log := zaptest.NewLogger(t)
	tm := txprop.NewTxManager(sqlxtx.NewResource(store.DB), &txprop.Config{Logger: log})
	db := sqlxtx.New(store.DB, tm, log)

	svc := NewService(tm,
		NewMemberRepository(db, tm, store.Builder, nil),
		NewLogRepository(db, tm, store.Builder, nil, logPropagation),
		log,
	)
	svc.OuterTransaction = outer
	return svc
}

func assertSaved(t *testing.T, svc *Service, username string, wantMember, wantLog bool) {
	t.Helper()
	memberFound, logFound, err := svc.Lookup(context.Background(), username)
	require.NoError(t, err)
	assert.Equal(t, wantMember, memberFound, "member row")
	assert.Equal(t, wantLog, logFound, "log row")
}

func TestJoin(t *testing.T) {
	cases := []struct {
		name        string
		outer       bool
		propagation txprop.PropagationType
		v2          bool
		username    string
		wantErr     error
		wantMember  bool
		wantLog     bool
	}{
		{
			name:       "outer tx off, both commit",
			username:   "outerTxOff_success",
			wantMember: true,
			wantLog:    true,
		},
		{
			name:       "outer tx off, log rolls back alone",
			username:   "로그예외_outerTxOff_fail",
			wantErr:    ErrLogFailure,
			wantMember: true,
		},
		{
			name:       "single outer tx",
			outer:      true,
			username:   "singleTx",
			wantMember: true,
			wantLog:    true,
		},
		{
			name:     "outer tx on, log failure rolls back both",
			outer:    true,
			username: "logException_outerTxOn_fail",
			wantErr:  ErrLogFailure,
		},
		{
			name:     "recovered log failure still dooms the shared tx",
			outer:    true,
			v2:       true,
			username: "로그예외_recoverException_fail",
			wantErr:  txprop.ErrUnexpectedRollback,
		},
		{
			name:        "requires new log keeps the member",
			outer:       true,
			propagation: txprop.PropagationRequiresNew,
			v2:          true,
			username:    "로그예외_recoverException_success",
			wantMember:  true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := newTestService(t, tc.outer, tc.propagation)

			join := svc.JoinV1
			if tc.v2 {
				join = svc.JoinV2
			}

			err := join(context.Background(), tc.username)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
			} else {
				require.NoError(t, err)
			}
			assertSaved(t, svc, tc.username, tc.wantMember, tc.wantLog)
		})
	}
}

func TestRequiresNewLogSurvivesMemberFailure(t *testing.T) {
	svc := newTestService(t, true, txprop.PropagationRequiresNew)

	err := svc.tm.Exec(context.Background(), func(ctx context.Context) error {
		if err := svc.logs.Save(ctx, &Log{Message: "audit"}); err != nil {
			return err
		}
		return ErrNotFound
	}, nil)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = svc.logs.Find(context.Background(), "audit")
	require.NoError(t, err)
}

func TestShouldFailLog(t *testing.T) {
	assert.True(t, shouldFailLog("로그예외"))
	assert.True(t, shouldFailLog("user_logException"))
	assert.False(t, shouldFailLog("alice"))
}

func TestOpenUnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), "oracle", "")
	require.Error(t, err)
}

func TestRepositoriesUseBaseOptions(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, DriverSQLite, t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate(ctx))

	inner := sqlxtx.NewResource(store.DB)
	var begun []txprop.Options
	res := txprop.ResourceFunc(func(ctx context.Context, opts *txprop.Options) (txprop.Handle, error) {
		begun = append(begun, *opts)
		return inner.Begin(ctx, opts)
	})

	base := txprop.DefaultOptions()
	base.Timeout = 7 * time.Second
	log := zaptest.NewLogger(t)
	tm := txprop.NewTxManager(res, &txprop.Config{Logger: log, DefaultOptions: base})
	db := sqlxtx.New(store.DB, tm, log)

	svc := NewService(tm,
		NewMemberRepository(db, tm, store.Builder, base),
		NewLogRepository(db, tm, store.Builder, base, txprop.PropagationRequiresNew),
		log,
	)
	svc.OuterTransaction = true
	require.NoError(t, svc.JoinV1(ctx, "alice"))

	// the service transaction and the independent log transaction
	require.Len(t, begun, 2)
	assert.Equal(t, 7*time.Second, begun[0].Timeout)
	assert.Equal(t, txprop.PropagationRequired, begun[0].Propagation)
	assert.Equal(t, 7*time.Second, begun[1].Timeout)
	assert.Equal(t, txprop.PropagationRequiresNew, begun[1].Propagation)

	assert.Equal(t, 7*time.Second, svc.members.opts.Timeout)
	assert.Equal(t, txprop.PropagationRequired, base.Propagation)
}
