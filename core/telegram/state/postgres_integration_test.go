//go:build integration

package state_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/suite"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/m3rciful/drawbot/core/telegram/state"
)

type PostgresStoreSuite struct {
	suite.Suite
	container *tcpostgres.PostgresContainer
	db        *sqlx.DB
	store     *state.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("drawbot"),
		tcpostgres.WithUsername("drawbot"),
		tcpostgres.WithPassword("drawbot"),
		tcpostgres.BasicWaitStrategies(),
	)
	s.Require().NoError(err)
	s.container = container

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	s.Require().NoError(err)
	s.db, err = sqlx.ConnectContext(ctx, "postgres", dsn)
	s.Require().NoError(err)

	ddl, err := os.ReadFile("../../../migrations/000001_sessions.up.sql")
	s.Require().NoError(err)
	_, err = s.db.ExecContext(ctx, string(ddl))
	s.Require().NoError(err)

	s.store = state.NewPostgresStore(s.db)
}

func (s *PostgresStoreSuite) TearDownSuite() {
	if s.db != nil {
		_ = s.db.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(context.Background())
	}
}

func (s *PostgresStoreSuite) SetupTest() {
	_, err := s.db.Exec(`TRUNCATE sessions`)
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) TestUpsertAndGet() {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	sess := state.NewSession(now)
	sess.State = "awaiting_full_name"
	sess.Put("documentIds", `{"receiptId":"r-9"}`)

	s.Require().NoError(s.store.Set(ctx, 5, sess))
	sess.State = "awaiting_phone"
	sess.Put("fullName", "петров петр петрович")
	s.Require().NoError(s.store.Set(ctx, 5, sess))

	got, ok, err := s.store.Get(ctx, 5)
	s.Require().NoError(err)
	s.Require().True(ok)
	s.Equal(state.State("awaiting_phone"), got.State)
	s.Equal(sess.Fields, got.Fields)
	s.True(now.Equal(got.CreatedAt.UTC()))

	n, err := s.store.Active(ctx)
	s.Require().NoError(err)
	s.Equal(1, n)

	s.Require().NoError(s.store.Clear(ctx, 5))
	_, ok, err = s.store.Get(ctx, 5)
	s.Require().NoError(err)
	s.False(ok)
}
