package bootstrap

import (
	"errors"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreconfig "github.com/m3rciful/drawbot/core/config"
	coredatabase "github.com/m3rciful/drawbot/core/database"
)

func TestRunWithoutDatabase(t *testing.T) {
	var inits int
	res, err := Run(Options{
		Config:     &coreconfig.Config{},
		LoggerInit: func(*coreconfig.Config) error { inits++; return nil },
		Connect: func(coredatabase.Config) (*sqlx.DB, error) {
			t.Fatal("connect must not run without a database config")
			return nil, nil
		},
	})
	require.NoError(t, err)
	assert.Nil(t, res.DB)
	assert.NoError(t, res.Close())
	assert.Equal(t, 1, inits)
}

func TestRunStopsOnMigrationFailure(t *testing.T) {
	var connected bool
	_, err := Run(Options{
		Config:     &coreconfig.Config{},
		Database:   &coredatabase.Config{Host: "db"},
		LoggerInit: func(*coreconfig.Config) error { return nil },
		Migrate:    func(coredatabase.Config) error { return errors.New("dirty") },
		Connect: func(coredatabase.Config) (*sqlx.DB, error) {
			connected = true
			return nil, nil
		},
	})
	require.ErrorContains(t, err, "dirty")
	assert.False(t, connected)
}

func TestRunRequiresConfig(t *testing.T) {
	_, err := Run(Options{})
	assert.Error(t, err)
}
