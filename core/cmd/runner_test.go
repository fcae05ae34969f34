package cmd

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreconfig "github.com/m3rciful/drawbot/core/config"
	coretelegram "github.com/m3rciful/drawbot/core/telegram"
)

type carrier struct{ cfg *coreconfig.Config }

func (c carrier) CoreConfig() *coreconfig.Config { return c.cfg }

type app struct {
	closed bool
}

func (a *app) TelegramRunOptions() (coretelegram.RunOptions, error) {
	return coretelegram.RunOptions{Config: &coreconfig.Config{}}, nil
}

func (a *app) Close() error {
	a.closed = true
	return nil
}

func TestRunWiresHooksAndCloses(t *testing.T) {
	t.Setenv("DRAWBOT_TEST_CONFIG", "config.yaml")
	a := &app{}
	var loadedFrom string
	var started, stopped bool

	err := Run(Options{
		ConfigEnvVar: "DRAWBOT_TEST_CONFIG",
		LoadConfig: func(path string) (ConfigCarrier, error) {
			loadedFrom = path
			return carrier{cfg: &coreconfig.Config{}}, nil
		},
		Bootstrap:      func(ConfigCarrier) (TelegramApp, error) { return a, nil },
		ShutdownLogger: func() error { return nil },
		RunTelegram: func(ctx context.Context, opts coretelegram.RunOptions) error {
			require.NoError(t, opts.OnStart(ctx, coretelegram.Runtime{}))
			started = true
			require.NoError(t, opts.OnStop(ctx, coretelegram.Runtime{}))
			stopped = true
			return nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "config.yaml", loadedFrom)
	assert.True(t, started)
	assert.True(t, stopped)
	assert.True(t, a.closed)
}

func TestRunReportsLoadFailure(t *testing.T) {
	err := Run(Options{
		DefaultConfigPath: "missing.yaml",
		ConfigEnvVar:      "DRAWBOT_TEST_CONFIG_UNSET",
		LoadConfig:        func(string) (ConfigCarrier, error) { return nil, errors.New("no such file") },
		Bootstrap:         func(ConfigCarrier) (TelegramApp, error) { return nil, nil },
	})
	assert.ErrorContains(t, err, "no such file")
}
