package main

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palmoil/agent/internal/apperror"
	"github.com/palmoil/agent/internal/config"
	"github.com/palmoil/agent/internal/model"
	"github.com/palmoil/agent/internal/wire"
)

func TestBuildCredentials_MapsEnvironmentAndSecrets(t *testing.T) {
	cfg := &config.Config{
		Environment:  "live",
		ClientID:     "id",
		ClientSecret: "secret",
		AccountID:    "acct",
		AccessToken:  "access",
		RefreshToken: "refresh",
	}
	creds := buildCredentials(cfg)

	assert.Equal(t, model.EnvLive, creds.Environment)
	assert.Equal(t, "id", creds.ClientID.Reveal())
	assert.Equal(t, "access", creds.AccessToken.Reveal())
}

func TestPositionsFromWire_MapsSideAndFields(t *testing.T) {
	infos := []wire.PositionInfo{
		{BrokerPositionID: "b1", SymbolID: 1, Side: 0, Volume: 1.5, EntryPrice: 100, StopLossPrice: 95, TakeProfitPrice: 110},
		{BrokerPositionID: "b2", SymbolID: 1, Side: 1, Volume: 0.5, EntryPrice: 50, StopLossPrice: 55, TakeProfitPrice: 40},
	}
	got := positionsFromWire(infos)

	require.Len(t, got, 2)
	assert.Equal(t, model.SideBuy, got[0].Side)
	assert.Equal(t, model.SideSell, got[1].Side)
	assert.Equal(t, "b1", got[0].BrokerPositionID)
	assert.Equal(t, 100.0, got[0].EntryPrice)
}

func TestPositionsFromWire_EmptyInputYieldsEmptySlice(t *testing.T) {
	got := positionsFromWire(nil)
	assert.Empty(t, got)
}

func TestNeutralProvider_AlwaysReturnsZeroScoreNoError(t *testing.T) {
	p := neutralProvider{}
	score, err := p.Fetch(context.Background(), "anything")
	require.NoError(t, err)
	assert.Equal(t, 0, score)
}

func TestPersistenceStorePath_DefaultsWhenUnconfigured(t *testing.T) {
	cfg := &config.Config{}
	assert.Equal(t, "palmoil.db", persistenceStorePath(cfg))

	cfg.PersistenceDBPath = "/var/lib/agent/custom.db"
	assert.Equal(t, "/var/lib/agent/custom.db", persistenceStorePath(cfg))
}

func TestRunExitCode_MapsFatalErrorKindToExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"auth failed maps to exitAuthFailed", apperror.New(apperror.KindAuthFailed, "bad credentials"), exitAuthFailed},
		{"transport exhaustion maps to exitReconnectLimit", apperror.New(apperror.KindTransport, "max retries exceeded"), exitReconnectLimit},
		{"wrapped auth error still maps to exitAuthFailed", apperror.Wrap(apperror.KindAuthFailed, errors.New("token rejected"), "authenticating"), exitAuthFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := exitReconnectLimit
			if apperror.Is(tt.err, apperror.KindAuthFailed) {
				got = exitAuthFailed
			}
			assert.Equal(t, tt.want, got)
		})
	}
}
