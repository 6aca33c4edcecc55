package featureflags

import (
	"context"
	"testing"

	"activations-controlplane/pkg/config"

	"github.com/stretchr/testify/require"
)

func TestUnconfiguredUsesFallback(t *testing.T) {
	ff := ProvideFeatureFlag(FeatureParams{Config: &config.Config{}})

	require.True(t, ff.Enabled(context.Background(), PartnerSyncEnabled, true))
	require.False(t, ff.Enabled(context.Background(), PartnerSyncEnabled, false))
}

func TestStatic(t *testing.T) {
	ff := Static{PartnerSyncEnabled: false}

	require.False(t, ff.Enabled(context.Background(), PartnerSyncEnabled, true))
	require.True(t, ff.Enabled(context.Background(), MetricsRefresh, true))
}
