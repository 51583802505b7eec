package featureflags

import (
	"context"
	"testing"

	"retail-loyalty/pkg/config"

	"github.com/stretchr/testify/require"
)

func TestUnconfiguredFlagsAreEnabled(t *testing.T) {
	ff := ProvideFeatureFlag(FeatureParams{Config: &config.Config{}})
	require.True(t, ff.IsEnabled(context.Background(), "user-1", LotteryModal))
}
