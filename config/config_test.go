package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/dtnsim/internal/router"
	"github.com/malbeclabs/dtnsim/internal/simerrors"
)

func TestConfig_DefaultValidates(t *testing.T) {
	t.Parallel()

	c := Default()
	require.NoError(t, c.Validate())
}

func TestConfig_ValidateRejectsBadNumNodes(t *testing.T) {
	t.Parallel()

	c := Default()
	c.NumNodes = 1
	err := c.Validate()

	require.Error(t, err)
	var simErr *simerrors.Error
	require.ErrorAs(t, err, &simErr)
	require.Equal(t, simerrors.KindConfig, simErr.Kind)
}

func TestConfig_ValidateRejectsInvertedBundleSizeRange(t *testing.T) {
	t.Parallel()

	c := Default()
	c.BundleSizeRange.Min = 100
	c.BundleSizeRange.Max = 50
	require.Error(t, c.Validate())
}

func TestConfig_ValidateRejectsUnknownRouterKind(t *testing.T) {
	t.Parallel()

	c := Default()
	c.RouterKind = router.Kind("bogus")
	require.Error(t, c.Validate())
}

func TestConfig_ValidateRequiresSprayTokenBudgetForSprayAndWait(t *testing.T) {
	t.Parallel()

	c := Default()
	c.RouterKind = router.KindSprayAndWait
	c.SprayTokenBudget = 0
	require.Error(t, c.Validate())
}

func TestConfig_ValidateFillsZeroMetricsSnapshotIntervalDefault(t *testing.T) {
	t.Parallel()

	c := Default()
	c.MetricsSnapshotInterval = 0
	require.NoError(t, c.Validate())
	require.Greater(t, c.MetricsSnapshotInterval, time.Duration(0))
}
