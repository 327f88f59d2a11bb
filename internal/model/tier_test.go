package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTierRank_OrdersLifecycle(t *testing.T) {
	require.Less(t, TierShortTerm.Rank(), TierMidTerm.Rank())
	require.Less(t, TierMidTerm.Rank(), TierLongTerm.Rank())
	require.Zero(t, Tier("ancient").Rank())
}

func TestTierBelow(t *testing.T) {
	require.Empty(t, TierShortTerm.Below())
	require.Equal(t, []Tier{TierShortTerm}, TierMidTerm.Below())
	require.Equal(t, []Tier{TierShortTerm, TierMidTerm}, TierLongTerm.Below())
}

func TestParseTier(t *testing.T) {
	tier, err := ParseTier("mid_term")
	require.NoError(t, err)
	require.Equal(t, TierMidTerm, tier)

	_, err = ParseTier("eternal")
	require.Error(t, err)
}
