package strategies

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lunaroute/polyclaude-proxy/internal/account/store"
)

func TestRoundRobinCycles(t *testing.T) {
	s := NewRoundRobinStrategy()
	accounts := []*store.Account{
		testAccount("a@x.com"),
		testAccount("b@x.com"),
		testAccount("c@x.com"),
	}

	var picked []string
	for i := 0; i < 6; i++ {
		result := s.Select(accounts, testModel)
		require.NotNil(t, result.Account)
		picked = append(picked, result.Account.Email)
	}

	assert.Equal(t, []string{
		"a@x.com", "b@x.com", "c@x.com",
		"a@x.com", "b@x.com", "c@x.com",
	}, picked)
}

func TestRoundRobinSkipsIneligible(t *testing.T) {
	s := NewRoundRobinStrategy()
	a := testAccount("a@x.com")
	b := testAccount("b@x.com")
	b.Invalid = true
	c := testAccount("c@x.com")

	first := s.Select([]*store.Account{a, b, c}, testModel)
	second := s.Select([]*store.Account{a, b, c}, testModel)
	require.NotNil(t, first.Account)
	require.NotNil(t, second.Account)
	assert.Equal(t, "a@x.com", first.Account.Email)
	assert.Equal(t, "c@x.com", second.Account.Email)
}

func TestRoundRobinSeedCursorResumesRotation(t *testing.T) {
	s := NewRoundRobinStrategy()
	accounts := []*store.Account{
		testAccount("a@x.com"),
		testAccount("b@x.com"),
		testAccount("c@x.com"),
	}

	s.SeedCursor(2)
	result := s.Select(accounts, testModel)
	require.NotNil(t, result.Account)
	assert.Equal(t, "c@x.com", result.Account.Email)
}

func TestRoundRobinWaitHint(t *testing.T) {
	s := NewRoundRobinStrategy()
	a := testAccount("a@x.com")
	a.CooldownUntil = time.Now().Add(15 * time.Second).UnixMilli()

	result := s.Select([]*store.Account{a}, testModel)
	assert.Nil(t, result.Account)
	assert.Greater(t, result.WaitMs, int64(0))
}

func TestRoundRobinEmptyPool(t *testing.T) {
	s := NewRoundRobinStrategy()
	result := s.Select(nil, testModel)
	assert.Nil(t, result.Account)
	assert.Zero(t, result.WaitMs)
}
