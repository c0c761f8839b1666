package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/limbo/stakepool/pkg/config"
)

func TestTypedGetters(t *testing.T) {
	cfg := config.New()
	t.Setenv("STAKEPOOL_TEST_INT", "42")
	t.Setenv("STAKEPOOL_TEST_BAD_INT", "forty")
	t.Setenv("STAKEPOOL_TEST_DURATION", "90s")
	t.Setenv("STAKEPOOL_TEST_BOOL", "true")
	t.Setenv("STAKEPOOL_TEST_EMPTY", "")

	assert.Equal(t, 42, cfg.GetInt("STAKEPOOL_TEST_INT", 1))
	assert.Equal(t, 1, cfg.GetInt("STAKEPOOL_TEST_BAD_INT", 1))
	assert.Equal(t, 7, cfg.GetInt("STAKEPOOL_TEST_UNSET", 7))
	assert.Equal(t, 90*time.Second, cfg.GetDuration("STAKEPOOL_TEST_DURATION", time.Second))
	assert.True(t, cfg.GetBool("STAKEPOOL_TEST_BOOL", false))
	assert.Equal(t, "memory", cfg.GetStringOr("STAKEPOOL_TEST_EMPTY", "memory"))
	assert.Equal(t, "", cfg.GetString("STAKEPOOL_TEST_UNSET"))
}
