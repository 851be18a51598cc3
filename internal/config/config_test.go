package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validSettings() *Settings {
	return &Settings{
		ListenAddress:            ":8420",
		BufferBudgetBytes:        1 << 20,
		ChunkBytes:               1 << 10,
		MaxDirectLoadBytes:       1 << 20,
		MaxLoadCacheBytes:        1 << 20,
		DirectionPolicy:          "forward",
		ReadTimeoutSeconds:       10,
		SetupTimeoutSeconds:      30,
		AllocationTimeoutSeconds: 5,
	}
}

func TestValidateAcceptsValidSettings(t *testing.T) {
	assert.NoError(t, validSettings().Validate())
}

func TestValidateRejectsBadDirectionPolicy(t *testing.T) {
	s := validSettings()
	s.DirectionPolicy = "sideways"
	assert.Error(t, s.Validate())
}

func TestValidateRejectsNonPositiveBudget(t *testing.T) {
	s := validSettings()
	s.BufferBudgetBytes = 0
	assert.Error(t, s.Validate())
}
