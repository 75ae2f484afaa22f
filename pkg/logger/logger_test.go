package logger

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestNewSetsGlobalLevel(t *testing.T) {
	New("warn", false)
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())

	New("debug", true)
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())
}

func TestNewFallsBackToInfo(t *testing.T) {
	New("verbose", false)
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())

	New("", false)
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}
