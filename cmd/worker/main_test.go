package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/evdms/evdms/internal/app"
	_ "github.com/evdms/evdms/testing"
)

func TestMainSkipsStartupInTestMode(t *testing.T) {
	assert.True(t, app.InTestMode())
	assert.NotPanics(t, main)
}
