package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPseudoVersion(t *testing.T) {
	assert.Equal(t, "dev", pseudoVersion("", "", false))
	assert.Equal(t, "0123456789ab", pseudoVersion("0123456789abcdef", "", false))
	assert.Equal(t, "v0.0.0-20260102030405-0123456789ab+dirty",
		pseudoVersion("0123456789abcdef", "2026-01-02T03:04:05Z", true))
}
