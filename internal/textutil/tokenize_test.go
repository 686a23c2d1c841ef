package textutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize(t *testing.T) {
	assert.Nil(t, Tokenize(""))
	assert.Equal(t, []string{"adults", "aged", "18", "65"}, Tokenize("Adults aged 18-65."))
	assert.Equal(t, []string{"hba1c", "7", "0"}, Tokenize("HbA1c >= 7.0%"))
}

func TestTerms(t *testing.T) {
	assert.Equal(t, []string{"inclusion", "criteria"}, Terms("What are the inclusion criteria? Inclusion!"))
	assert.Empty(t, Terms("what is the"))
}

func TestIsStopword(t *testing.T) {
	assert.True(t, IsStopword("the"))
	assert.False(t, IsStopword("eligibility"))
}
