package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuoteIdent(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"precio", `"precio"`},
		{"public.properties", `"public"."properties"`},
		{`we"ird`, `"we""ird"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, QuoteIdent(tt.input))
		})
	}
}

func TestQuoteAndJoin(t *testing.T) {
	result := QuoteAndJoin([]string{"url", "precio", "status"})
	assert.Equal(t, `"url", "precio", "status"`, result)
}

func TestValidIdent(t *testing.T) {
	assert.NoError(t, ValidIdent("metros_cuadrados_totales"))
	assert.NoError(t, ValidIdent("_x1"))
	assert.Error(t, ValidIdent("Precio"))
	assert.Error(t, ValidIdent("1abc"))
	assert.Error(t, ValidIdent("a-b"))
	assert.Error(t, ValidIdent("a; DROP TABLE x"))
	assert.Error(t, ValidIdent(""))
}
