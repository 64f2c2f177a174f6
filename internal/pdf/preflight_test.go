package pdfutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/IteraFlow/internal/pdf/pdftest"
)

func TestInspect(t *testing.T) {
	info, err := Inspect(pdftest.Build("Balanco Patrimonial", "DRE"))
	require.NoError(t, err)
	assert.Equal(t, 2, info.Pages)
}

func TestInspectRejectsGarbage(t *testing.T) {
	_, err := Inspect([]byte("%PDF-1.4 this is not really a pdf"))
	assert.Error(t, err)

	_, err = Inspect(nil)
	assert.Error(t, err)
}

func TestIsPDF(t *testing.T) {
	assert.True(t, IsPDF(pdftest.Build("x")))
	assert.True(t, IsPDF([]byte("\n%PDF-1.7")))
	assert.False(t, IsPDF([]byte("PK\x03\x04")))
}
