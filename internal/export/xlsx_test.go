package export

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/dharsanguruparan/IteraFlow/internal/model"
)

func TestWriteXLSX(t *testing.T) {
	rows := []model.ExportRow{
		{Code: "1.01", Description: "Ativo Circulante", Value: "1.234,5", Page: "3"},
		{Code: "1.02", Description: "Caixa", Value: "n/d"},
	}
	data, err := WriteXLSX("d1", rows, nil)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	got, err := f.GetRows(SheetName)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, Headers(), got[0])
	assert.Equal(t, "1.01", got[1][0])
	assert.Equal(t, "Ativo Circulante", got[1][1])
	assert.Equal(t, "1234.5", got[1][2])
	assert.Equal(t, "3", got[1][6])
	assert.Equal(t, "n/d", got[2][2])
}

func TestWriteXLSXEmpty(t *testing.T) {
	data, err := WriteXLSX("d1", nil, nil)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()
	got, err := f.GetRows(SheetName)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Len(t, got[0], len(columns))
}
