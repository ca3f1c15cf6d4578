package httpapi

import (
	"bytes"
	"testing"
	"time"

	"opd-notify/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestGenerateInventoryExport(t *testing.T) {
	expiry := time.Date(2026, 11, 30, 0, 0, 0, 0, time.UTC)
	medicines := []*domain.Medicine{
		{MedicineID: "med-1", Name: "Paracetamol 500mg", Unit: "tablet", Stock: 8, ReorderLevel: 20},
		{MedicineID: "med-2", Name: "Amoxicillin 250mg", Unit: "capsule", Stock: 120, ReorderLevel: 30, ExpiryDate: &expiry},
	}

	data, err := GenerateInventoryExport(medicines)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Inventory")
	require.NoError(t, err)
	require.Len(t, rows, 3) // 表头 + 2 行数据

	assert.Equal(t, "Medicine ID", rows[0][0])
	assert.Equal(t, "Paracetamol 500mg", rows[1][1])
	assert.Equal(t, "YES", rows[1][6])
	assert.Equal(t, "2026-11-30", rows[2][5])
}

func TestGenerateInventoryExport_Empty(t *testing.T) {
	data, err := GenerateInventoryExport(nil)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Inventory")
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestInventoryExportFilename(t *testing.T) {
	now := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, "inventory_20260831.xlsx", InventoryExportFilename(now))
}
