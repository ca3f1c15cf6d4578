package httpapi

import (
	"bytes"
	"fmt"
	"time"

	"opd-notify/internal/domain"

	"github.com/xuri/excelize/v2"
)

// InventoryExportHeader 库存导出表头
var InventoryExportHeader = []string{
	"Medicine ID",
	"Name",
	"Unit",
	"Stock",
	"Reorder Level",
	"Expiry Date",
	"Low Stock",
}

// GenerateInventoryExport 生成库存导出 Excel 文件
func GenerateInventoryExport(medicines []*domain.Medicine) ([]byte, error) {
	f := excelize.NewFile()
	// WriteTo 需要文件保持打开状态，出错路径手动 Close

	sheetName := "Inventory"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}

	// 删除默认的 Sheet1
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{
			Bold: true,
		},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	// 写入表头
	for col, header := range InventoryExportHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(sheetName, cell, header); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheetName, cell, cell, headerStyle); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header style: %w", err)
		}
	}

	columnWidths := []float64{38, 30, 12, 10, 14, 14, 10}
	for i := range InventoryExportHeader {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert column number: %w", err)
		}
		if err := f.SetColWidth(sheetName, col, col, columnWidths[i]); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set column width: %w", err)
		}
	}

	// 写入数据
	for rowIdx, med := range medicines {
		row := rowIdx + 2 // 第1行是表头

		expiry := ""
		if med.ExpiryDate != nil {
			expiry = med.ExpiryDate.Format("2006-01-02")
		}
		lowStock := ""
		if med.Stock <= med.ReorderLevel {
			lowStock = "YES"
		}

		values := []any{
			med.MedicineID,
			med.Name,
			med.Unit,
			med.Stock,
			med.ReorderLevel,
			expiry,
			lowStock,
		}
		for col, value := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row)
			if err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to convert coordinates: %w", err)
			}
			if err := f.SetCellValue(sheetName, cell, value); err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to set cell %s: %w", cell, err)
			}
		}
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write excel file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close excel file: %w", err)
	}

	return buf.Bytes(), nil
}

// InventoryExportFilename 导出文件名，带日期后缀
func InventoryExportFilename(now time.Time) string {
	return fmt.Sprintf("inventory_%s.xlsx", now.Format("20060102"))
}
