package domain

import "time"

// 库存变动类型
const (
	MovementInward     = "inward"     // 进货入库
	MovementDispense   = "dispense"   // 处方发药
	MovementAdjustment = "adjustment" // 人工盘点调整
)

// Medicine 药品目录条目（对应 medicines 表，诊所级定价/库存）
type Medicine struct {
	MedicineID   string     `db:"medicine_id"`   // UUID, PRIMARY KEY
	ClinicID     string     `db:"clinic_id"`     // UUID, NOT NULL
	Name         string     `db:"name"`          // VARCHAR(200), NOT NULL
	Unit         string     `db:"unit"`          // VARCHAR(20), 如 "tablet", "ml"
	Stock        int        `db:"stock"`         // INT, CHECK (stock >= 0)
	ReorderLevel int        `db:"reorder_level"` // INT, 低库存阈值
	ExpiryDate   *time.Time `db:"expiry_date"`   // DATE, nullable
	CreatedAt    time.Time  `db:"created_at"`    // TIMESTAMPTZ, NOT NULL
	UpdatedAt    time.Time  `db:"updated_at"`    // TIMESTAMPTZ, NOT NULL
}

// StockMovement 库存流水（对应 stock_movements 表）
// 每次库存调整写一条流水，balance_after 记录调整后的余额。
type StockMovement struct {
	MovementID   string    `db:"movement_id"`   // UUID, PRIMARY KEY
	ClinicID     string    `db:"clinic_id"`     // UUID, NOT NULL
	MedicineID   string    `db:"medicine_id"`   // UUID, NOT NULL
	MovementType string    `db:"movement_type"` // VARCHAR(20), CHECK IN ('inward', 'dispense', 'adjustment')
	Quantity     int       `db:"quantity"`      // INT, 带符号的数量变化
	BalanceAfter int       `db:"balance_after"` // INT, 调整后的库存余额
	Reason       *string   `db:"reason"`        // TEXT, nullable
	CreatedAt    time.Time `db:"created_at"`    // TIMESTAMPTZ, NOT NULL
}
