package stock

// ComputeNewLevel 计算调整后的库存水平
// 入库传正数，发药/核减传负数。
func ComputeNewLevel(current, delta int) int {
	return current + delta
}

// IsValid 判断调整后的库存是否合法（不允许负库存）
func IsValid(newLevel int) bool {
	return newLevel >= 0
}
