package phone

import "strings"

// DefaultCountryCode 默认国家区号（印度）
const DefaultCountryCode = "91"

// Normalize 使用默认区号归一化电话号码
func Normalize(raw string) string {
	return NormalizeWithCountryCode(raw, DefaultCountryCode)
}

// NormalizeWithCountryCode 将电话号码归一化为不带 "+" 的国际格式
// 规则（按顺序）：
//  1. 去除所有非数字字符
//  2. 去除前导零
//  3. 已带区号前缀的原样返回
//  4. 恰好 10 位的补区号前缀
//  5. 11 位且以 "1" 开头的，替换首位为 "9"（历史数据修正，仅限印度区号；
//     早期录入工具曾把 "91xxxxxxxxxx" 截断成 "1xxxxxxxxxx"）
//  6. 其余情况直接补区号前缀
//
// 纯函数；对已归一化的 12 位印度号码幂等。
func NormalizeWithCountryCode(raw, countryCode string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	cleaned := strings.TrimLeft(b.String(), "0")

	if cleaned == "" {
		return ""
	}

	// 已是完整国际格式（区号 + 10 位本地号码）的原样返回。
	// 注意不能只看前缀：10 位本地号码本身可能以区号数字开头。
	if strings.HasPrefix(cleaned, countryCode) && len(cleaned) == len(countryCode)+10 {
		return cleaned
	}

	if len(cleaned) == 10 {
		return countryCode + cleaned
	}

	if countryCode == DefaultCountryCode && len(cleaned) == 11 && cleaned[0] == '1' {
		return "9" + cleaned
	}

	return countryCode + cleaned
}
