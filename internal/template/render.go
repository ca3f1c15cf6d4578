package template

import "regexp"

// placeholderPattern 匹配 {{key}} 占位符（key 为字母数字和下划线）
var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)\s*\}\}`)

// Render 用 vars 替换模板中的 {{key}} 占位符
// - 每个 key 的所有出现位置都会被替换
// - vars 中不存在的 key 原样保留在输出中
// - 单遍扫描原始模板：替换进去的值不会再次被扫描（无递归替换）
func Render(tmpl string, vars map[string]string) string {
	if tmpl == "" || len(vars) == 0 {
		return tmpl
	}

	return placeholderPattern.ReplaceAllStringFunc(tmpl, func(match string) string {
		key := placeholderPattern.FindStringSubmatch(match)[1]
		if value, ok := vars[key]; ok {
			return value
		}
		return match
	})
}

// Placeholders 返回模板引用的占位符 key 列表（按出现顺序去重）
// 用于模板录入时的校验提示。
func Placeholders(tmpl string) []string {
	seen := make(map[string]bool)
	keys := []string{}
	for _, m := range placeholderPattern.FindAllStringSubmatch(tmpl, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			keys = append(keys, m[1])
		}
	}
	return keys
}
