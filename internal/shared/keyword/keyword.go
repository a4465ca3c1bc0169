// Package keyword 按词边界的关键词匹配
//
// 文本先转小写，非字母数字字符折叠为单个空格，再以 " kw " 形式查找，
// 因此 "run" 不会命中 "rerunning"，多词短语（"what is"）也能匹配。
package keyword

import (
	"strings"
	"unicode"
)

// Text 预处理后的文本
type Text struct {
	padded string
}

// Parse 预处理文本
func Parse(s string) Text {
	return Text{padded: " " + Normalize(s) + " "}
}

// Has 是否包含关键词（按词边界）
func (t Text) Has(phrase string) bool {
	kw := Normalize(phrase)
	if kw == "" {
		return false
	}
	return strings.Contains(t.padded, " "+kw+" ")
}

// Empty 预处理后是否为空
func (t Text) Empty() bool {
	return strings.TrimSpace(t.padded) == ""
}

// Normalize 小写并把标点折叠为单个空格
func Normalize(s string) string {
	var b strings.Builder
	space := true
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}
