// Package spam 实现启发式垃圾邮件打分。
//
// 打分是纯函数：同样的输入永远得到同样的分数，不做任何 I/O，
// 邮件入库后分数不再重算（用户手动标记除外）。
package spam

import (
	"strings"
	"unicode"

	"dropmail/backend/internal/domain"
)

// 命中一个关键词加 0.2 分（可累加）。
var keywords = []string{"viagra", "lottery", "winner", "prince", "inheritance"}

// 可疑发件域名后缀，命中加 0.2 分。
var suspiciousSuffixes = []string{".xyz", ".top", ".work", ".click"}

const (
	keywordWeight  = 0.2
	capsWeight     = 0.3
	capsRatioLimit = 0.3
	suffixWeight   = 0.2
)

// Score 对解码后的邮件计算 [0,1] 区间内的垃圾分数。
//
// 规则：
//  1. 正文中每命中一个关键词（不区分大小写）加 0.2；
//  2. 正文字母中大写占比超过 0.3 加 0.3，空正文视为占比 0；
//  3. 发件人域名以可疑后缀结尾加 0.2；
//  4. 总分截断到 [0,1]。
func Score(bodyText, senderAddress string) float64 {
	score := 0.0

	lower := strings.ToLower(bodyText)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			score += keywordWeight
		}
	}

	if uppercaseRatio(bodyText) > capsRatioLimit {
		score += capsWeight
	}

	if hasSuspiciousDomain(senderAddress) {
		score += suffixWeight
	}

	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return score
}

// IsSpam 按固定阈值（严格大于 0.7）推导垃圾标记。
func IsSpam(score float64) bool {
	return score > domain.SpamThreshold
}

// uppercaseRatio 计算正文字母字符中大写字母的占比。
// 正文为空或没有字母时返回 0，避免除零。
func uppercaseRatio(text string) float64 {
	var letters, upper int
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if unicode.IsUpper(r) {
			upper++
		}
	}
	if letters == 0 {
		return 0
	}
	return float64(upper) / float64(letters)
}

// hasSuspiciousDomain 检查发件地址的域名是否以可疑后缀结尾。
func hasSuspiciousDomain(senderAddress string) bool {
	at := strings.LastIndex(senderAddress, "@")
	if at < 0 || at == len(senderAddress)-1 {
		return false
	}
	domainPart := strings.ToLower(senderAddress[at+1:])
	for _, suffix := range suspiciousSuffixes {
		if strings.HasSuffix(domainPart, suffix) {
			return true
		}
	}
	return false
}
