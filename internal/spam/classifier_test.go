package spam

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScore(t *testing.T) {
	t.Run("干净邮件得零分", func(t *testing.T) {
		score := Score("Hello, your meeting is scheduled for tomorrow at 10am.", "alice@example.com")
		assert.Equal(t, 0.0, score)
		assert.False(t, IsSpam(score))
	})

	t.Run("关键词逐个累加", func(t *testing.T) {
		assert.InDelta(t, 0.2, Score("claim your lottery payout now", "a@example.com"), 1e-9)
		assert.InDelta(t, 0.4, Score("lottery winner announcement", "a@example.com"), 1e-9)
	})

	t.Run("关键词匹配不区分大小写", func(t *testing.T) {
		// 全大写正文同时触发大写占比规则
		score := Score("VIAGRA", "a@example.com")
		assert.InDelta(t, 0.5, score, 1e-9)
	})

	t.Run("同一关键词出现多次只计一次", func(t *testing.T) {
		score := Score("winner winner winner", "a@example.com")
		assert.InDelta(t, 0.2, score, 1e-9)
	})

	t.Run("大写占比超过阈值加分", func(t *testing.T) {
		// 10 个字母里 4 个大写，占比 0.4 > 0.3
		assert.InDelta(t, 0.3, Score("ABCDefghij", "a@example.com"), 1e-9)
		// 恰好 0.3 不加分（严格大于）
		assert.Equal(t, 0.0, Score("ABCdefghij", "a@example.com"))
	})

	t.Run("大写占比只统计字母", func(t *testing.T) {
		// 数字和标点不参与分母
		assert.InDelta(t, 0.3, Score("AB 12345 !!! c", "a@example.com"), 1e-9)
	})

	t.Run("空正文不加分也不除零", func(t *testing.T) {
		assert.Equal(t, 0.0, Score("", "a@example.com"))
		assert.Equal(t, 0.0, Score("12345 !!!", "a@example.com"))
	})

	t.Run("可疑发件域名后缀加分", func(t *testing.T) {
		assert.InDelta(t, 0.2, Score("hello there friend", "promo@deals.xyz"), 1e-9)
		assert.InDelta(t, 0.2, Score("hello there friend", "promo@offers.top"), 1e-9)
		assert.Equal(t, 0.0, Score("hello there friend", "promo@deals.example"))
	})

	t.Run("域名缺失或为空时不加分", func(t *testing.T) {
		assert.Equal(t, 0.0, Score("hello there friend", "not-an-address"))
		assert.Equal(t, 0.0, Score("hello there friend", "broken@"))
	})

	t.Run("总分截断到一", func(t *testing.T) {
		// 五个关键词 + 全大写 + 可疑域名，原始分 1.5
		score := Score("WIN THE LOTTERY PRINCE INHERITANCE VIAGRA WINNER", "x@evil.xyz")
		assert.Equal(t, 1.0, score)
		assert.True(t, IsSpam(score))
	})
}

func TestIsSpam(t *testing.T) {
	t.Run("阈值判定为严格大于", func(t *testing.T) {
		assert.False(t, IsSpam(0.7))
		assert.True(t, IsSpam(0.71))
		assert.False(t, IsSpam(0.0))
		assert.True(t, IsSpam(1.0))
	})
}
