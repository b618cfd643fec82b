package command

import "strings"

const (
	listHeader       = "📋 追蹤清單"
	emptyList        = "📭 追蹤清單是空的"
	emptyListHint    = "📭 追蹤清單是空的，輸入「追蹤 2330」開始追蹤"
	trackUsage       = "請輸入「追蹤 股票代號」，例如：追蹤 2330"
	untrackUsage     = "請輸入「取消追蹤 股票代號」，例如：取消追蹤 2330"
	storeWriteFailed = "❌ 無法更新追蹤清單，請稍後再試"
	storeReadFailed  = "❌ 無法讀取追蹤清單，請稍後再試"

	helpText = `📊 台股小幫手指令
追蹤 2330：加入追蹤清單
取消追蹤 2330：移出追蹤清單
清單：查看追蹤清單
股價：查詢清單內所有股價（股價 2330 或直接輸入 2330 查單檔）`
)

func tracked(t string) string {
	return "✅ 已加入追蹤：" + t
}

func alreadyTracked(t string) string {
	return "ℹ️ " + t + " 已在追蹤清單中"
}

func untracked(t string) string {
	return "🗑️ 已取消追蹤：" + t
}

func notTracked(t string) string {
	return "⚠️ " + t + " 不在追蹤清單中"
}

func invalidTicker(t string) string {
	return "⚠️ 股票代號格式錯誤：" + t
}

// RenderList prints the header then one ticker per line.
func RenderList(tickers []string) string {
	return listHeader + "\n" + strings.Join(tickers, "\n")
}
