package yamlpatch

import (
	"regexp"

	"github.com/hitoshi/navgate/internal/model"
)

// globalMemoComment は新規にブロックを追加するとき見出しとして付けるコメント。
const globalMemoComment = "# Global Memo (告知カード)"

var globalMemoHeader = regexp.MustCompile(`^globalMemo:`)

// topLevelKeyLine はブロックを終わらせるトップレベルキーの行。
var topLevelKeyLine = regexp.MustCompile(`^[A-Za-z]`)

// blockScan はトップレベルブロックの走査結果。
type blockScan struct {
	state scanState
	start int // ヘッダ行
	end   int // ブロックの終端（この行は含まない）
}

// UpsertGlobalMemo はトップレベルの globalMemo ブロックを memo の内容で置き換える。
//
// ブロックがなければ anchorKey のトップレベルキーの直前に見出しコメント付きで追加する。
// anchorKey も見つからない場合はドキュメントの末尾に追加する。
// 同じ入力に対しては何度適用しても同じ結果になる。
func UpsertGlobalMemo(doc string, memo model.GlobalMemo, anchorKey string) string {
	lines := splitLines(doc)
	block := globalMemoBlock(memo)

	scan := scanGlobalMemo(lines)
	if scan.state == stateDone {
		out := make([]string, 0, len(lines)+len(block))
		out = append(out, lines[:scan.start]...)
		out = append(out, block...)
		out = append(out, lines[scan.end:]...)
		return joinLines(out)
	}

	section := append([]string{globalMemoComment}, block...)

	if anchor := findTopLevelKey(lines, anchorKey); anchor >= 0 {
		insert := make([]string, 0, len(section)+2)
		if anchor > 0 && !isBlank(lines[anchor-1]) {
			insert = append(insert, "")
		}
		insert = append(insert, section...)
		insert = append(insert, "")

		out := make([]string, 0, len(lines)+len(insert))
		out = append(out, lines[:anchor]...)
		out = append(out, insert...)
		out = append(out, lines[anchor:]...)
		return joinLines(out)
	}

	// 末尾に追加する。末尾の空行は1行にまとめ、最後は改行で終える。
	for len(lines) > 0 && isBlank(lines[len(lines)-1]) {
		lines = lines[:len(lines)-1]
	}
	if len(lines) > 0 {
		lines = append(lines, "")
	}
	lines = append(lines, section...)
	lines = append(lines, "")
	return joinLines(lines)
}

// scanGlobalMemo は globalMemo ブロックの範囲を求める。
// ブロックはヘッダ行から、次に英字で始まるインデントなしの行の直前まで。
// 途中のコメントはブロックに含めるが、終端直前の空行とインデントなしのコメントは含めない。
func scanGlobalMemo(lines []string) blockScan {
	s := blockScan{state: stateSeeking}
	lastContent := -1

	for i, line := range lines {
		switch s.state {
		case stateSeeking:
			if globalMemoHeader.MatchString(line) {
				s.state = stateInside
				s.start = i
				lastContent = i
			}
		case stateInside:
			if isBlank(line) {
				continue
			}
			if indentOf(line) == 0 {
				if topLevelKeyLine.MatchString(line) {
					s.state = stateDone
					break
				}
				if isComment(line) {
					continue
				}
			}
			lastContent = i
		}
		if s.state == stateDone {
			break
		}
	}

	if s.state == stateInside {
		s.state = stateDone
	}
	if s.state == stateDone {
		s.end = lastContent + 1
	}
	return s
}

// findTopLevelKey はインデントなしの "key:" 行の位置を返す。見つからなければ -1。
func findTopLevelKey(lines []string, key string) int {
	if key == "" {
		return -1
	}
	pattern := regexp.MustCompile(`^` + regexp.QuoteMeta(key) + `:`)
	for i, line := range lines {
		if pattern.MatchString(line) {
			return i
		}
	}
	return -1
}

func globalMemoBlock(memo model.GlobalMemo) []string {
	return []string{
		"globalMemo:",
		"  content: " + quote(memo.Content),
		"  updatedAt: " + quote(memo.UpdatedAtString()),
		"  updatedBy: " + quote(memo.UpdatedBy),
	}
}
