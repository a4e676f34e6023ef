// Package yamlpatch は設定ドキュメント（config.yml）を行単位で書き換える。
//
// YAMLとしてパースし直すとコメントやキー順、書式が失われるため、
// 対象となる範囲だけをテキストとして差し替え、それ以外の行はバイト単位で保持する。
// 扱うのは トップレベルのキー、"- " で始まるリスト要素、2スペースのネスト のみ。
package yamlpatch

import "strings"

// scanState は行走査の状態を表す。
type scanState int

const (
	stateSeeking scanState = iota // 対象を探している
	stateInside                   // 対象の範囲内
	stateDone                     // 範囲の終端に到達した
)

var lineEndings = strings.NewReplacer("\r\n", "\n", "\r", "\n")

// splitLines は改行コードをLFに正規化して行に分割する。
func splitLines(doc string) []string {
	return strings.Split(lineEndings.Replace(doc), "\n")
}

func joinLines(lines []string) string {
	return strings.Join(lines, "\n")
}

// indentOf は行頭の空白（スペース・タブ）の幅を返す。
func indentOf(line string) int {
	return len(line) - len(strings.TrimLeft(line, " \t"))
}

func isBlank(line string) bool {
	return strings.TrimSpace(line) == ""
}

func isComment(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), "#")
}

// isContent は空行・コメント行以外の行かを返す。
func isContent(line string) bool {
	return !isBlank(line) && !isComment(line)
}

// isListItem は "- " で始まるリスト要素の行かを返す。
func isListItem(line string) bool {
	trimmed := strings.TrimSpace(line)
	return trimmed == "-" || strings.HasPrefix(trimmed, "- ")
}

var scalarEscaper = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
)

// quote は値をダブルクォートのYAMLスカラーとして返す。
// 改行もエスケープするため、値は常に1行に収まる。
func quote(s string) string {
	return `"` + scalarEscaper.Replace(s) + `"`
}
