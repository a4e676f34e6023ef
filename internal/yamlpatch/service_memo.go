package yamlpatch

import (
	"regexp"
	"strings"
)

var (
	// idLinePattern は "id: value" の行にマッチする。リスト要素の先頭キーでもよい。
	// 値はクォート可、空白・クォートを含まない。
	idLinePattern = regexp.MustCompile(`^(\s*)(-\s+)?id:\s*["']?([^"'\s#]+)["']?\s*(?:#.*)?$`)
	// memoLinePattern は "memo:" キーの行にマッチする。
	memoLinePattern = regexp.MustCompile(`^(\s*)(-\s+)?memo:`)
	// listItemPrefix はリスト要素のダッシュ部分を取り出す。
	listItemPrefix = regexp.MustCompile(`^(\s*)(-\s+)`)
)

// memoScan はサービスエントリ1件分の走査結果。
type memoScan struct {
	state     scanState
	start     int // エントリの先頭行
	end       int // エントリの終端（この行は含まない）
	keyIndent int // エントリ直下のキーのインデント幅
	memoLine  int // 既存の memo: 行。なければ -1
	anchor    int // 最後の内容行。memo: 行はこの直後に挿入する
}

// UpsertServiceMemo は id が serviceID のサービスエントリに memo を設定する。
//
// 既存の memo: 行があれば置き換え、なければエントリの最後の内容行の直後に
// エントリ直下のキーと同じインデントで追加する。
// 該当エントリがない場合は doc をそのまま返し、found は false になる。
func UpsertServiceMemo(doc, serviceID, memo string) (patched string, found bool) {
	lines := splitLines(doc)

	scan := scanServiceEntry(lines, serviceID)
	if scan.state != stateDone {
		return doc, false
	}

	if scan.memoLine >= 0 {
		m := memoLinePattern.FindStringSubmatch(lines[scan.memoLine])
		replacement := m[1] + m[2] + "memo: " + quote(memo)
		last := lastContinuationLine(lines, scan.memoLine, scan.end, scan.keyIndent)
		out := make([]string, 0, len(lines))
		out = append(out, lines[:scan.memoLine]...)
		out = append(out, replacement)
		out = append(out, lines[last+1:]...)
		return joinLines(out), true
	}

	newLine := strings.Repeat(" ", scan.keyIndent) + "memo: " + quote(memo)
	out := make([]string, 0, len(lines)+1)
	out = append(out, lines[:scan.anchor+1]...)
	out = append(out, newLine)
	out = append(out, lines[scan.anchor+1:]...)
	return joinLines(out), true
}

// scanServiceEntry は最初に見つかった id 一致のエントリを走査する。
func scanServiceEntry(lines []string, serviceID string) memoScan {
	s := memoScan{state: stateSeeking, memoLine: -1, anchor: -1}

	for i, line := range lines {
		switch s.state {
		case stateSeeking:
			m := idLinePattern.FindStringSubmatch(line)
			if m == nil || m[3] != serviceID {
				continue
			}
			s.state = stateInside
			s.keyIndent = len(m[1]) + len(m[2])
			s.start = i
			if m[2] == "" {
				// id がエントリ先頭のキーでない場合は、ダッシュ行まで遡って
				// id より前にある memo: 行も対象にする。
				s.start = entryStart(lines, i, s.keyIndent)
			}
			for j := s.start; j <= i; j++ {
				s.observe(lines, j)
			}

		case stateInside:
			if isContent(line) && indentOf(line) < s.keyIndent {
				s.end = i
				s.state = stateDone
			} else {
				s.observe(lines, i)
			}
		}

		if s.state == stateDone {
			break
		}
	}

	if s.state == stateInside {
		s.end = len(lines)
		s.state = stateDone
	}
	return s
}

// observe はエントリ内の1行を記録する。
func (s *memoScan) observe(lines []string, i int) {
	line := lines[i]
	if !isContent(line) {
		return
	}
	s.anchor = i
	if s.memoLine >= 0 {
		return
	}
	if m := memoLinePattern.FindStringSubmatch(line); m != nil && len(m[1])+len(m[2]) == s.keyIndent {
		s.memoLine = i
	}
}

// entryStart は idLine を含むエントリの先頭行を返す。
// keyIndent より浅い最初の内容行がリスト要素ならその行、そうでなければその次の行。
func entryStart(lines []string, idLine, keyIndent int) int {
	for j := idLine - 1; j >= 0; j-- {
		if !isContent(lines[j]) || indentOf(lines[j]) >= keyIndent {
			continue
		}
		if m := listItemPrefix.FindStringSubmatch(lines[j]); m != nil && len(m[1])+len(m[2]) == keyIndent {
			return j
		}
		return j + 1
	}
	return 0
}

// lastContinuationLine は memo の値がブロックスカラー等で複数行にわたる場合の最終行を返す。
// 後続の空行は含めない。
func lastContinuationLine(lines []string, memoLine, end, keyIndent int) int {
	last := memoLine
	for j := memoLine + 1; j < end; j++ {
		if isBlank(lines[j]) {
			continue
		}
		if indentOf(lines[j]) <= keyIndent {
			break
		}
		last = j
	}
	return last
}
