package model

import (
	"strings"
	"time"
)

// Identity は認証済みユーザーの識別情報を表す。
// 永続化はせず、リクエストごとに検証結果から再構築する。
type Identity struct {
	Email           string `json:"email"`
	EnterpriseEmail string `json:"enterprise_email,omitempty"`
}

// ResolvedEmail はドメイン判定・表示に用いるメールアドレスを返す。
// enterprise_email を優先する。
func (i *Identity) ResolvedEmail() string {
	if i.EnterpriseEmail != "" {
		return i.EnterpriseEmail
	}
	return i.Email
}

// AdminList は管理者メールアドレスの許可リスト。
type AdminList map[string]struct{}

// NewAdminList は小文字化したメールアドレスからAdminListを生成する。
func NewAdminList(emails []string) AdminList {
	list := make(AdminList, len(emails))
	for _, e := range emails {
		list[strings.ToLower(strings.TrimSpace(e))] = struct{}{}
	}
	return list
}

// IsAdmin はメールアドレスが許可リストに含まれるかを大文字小文字を区別せずに判定する。
func (l AdminList) IsAdmin(email string) bool {
	if email == "" {
		return false
	}
	_, ok := l[strings.ToLower(email)]
	return ok
}

// GlobalMemo は設定ドキュメント先頭付近に置かれる告知カードの内容。
type GlobalMemo struct {
	Content   string
	UpdatedAt time.Time
	UpdatedBy string
}

// UpdatedAtString はJavaScriptのtoISOStringと同じ形式（ミリ秒、UTC）で時刻を返す。
func (m GlobalMemo) UpdatedAtString() string {
	return FormatTimestamp(m.UpdatedAt)
}

// FormatTimestamp は時刻を 2006-01-02T15:04:05.000Z 形式に整形する。
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
