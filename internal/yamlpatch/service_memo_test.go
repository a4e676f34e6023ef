package yamlpatch

import (
	"crypto/sha256"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const servicesDoc = `title: "Internal Navigation"
# サービス一覧
services:
  - name: "Monitoring"
    items:
      - name: "Grafana"
        id: grafana
        url: "https://grafana.example.com"
      - name: "Prometheus"
        id: "prometheus"
        url: "https://prometheus.example.com"
        memo: "old note"
links:
  - name: "Wiki"
    url: "https://wiki.example.com"
`

type serviceItem struct {
	ID   string `yaml:"id"`
	Memo string `yaml:"memo"`
}

type navDoc struct {
	Services []struct {
		Items []serviceItem `yaml:"items"`
	} `yaml:"services"`
}

func parseItems(t *testing.T, doc string) map[string]serviceItem {
	t.Helper()
	var parsed navDoc
	require.NoError(t, yaml.Unmarshal([]byte(doc), &parsed), "patched document must stay valid YAML:\n%s", doc)
	items := map[string]serviceItem{}
	for _, group := range parsed.Services {
		for _, item := range group.Items {
			items[item.ID] = item
		}
	}
	return items
}

func TestUpsertServiceMemo_InsertsAfterLastField(t *testing.T) {
	got, found := UpsertServiceMemo(servicesDoc, "grafana", "down for maint")
	require.True(t, found)

	want := strings.Replace(servicesDoc,
		"        url: \"https://grafana.example.com\"\n",
		"        url: \"https://grafana.example.com\"\n        memo: \"down for maint\"\n", 1)
	assert.Equal(t, want, got)
	assert.Equal(t, "down for maint", parseItems(t, got)["grafana"].Memo)
}

func TestUpsertServiceMemo_OverwritesExistingMemo(t *testing.T) {
	got, found := UpsertServiceMemo(servicesDoc, "prometheus", "scrape paused")
	require.True(t, found)

	want := strings.Replace(servicesDoc, `memo: "old note"`, `memo: "scrape paused"`, 1)
	assert.Equal(t, want, got)
}

func TestUpsertServiceMemo_TwiceKeepsSingleMemoLine(t *testing.T) {
	first, found := UpsertServiceMemo(servicesDoc, "grafana", "first")
	require.True(t, found)
	second, found := UpsertServiceMemo(first, "grafana", "second")
	require.True(t, found)

	assert.Equal(t, 2, strings.Count(second, "memo:"), "grafana and prometheus should each have one memo line")
	assert.Contains(t, second, "        memo: \"second\"\n")
	assert.NotContains(t, second, "first")

	// grafana の memo 行以外はすべて元のまま
	without := strings.Replace(second, "        memo: \"second\"\n", "", 1)
	assert.Equal(t, servicesDoc, without)
}

func TestUpsertServiceMemo_NotFoundLeavesDocumentUnchanged(t *testing.T) {
	before := sha256.Sum256([]byte(servicesDoc))

	got, found := UpsertServiceMemo(servicesDoc, "kibana", "x")

	assert.False(t, found)
	assert.Equal(t, before, sha256.Sum256([]byte(got)))
}

func TestUpsertServiceMemo_DoesNotMatchIDPrefix(t *testing.T) {
	_, found := UpsertServiceMemo(servicesDoc, "graf", "x")
	assert.False(t, found)
}

func TestUpsertServiceMemo_EscapingRoundTrips(t *testing.T) {
	memos := []string{
		`say "hello"`,
		`C:\path\to\file`,
		`mixed \" both`,
		"two\nlines",
		"tab\there",
		"",
		"日本語のメモ",
	}

	for _, memo := range memos {
		t.Run(memo, func(t *testing.T) {
			got, found := UpsertServiceMemo(servicesDoc, "grafana", memo)
			require.True(t, found)
			assert.Equal(t, memo, parseItems(t, got)["grafana"].Memo)
		})
	}
}

func TestUpsertServiceMemo_DashIDEntry(t *testing.T) {
	doc := "services:\n- id: grafana\n  url: https://grafana.example.com\n- id: loki\n  url: https://loki.example.com\n"

	got, found := UpsertServiceMemo(doc, "grafana", "down for maint")
	require.True(t, found)

	want := "services:\n- id: grafana\n  url: https://grafana.example.com\n  memo: \"down for maint\"\n- id: loki\n  url: https://loki.example.com\n"
	assert.Equal(t, want, got)
}

func TestUpsertServiceMemo_LastEntryBeforeTopLevelKey(t *testing.T) {
	doc := "services:\n- id: grafana\n  url: https://grafana.example.com\nlinks:\n  wiki: https://wiki.example.com\n"

	got, found := UpsertServiceMemo(doc, "grafana", "note")
	require.True(t, found)

	want := "services:\n- id: grafana\n  url: https://grafana.example.com\n  memo: \"note\"\nlinks:\n  wiki: https://wiki.example.com\n"
	assert.Equal(t, want, got)
}

func TestUpsertServiceMemo_MemoBeforeID(t *testing.T) {
	doc := "items:\n  - memo: \"stale\"\n    id: grafana\n    url: x\n  - id: loki\n"

	got, found := UpsertServiceMemo(doc, "grafana", "fresh")
	require.True(t, found)

	want := "items:\n  - memo: \"fresh\"\n    id: grafana\n    url: x\n  - id: loki\n"
	assert.Equal(t, want, got)
}

func TestUpsertServiceMemo_IgnoresNestedMemoKeys(t *testing.T) {
	doc := "items:\n  - id: grafana\n    extra:\n      memo: nested\n  - id: loki\n"

	got, found := UpsertServiceMemo(doc, "grafana", "top")
	require.True(t, found)

	want := "items:\n  - id: grafana\n    extra:\n      memo: nested\n    memo: \"top\"\n  - id: loki\n"
	assert.Equal(t, want, got)

	var parsed struct {
		Items []struct {
			ID    string            `yaml:"id"`
			Memo  string            `yaml:"memo"`
			Extra map[string]string `yaml:"extra"`
		} `yaml:"items"`
	}
	require.NoError(t, yaml.Unmarshal([]byte(got), &parsed))
	assert.Equal(t, "top", parsed.Items[0].Memo)
	assert.Equal(t, "nested", parsed.Items[0].Extra["memo"])
}

func TestUpsertServiceMemo_ReplacesBlockScalarMemo(t *testing.T) {
	doc := "items:\n  - id: grafana\n    memo: |\n      line one\n      line two\n    url: x\n"

	got, found := UpsertServiceMemo(doc, "grafana", "single")
	require.True(t, found)

	assert.Equal(t, "items:\n  - id: grafana\n    memo: \"single\"\n    url: x\n", got)
}

func TestUpsertServiceMemo_InsertsAfterNestedListAndBeforeTrailingComment(t *testing.T) {
	doc := "items:\n  - id: grafana\n    tags:\n      - ops\n    # end of grafana\n\n  - id: loki\n"

	got, found := UpsertServiceMemo(doc, "grafana", "note")
	require.True(t, found)

	want := "items:\n  - id: grafana\n    tags:\n      - ops\n    memo: \"note\"\n    # end of grafana\n\n  - id: loki\n"
	assert.Equal(t, want, got)
}

func TestUpsertServiceMemo_OnlyFirstMatchingEntry(t *testing.T) {
	doc := "items:\n  - id: dup\n    url: a\n  - id: dup\n    url: b\n"

	got, found := UpsertServiceMemo(doc, "dup", "first")
	require.True(t, found)

	assert.Equal(t, "items:\n  - id: dup\n    url: a\n    memo: \"first\"\n  - id: dup\n    url: b\n", got)
}

func TestUpsertServiceMemo_NormalizesLineEndings(t *testing.T) {
	doc := "items:\r\n  - id: grafana\r\n    url: x\r\n"

	got, found := UpsertServiceMemo(doc, "grafana", "note")
	require.True(t, found)

	assert.Equal(t, "items:\n  - id: grafana\n    url: x\n    memo: \"note\"\n", got)
}

func TestUpsertServiceMemo_QuotedIDWithTrailingComment(t *testing.T) {
	doc := "items:\n  - name: Grafana\n    id: 'grafana' # primary\n"

	got, found := UpsertServiceMemo(doc, "grafana", "note")
	require.True(t, found)

	assert.Equal(t, "items:\n  - name: Grafana\n    id: 'grafana' # primary\n    memo: \"note\"\n", got)
}
