package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はゲートのHTTPサーバーを起動することを示す。
	CommandServe Command = "serve"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
	// CommandPruneBackups は保持数を超えたバックアップの削除を1回だけ実行することを示す。
	CommandPruneBackups Command = "prune-backups"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch args[0] {
	case "serve":
		return CommandServe
	case "healthcheck":
		return CommandHealthcheck
	case "prune-backups":
		return CommandPruneBackups
	default:
		return CommandServe
	}
}
