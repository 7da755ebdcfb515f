// Command tokengate はGoogle OAuthのトークンライフサイクルを管理するWebサービス。
//
// サブコマンド:
//
//	serve        HTTPサーバーを起動する（デフォルト）
//	worker       期限切れセッションを定期的に削除する
//	migrate      データベースマイグレーションを適用する
//	healthcheck  /health を呼び出して結果を終了コードで返す
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/tokengate/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "tokengate: %v\n", err)
		os.Exit(1)
	}
}
