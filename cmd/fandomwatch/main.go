// Command fandomwatch はファンダム分析サービスのAPIサーバー・取り込みワーカー・運用コマンドを起動する。
//
//	fandomwatch [serve|worker|migrate|healthcheck|trends <keyword>...]
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/fandomwatch/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "fandomwatch: %v\n", err)
		os.Exit(1)
	}
}
