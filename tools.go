//go:build tools
// +build tools

// Package tools は go generate で使うツールの依存関係を固定する
package chat_presence_app

import (
	_ "go.uber.org/mock/mockgen"
)
