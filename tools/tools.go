//go:build tools
// +build tools

// This file uses the canonical blank-import trick to pin the versions of
// development tools in go.mod without building them into the binary.
package tools

import (
	_ "github.com/golangci/golangci-lint/cmd/golangci-lint"
)
