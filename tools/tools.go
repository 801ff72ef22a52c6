//go:build tools

// Package tools records the development tools the repo expects. They are run
// with `go run <module>@<version>` and are not part of the build.
package tools

// mockgen regenerates internal/mocks:
//
//	go generate ./internal/mocks
//
// Pinned to go.uber.org/mock/mockgen@v0.6.0 in internal/mocks/generate.go.
