//go:build mage

// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

// Package main provides build targets for the coco project using Mage.
//
// Usage:
//
//	mage build       Compile the coco binary to bin/
//	mage test:all    Run all tests
//	mage test:unit   Run unit tests with the race detector
//	mage test:cover  Write a coverage profile to bin/coverage.out
//	mage lint        Run golangci-lint
//	mage vet         Run go vet
//	mage clean       Remove build artifacts
//	mage install     Install coco to GOPATH/bin
package main

const binGo = "go"
