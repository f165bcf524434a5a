// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

//go:build mage

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const (
	binaryName = "ci-orchestrator"
	buildDir   = "build"
	versionPkg = "github.com/elastic/ci-orchestrator/version"
)

// Aliases for commands required by master makefile
var Aliases = map[string]interface{}{
	"build": Build.Binary,
	"test":  Test.All,
}

// Build namespace used to build binaries.
type Build mg.Namespace

// Test namespace contains all the task for testing the projects.
type Test mg.Namespace

// Check namespace contains tasks related check the actual code quality.
type Check mg.Namespace

// Format namespace contains formatting tasks.
type Format mg.Namespace

// Binary builds the orchestrator binary for the host platform. Set SNAPSHOT=true
// for a snapshot build.
func (Build) Binary() error {
	commit, err := sh.Output("git", "rev-parse", "HEAD")
	if err != nil {
		commit = "unknown"
	}
	vars := map[string]string{
		versionPkg + ".commit":    commit,
		versionPkg + ".buildTime": time.Now().UTC().Format(time.RFC3339),
	}
	if isSnapshot() {
		vars[versionPkg+".qualifier"] = "SNAPSHOT"
	}

	ldflags := []string{"-s"}
	for k, v := range vars {
		ldflags = append(ldflags, fmt.Sprintf("-X %s=%s", k, v))
	}

	out := filepath.Join(buildDir, binaryName)
	if runtime.GOOS == "windows" {
		out += ".exe"
	}
	return sh.RunWithV(map[string]string{"CGO_ENABLED": "0"},
		"go", "build", "-trimpath", "-ldflags", strings.Join(ldflags, " "), "-o", out, ".")
}

// Clean up dev environment.
func (Build) Clean() error {
	absBuildDir, err := filepath.Abs(buildDir)
	if err != nil {
		return fmt.Errorf("cannot get absolute path of build dir: %w", err)
	}
	if err := os.RemoveAll(absBuildDir); err != nil {
		return fmt.Errorf("cannot remove build dir '%s': %w", absBuildDir, err)
	}
	return nil
}

// All runs all the tests.
func (Test) All() {
	mg.SerialDeps(Test.Unit)
}

// Unit runs all the unit tests.
func (Test) Unit(ctx context.Context) error {
	args := []string{"test", "-race", "-count=1"}
	if mg.Verbose() {
		args = append(args, "-v")
	}
	return sh.RunV("go", append(args, "./...")...)
}

// All run all the code checks.
func (Check) All() {
	mg.SerialDeps(Check.License, Check.Vet, CheckNoChanges)
}

// License makes sure that all the Golang files have the appropriate license header.
func (Check) License() error {
	if err := sh.Run("go", "install", "github.com/elastic/go-licenser@latest"); err != nil {
		return err
	}
	return sh.RunV("go-licenser", "-d", "-license", "Elasticv2", "-exclude", "_examples")
}

// Vet runs go vet on every package.
func (Check) Vet() error {
	return sh.RunV("go", "vet", "./...")
}

// Changes checks the working tree holds no uncommitted change.
func (Check) Changes() error {
	out, err := sh.Output("git", "status", "--porcelain")
	if err != nil {
		return errors.New("cannot retrieve hash")
	}

	if len(out) != 0 {
		fmt.Fprintln(os.Stderr, "Changes:")
		fmt.Fprintln(os.Stderr, out)
		return fmt.Errorf("uncommitted changes")
	}
	return nil
}

// CheckNoChanges checks go mod tidy leaves the tree untouched.
func CheckNoChanges() error {
	fmt.Println(">> fmt - go run")
	err := sh.RunV("go", "mod", "tidy", "-v")
	if err != nil {
		return fmt.Errorf("failed running go mod tidy, please fix the issues reported: %w", err)
	}
	fmt.Println(">> fmt - git diff-index")
	err = sh.RunV("git", "diff-index", "--exit-code", "HEAD", "--")
	if err != nil {
		return fmt.Errorf("go mod tidy changed the module files: %w", err)
	}
	return nil
}

// Go formats the Go sources.
func (Format) Go() error {
	return sh.RunV("gofmt", "-s", "-w", ".")
}

func isSnapshot() bool {
	return strings.EqualFold(os.Getenv("SNAPSHOT"), "true")
}
