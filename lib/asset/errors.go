// Copyright 2026 The Kiln Authors
// SPDX-License-Identifier: Apache-2.0

package asset

import (
	"fmt"
	"strings"
)

// InvalidSourceError reports a reconcile request naming a source the
// pipeline was never given a backend for.
type InvalidSourceError struct {
	Source string
}

func (e *InvalidSourceError) Error() string {
	return fmt.Sprintf("unknown source %q", e.Source)
}

// MissingExtensionError reports a source file with no extension,
// which leaves the importer nothing to dispatch on.
type MissingExtensionError struct {
	Path SourcePath
}

func (e *MissingExtensionError) Error() string {
	return fmt.Sprintf("%s: file has no extension", e.Path)
}

// InvalidExtensionError reports a source file whose extension is not
// bound to any registered importer.
type InvalidExtensionError struct {
	Path      SourcePath
	Extension string
}

func (e *InvalidExtensionError) Error() string {
	return fmt.Sprintf("%s: no importer registered for extension %q", e.Path, e.Extension)
}

// MissingMainAssetError reports an import that returned no primary
// asset value.
type MissingMainAssetError struct {
	Path SourcePath
}

func (e *MissingMainAssetError) Error() string {
	return fmt.Sprintf("%s: import produced no primary asset", e.Path)
}

// NoProcessorError reports an artifact that declared dependencies
// although its type registered no process step to consume them.
type NoProcessorError struct {
	ID   ID
	Type Type
}

func (e *NoProcessorError) Error() string {
	return fmt.Sprintf("%v: no processor registered for type %v", e.ID, e.Type)
}

// UnRegisteredError reports an asset whose type discriminator has no
// registry record, typically a cache written by a host that
// registered more types than the current one.
type UnRegisteredError struct {
	Type Type
	Path SourcePath
}

func (e *UnRegisteredError) Error() string {
	return fmt.Sprintf("%s: asset type %v is not registered", e.Path, e.Type)
}

// MissingPathError reports a path that a library or artifact record
// names but that no longer resolves.
type MissingPathError struct {
	Path SourcePath
}

func (e *MissingPathError) Error() string {
	return fmt.Sprintf("%s: path does not exist", e.Path)
}

// ImportError wraps a read, metadata, or callback failure during
// import of one source path.
type ImportError struct {
	Path SourcePath
	Err  error
}

func (e *ImportError) Error() string {
	return fmt.Sprintf("importing %s: %v", e.Path, e.Err)
}

func (e *ImportError) Unwrap() error {
	return e.Err
}

// ProcessError wraps a failure in the process step of one artifact.
type ProcessError struct {
	ID   ID
	Path SourcePath
	Err  error
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("processing %s: %v", e.Path, e.Err)
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}

// CyclicDependencyError reports a dependency cycle among the
// artifacts pending in one pipeline pass. The pass aborts; the cache
// stays consistent.
type CyclicDependencyError struct {
	IDs []ID
}

func (e *CyclicDependencyError) Error() string {
	ids := make([]string, len(e.IDs))
	for i, id := range e.IDs {
		ids[i] = id.String()
	}
	return fmt.Sprintf("dependency cycle among %d artifacts: %s", len(e.IDs), strings.Join(ids, ", "))
}
