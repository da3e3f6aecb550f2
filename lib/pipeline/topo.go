// Copyright 2026 The Kiln Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"sort"

	"github.com/kilnworks/kiln/lib/asset"
)

// topoGroups orders staged artifacts into groups safe to process in
// parallel. Each round peels the artifacts whose dependencies all
// lie outside the pending set; dependencies on ids not staged this
// round count as already resolved. A round that peels nothing with
// artifacts left means the pending artifacts form a cycle.
func topoGroups(staged []*asset.Artifact) ([][]*asset.Artifact, error) {
	remaining := make(map[asset.ID]*asset.Artifact, len(staged))
	for _, artifact := range staged {
		remaining[artifact.Meta.ID] = artifact
	}

	var groups [][]*asset.Artifact
	for len(remaining) > 0 {
		var group []*asset.Artifact
		for _, artifact := range remaining {
			ready := true
			for _, dep := range artifact.Meta.Dependencies {
				if _, pending := remaining[dep]; pending {
					ready = false
					break
				}
			}
			if ready {
				group = append(group, artifact)
			}
		}

		if len(group) == 0 {
			ids := make([]asset.ID, 0, len(remaining))
			for id := range remaining {
				ids = append(ids, id)
			}
			sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
			return nil, &asset.CyclicDependencyError{IDs: ids}
		}

		// Map iteration order is random; sort so group membership is
		// stable run to run.
		sort.Slice(group, func(i, j int) bool {
			return group[i].Meta.ID.String() < group[j].Meta.ID.String()
		})
		for _, artifact := range group {
			delete(remaining, artifact.Meta.ID)
		}
		groups = append(groups, group)
	}
	return groups, nil
}
