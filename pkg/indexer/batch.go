package indexer

import (
	"fmt"

	"github.com/xelpkg/registry/pkg/artifact"
	"github.com/xelpkg/registry/pkg/manifest"
	"github.com/xelpkg/registry/pkg/mirror"
	"github.com/xelpkg/registry/pkg/registry"
)

// buildBatch assembles the registry batch for a submission. Record i and
// tarball i must describe the same tag.
func buildBatch(sub Submission, repo *mirror.Repository, res *manifest.Result, tarballs []artifact.Tarball) (*registry.Batch, error) {
	if len(res.Records) != len(tarballs) {
		return nil, fmt.Errorf("%d manifests but %d tarballs", len(res.Records), len(tarballs))
	}

	b := &registry.Batch{
		Package: registry.Package{
			Name:             res.Name,
			Description:      res.Description,
			Author:           res.Author,
			RepoName:         repo.Name,
			SourceURL:        sub.RepositoryURL,
			MirrorURL:        repo.HTMLURL,
			Tags:             res.Tags,
			IsDeprecated:     res.Deprecated,
			DeprecatedReason: res.DeprecatedReason,
		},
		Versions: make([]registry.Version, 0, len(res.Records)),
		Tarballs: make([]registry.Tarball, 0, len(tarballs)),
	}

	for i, rec := range res.Records {
		tb := tarballs[i]
		if tb.Tag != rec.Tag {
			return nil, fmt.Errorf("tarball %d is for %s, manifest is for %s", i, tb.Tag, rec.Tag)
		}

		mode := registry.DistRelease
		if rec.Prerelease {
			mode = registry.DistPrerelease
		}
		deps := make([]registry.Dependency, len(rec.Dependencies))
		for j, d := range rec.Dependencies {
			deps[j] = registry.Dependency{Name: d.Name, Range: d.Range}
		}

		b.Versions = append(b.Versions, registry.Version{
			Version:      rec.Version,
			Major:        int64(rec.Major),
			Minor:        int64(rec.Minor),
			Patch:        int64(rec.Patch),
			License:      rec.License,
			DistMode:     mode,
			RuntimeRange: rec.RuntimeRange,
			EngineRange:  rec.EngineRange,
			Dependencies: deps,
		})
		b.Tarballs = append(b.Tarballs, registry.Tarball{
			URL:                tb.URL,
			SizeBytes:          tb.Size,
			IntegrityAlgorithm: tb.Algorithm,
			IntegrityHash:      tb.Hash,
		})
	}
	return b, nil
}
