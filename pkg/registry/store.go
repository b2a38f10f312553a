package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/xelpkg/registry/pkg/semver"
)

var (
	// ErrNameConflict is returned by Commit when the package name is already
	// owned by a different source repository.
	ErrNameConflict = errors.New("package already exists with a different source URL")

	// ErrMisalignedBatch is returned when a batch does not carry exactly one
	// tarball per version.
	ErrMisalignedBatch = errors.New("batch must contain exactly one tarball per version")

	// ErrEmptyBatch is returned when a batch carries no versions.
	ErrEmptyBatch = errors.New("batch contains no versions")
)

// Batch is everything one submission writes: a package, its versions in
// ascending order, and one tarball per version at the same position.
type Batch struct {
	Package  Package
	Versions []Version
	Tarballs []Tarball
}

// Store provides database operations for packages, versions and tarballs.
type Store struct {
	db *gorm.DB
}

// NewStore creates a new Store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates or updates the registry tables.
func (s *Store) AutoMigrate() error {
	for _, model := range []any{&Counter{}, &Package{}, &Version{}, &Tarball{}} {
		if err := s.db.AutoMigrate(model); err != nil {
			return fmt.Errorf("auto-migrate %T: %w", model, err)
		}
	}
	return nil
}

// FindPackageByName returns the package with the given name, or nil, nil
// if there is none.
func (s *Store) FindPackageByName(ctx context.Context, name string) (*Package, error) {
	return findPackageByName(s.db.WithContext(ctx), name)
}

func findPackageByName(db *gorm.DB, name string) (*Package, error) {
	var pkg Package
	err := db.Where("name = ?", strings.ToLower(name)).First(&pkg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("find package %q: %w", name, err)
	}
	return &pkg, nil
}

// GetPackage returns the package with the given sequence id, or nil, nil.
func (s *Store) GetPackage(ctx context.Context, id int64) (*Package, error) {
	var pkg Package
	err := s.db.WithContext(ctx).First(&pkg, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get package %d: %w", id, err)
	}
	return &pkg, nil
}

// VersionsOf returns a package's versions in insertion order.
func (s *Store) VersionsOf(ctx context.Context, packageID int64) ([]Version, error) {
	var versions []Version
	if err := s.db.WithContext(ctx).Where("package_id = ?", packageID).Order("id ASC").Find(&versions).Error; err != nil {
		return nil, fmt.Errorf("list versions of %d: %w", packageID, err)
	}
	return versions, nil
}

// TarballsOf returns a package's tarballs in insertion order.
func (s *Store) TarballsOf(ctx context.Context, packageID int64) ([]Tarball, error) {
	var tarballs []Tarball
	if err := s.db.WithContext(ctx).Where("package_id = ?", packageID).Order("id ASC").Find(&tarballs).Error; err != nil {
		return nil, fmt.Errorf("list tarballs of %d: %w", packageID, err)
	}
	return tarballs, nil
}

// Commit writes a batch in one transaction. A package already registered
// under the same name is superseded (deleted with its versions and
// tarballs) when it came from the same source URL; otherwise the commit
// fails with ErrNameConflict. The package's latest version is set to the
// inserted version with the highest precedence. Any failure rolls back the
// whole batch, including the supersession.
func (s *Store) Commit(ctx context.Context, b *Batch) (*Package, error) {
	if len(b.Versions) == 0 {
		return nil, ErrEmptyBatch
	}
	if len(b.Versions) != len(b.Tarballs) {
		return nil, fmt.Errorf("%w: %d versions, %d tarballs", ErrMisalignedBatch, len(b.Versions), len(b.Tarballs))
	}

	pkg := b.Package
	pkg.Name = strings.ToLower(strings.TrimSpace(pkg.Name))
	pkg.Description = truncate(pkg.Description, MaxDescriptionLength)
	pkg.LatestVersionID = nil

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := findPackageByName(tx, pkg.Name)
		if err != nil {
			return err
		}
		if existing != nil {
			if existing.SourceURL != pkg.SourceURL {
				return fmt.Errorf("%w: %q is registered from %s", ErrNameConflict, pkg.Name, existing.SourceURL)
			}
			if err := DeletePackageAndChildren(tx, existing.ID); err != nil {
				return err
			}
		}

		if err := tx.Create(&pkg).Error; err != nil {
			return fmt.Errorf("create package: %w", err)
		}

		for i := range b.Versions {
			v := &b.Versions[i]
			v.ID, v.GID = 0, 0
			v.PackageID = pkg.ID
			if err := tx.Create(v).Error; err != nil {
				return fmt.Errorf("create version %s: %w", v.Version, err)
			}

			t := &b.Tarballs[i]
			t.ID, t.GID = 0, 0
			t.PackageID = pkg.ID
			t.VersionID = v.ID
			if err := tx.Create(t).Error; err != nil {
				return fmt.Errorf("create tarball for %s: %w", v.Version, err)
			}

			v.TarballID = &t.ID
			if err := tx.Model(&Version{}).Where("id = ?", v.ID).Update("tarball_id", t.ID).Error; err != nil {
				return fmt.Errorf("link tarball for %s: %w", v.Version, err)
			}
		}

		latest, err := refreshLatest(tx, pkg.ID)
		if err != nil {
			return err
		}
		pkg.LatestVersionID = latest
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &pkg, nil
}

// DeletePackageAndChildren removes a package with all of its versions and
// tarballs using tx.
func DeletePackageAndChildren(tx *gorm.DB, packageID int64) error {
	if err := tx.Where("package_id = ?", packageID).Delete(&Tarball{}).Error; err != nil {
		return fmt.Errorf("delete tarballs of %d: %w", packageID, err)
	}
	if err := tx.Where("package_id = ?", packageID).Delete(&Version{}).Error; err != nil {
		return fmt.Errorf("delete versions of %d: %w", packageID, err)
	}
	if err := tx.Where("id = ?", packageID).Delete(&Package{}).Error; err != nil {
		return fmt.Errorf("delete package %d: %w", packageID, err)
	}
	return nil
}

// DeleteVersion removes a version and its tarball and repoints the owning
// package's latest version, clearing it when no versions remain.
func (s *Store) DeleteVersion(ctx context.Context, versionID int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var v Version
		if err := tx.First(&v, "id = ?", versionID).Error; err != nil {
			return fmt.Errorf("load version %d: %w", versionID, err)
		}
		if err := tx.Where("version_id = ?", versionID).Delete(&Tarball{}).Error; err != nil {
			return fmt.Errorf("delete tarball of version %d: %w", versionID, err)
		}
		if err := tx.Where("id = ?", versionID).Delete(&Version{}).Error; err != nil {
			return fmt.Errorf("delete version %d: %w", versionID, err)
		}
		_, err := refreshLatest(tx, v.PackageID)
		return err
	})
}

// refreshLatest points the package at its highest-precedence version, or
// clears the pointer when it has none.
func refreshLatest(tx *gorm.DB, packageID int64) (*int64, error) {
	var versions []Version
	if err := tx.Select("id", "version").Where("package_id = ?", packageID).Find(&versions).Error; err != nil {
		return nil, fmt.Errorf("load versions of %d: %w", packageID, err)
	}

	var latest *int64
	var latestVersion string
	for i := range versions {
		if latest == nil || semver.Newer(versions[i].Version, latestVersion) {
			latest = &versions[i].ID
			latestVersion = versions[i].Version
		}
	}

	if err := tx.Model(&Package{}).Where("id = ?", packageID).Update("latest_version_id", latest).Error; err != nil {
		return nil, fmt.Errorf("update latest version of %d: %w", packageID, err)
	}
	return latest, nil
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
