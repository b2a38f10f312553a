// Package registry persists indexed packages, their versions and their
// tarballs. Records are only ever written as one atomic batch per
// submission; see Store.Commit.
package registry

import (
	"time"

	"gorm.io/gorm"
)

// Sequence kinds. Each kind has its own counter row and every entity also
// draws from the global counter.
const (
	KindGlobal   = "global"
	KindPackages = "packages"
	KindVersions = "versions"
	KindTarballs = "tarballs"
)

// MaxDescriptionLength bounds Package.Description.
const MaxDescriptionLength = 255

// DistMode tells release versions from pre-releases.
type DistMode string

const (
	DistRelease    DistMode = "release"
	DistPrerelease DistMode = "pre-release"
)

// Package is the GORM model for an indexed package. Name is the natural key.
type Package struct {
	ID               int64     `gorm:"primaryKey;autoIncrement:false;column:id"`
	GID              int64     `gorm:"column:gid;uniqueIndex:idx_package_gid;not null"`
	Name             string    `gorm:"column:name;uniqueIndex:idx_package_name;size:214;not null"`
	LatestVersionID  *int64    `gorm:"column:latest_version_id"`
	Description      string    `gorm:"column:description;size:255"`
	Author           string    `gorm:"column:author;not null"`
	RepoName         string    `gorm:"column:repo_name"`
	SourceURL        string    `gorm:"column:url;not null"`
	MirrorURL        string    `gorm:"column:mirror;not null"`
	Tags             []string  `gorm:"column:tags;serializer:json"`
	Downloads        int64     `gorm:"column:downloads;default:0"`
	IsDeprecated     bool      `gorm:"column:is_deprecated;default:false"`
	DeprecatedReason string    `gorm:"column:deprecated_reason"`
	CreatedAt        time.Time `gorm:"column:created_at"`
	UpdatedAt        time.Time `gorm:"column:updated_at"`
}

// TableName returns the GORM table name.
func (Package) TableName() string { return "packages" }

// BeforeCreate assigns the package and global sequence ids.
func (p *Package) BeforeCreate(tx *gorm.DB) error {
	var err error
	p.ID, p.GID, err = assignIDs(tx, KindPackages, p.ID, p.GID)
	return err
}

// Dependency is a declared dependency range stored with a version.
type Dependency struct {
	Name  string `json:"name"`
	Range string `json:"range"`
}

// Version is the GORM model for one indexed version of a package.
type Version struct {
	ID           int64        `gorm:"primaryKey;autoIncrement:false;column:id"`
	GID          int64        `gorm:"column:gid;uniqueIndex:idx_version_gid;not null"`
	PackageID    int64        `gorm:"column:package_id;index:idx_version_pkg_semver,priority:1;not null"`
	Version      string       `gorm:"column:version;not null"`
	Major        int64        `gorm:"column:semver_major;index:idx_version_pkg_semver,priority:2;not null"`
	Minor        int64        `gorm:"column:semver_minor;index:idx_version_pkg_semver,priority:3;not null"`
	Patch        int64        `gorm:"column:semver_patch;index:idx_version_pkg_semver,priority:4;not null"`
	Downloads    int64        `gorm:"column:downloads;default:0"`
	License      string       `gorm:"column:license;not null"`
	DistMode     DistMode     `gorm:"column:dist_mode;not null"`
	TarballID    *int64       `gorm:"column:tarball_id"`
	RuntimeRange string       `gorm:"column:xel;not null"`
	EngineRange  string       `gorm:"column:engine;not null"`
	Dependencies []Dependency `gorm:"column:dependencies;serializer:json"`
	CreatedAt    time.Time    `gorm:"column:created_at"`
	UpdatedAt    time.Time    `gorm:"column:updated_at"`
}

// TableName returns the GORM table name.
func (Version) TableName() string { return "versions" }

// BeforeCreate assigns the version and global sequence ids.
func (v *Version) BeforeCreate(tx *gorm.DB) error {
	var err error
	v.ID, v.GID, err = assignIDs(tx, KindVersions, v.ID, v.GID)
	return err
}

// Tarball is the GORM model for the immutable artifact of one version.
type Tarball struct {
	ID                 int64     `gorm:"primaryKey;autoIncrement:false;column:id"`
	GID                int64     `gorm:"column:gid;uniqueIndex:idx_tarball_gid;not null"`
	PackageID          int64     `gorm:"column:package_id;index:idx_tarball_pkg;not null"`
	VersionID          int64     `gorm:"column:version_id;uniqueIndex:idx_tarball_version;not null"`
	URL                string    `gorm:"column:url;not null"`
	SizeBytes          int64     `gorm:"column:size_bytes;not null"`
	IntegrityAlgorithm string    `gorm:"column:integrity_algorithm;not null"`
	IntegrityHash      string    `gorm:"column:integrity_hash;not null"`
	Downloads          int64     `gorm:"column:downloads;default:0"`
	CreatedAt          time.Time `gorm:"column:created_at"`
}

// TableName returns the GORM table name.
func (Tarball) TableName() string { return "tarballs" }

// BeforeCreate assigns the tarball and global sequence ids.
func (t *Tarball) BeforeCreate(tx *gorm.DB) error {
	var err error
	t.ID, t.GID, err = assignIDs(tx, KindTarballs, t.ID, t.GID)
	return err
}
