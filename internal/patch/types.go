// Package patch resolves a connecting client's version against the set of
// binary patches the gateway can deliver: whether the client is current,
// which incremental patch gets it one hop closer, or whether it needs a
// rollup because no incremental path reaches it yet.
package patch

import "hash/fnv"

// GameVersion identifies a client build. It is totally ordered by Build;
// equality compares all four fields since two different (major, minor,
// patch) triples can in principle share a build number during a release
// transition.
type GameVersion struct {
	Major uint32
	Minor uint32
	Patch uint32
	Build uint32
}

// Less orders two versions by Build alone.
func (v GameVersion) Less(other GameVersion) bool {
	return v.Build < other.Build
}

// Equal compares all four fields.
func (v GameVersion) Equal(other GameVersion) bool {
	return v == other
}

// FileMeta describes a blob on disk backing a patch or a survey probe.
type FileMeta struct {
	Name string
	Path string
	Size int64
	MD5  [16]byte
}

// HasMD5 reports whether MD5 has been computed (the zero value means
// "unset", matching the boot-time repair check).
func (f FileMeta) HasMD5() bool {
	return f.MD5 != [16]byte{}
}

// PatchMeta describes one edge in a bucket's patch graph: a binary that
// carries a client from BuildFrom to BuildTo. It is immutable after the
// boot-time load/repair pass populates File.Size and File.MD5.
type PatchMeta struct {
	File      FileMeta
	BuildFrom uint32
	BuildTo   uint32
	Locale    string
	Arch      string
	OS        string
	Rollup    bool
	// SurveyID is non-zero when this patch carries an associated
	// telemetry survey probe the client should run after applying it.
	SurveyID uint32
}

// Bucket partitions patches by the (locale, architecture, OS) triple a
// client reports at handshake time; each bucket owns its own PatchGraph.
type Bucket uint64

// BucketKey hashes locale||arch||os with FNV-1a, matching the boot-time
// partitioning the reference patcher uses to keep buckets independent.
func BucketKey(locale, arch, os string) Bucket {
	h := fnv.New64a()
	h.Write([]byte(locale))
	h.Write([]byte(arch))
	h.Write([]byte(os))
	return Bucket(h.Sum64())
}

// VersionStatus is the result of comparing a client version against the
// allowed-version whitelist.
type VersionStatus int

const (
	VersionOK VersionStatus = iota
	VersionTooOld
	VersionTooNew
)

func (s VersionStatus) String() string {
	switch s {
	case VersionOK:
		return "OK"
	case VersionTooOld:
		return "TOO_OLD"
	case VersionTooNew:
		return "TOO_NEW"
	default:
		return "UNKNOWN"
	}
}
