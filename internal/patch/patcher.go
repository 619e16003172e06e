package patch

import (
	"crypto/md5"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// MetaRepairer persists a boot-time size/MD5 repair for one patch file. The
// concrete implementation (a SQLite-backed DAO) lives outside this package;
// Patcher depends only on this narrow contract.
type MetaRepairer interface {
	RepairPatch(name string, size int64, md5 [16]byte) error
}

// SurveyInfo is what the handshake layer needs to build the client-facing
// survey announcement; it carries no wire-format knowledge.
type SurveyInfo struct {
	Name string
	Size uint32
	MD5  [16]byte
}

type survey struct {
	id   uint32
	meta FileMeta
	data []byte
}

// Patcher resolves client versions against the patch set and the survey
// probe. It is read-only after LoadPatches completes at boot and is safe
// for concurrent use from every connection's strand thereafter.
type Patcher struct {
	mu sync.RWMutex

	allowed []GameVersion

	bins      map[Bucket][]*PatchMeta
	rollups   map[Bucket][]*PatchMeta
	incGraphs map[Bucket]*PatchGraph

	survey *survey
}

// NewPatcher partitions patches into buckets by (locale, arch, OS) and
// builds one incremental-only PatchGraph per bucket. Rollups are tracked
// separately per bucket rather than folded into the graph: they are a
// fallback path, never a hop an ordinary incremental walk should wander
// into, and keeping them out of the graph is what makes find_patch's
// "no incremental path, fall back to rollup" branch reachable at all.
func NewPatcher(allowed []GameVersion, patches []*PatchMeta) *Patcher {
	p := &Patcher{
		allowed:   append([]GameVersion(nil), allowed...),
		bins:      make(map[Bucket][]*PatchMeta),
		rollups:   make(map[Bucket][]*PatchMeta),
		incGraphs: make(map[Bucket]*PatchGraph),
	}

	incrementals := make(map[Bucket][]*PatchMeta)
	for _, pm := range patches {
		b := BucketKey(pm.Locale, pm.Arch, pm.OS)
		p.bins[b] = append(p.bins[b], pm)
		if pm.Rollup {
			p.rollups[b] = append(p.rollups[b], pm)
		} else {
			incrementals[b] = append(incrementals[b], pm)
		}
	}
	for b, edges := range incrementals {
		p.incGraphs[b] = NewPatchGraph(edges)
	}
	// Buckets that only ever saw rollups still need a graph (possibly
	// empty) so FindPatch's lookups don't have to special-case a nil map
	// entry.
	for b := range p.bins {
		if _, ok := p.incGraphs[b]; !ok {
			p.incGraphs[b] = NewPatchGraph(nil)
		}
	}
	return p
}

// LoadPatches opens every known patch file under dir, fills in any unset
// size/MD5, and persists the repair through repairer. A missing or
// unreadable patch file is fatal: the caller aborts startup.
func (p *Patcher) LoadPatches(dir string, repairer MetaRepairer) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, bucket := range p.bins {
		for _, pm := range bucket {
			if err := repairOne(dir, pm, repairer); err != nil {
				return err
			}
		}
	}
	return nil
}

func repairOne(dir string, pm *PatchMeta, repairer MetaRepairer) error {
	full := filepath.Join(dir, pm.File.Path)
	f, err := os.Open(full)
	if err != nil {
		return fmt.Errorf("patch: opening %s: %w", full, err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return fmt.Errorf("patch: stat %s: %w", full, err)
	}

	changed := false
	if pm.File.Size == 0 {
		pm.File.Size = stat.Size()
		changed = true
	}
	if !pm.File.HasMD5() {
		h := md5.New()
		if _, err := io.Copy(h, f); err != nil {
			return fmt.Errorf("patch: hashing %s: %w", full, err)
		}
		copy(pm.File.MD5[:], h.Sum(nil))
		changed = true
	}

	if changed && repairer != nil {
		if err := repairer.RepairPatch(pm.File.Name, pm.File.Size, pm.File.MD5); err != nil {
			return fmt.Errorf("patch: persisting repair for %s: %w", pm.File.Name, err)
		}
	}
	return nil
}

// CheckVersion reports whether v is exactly whitelisted, older than every
// whitelisted version, or newer than all of them. The whitelist match
// compares Build alone rather than GameVersion.Equal's full four fields:
// the wire's CMSG_AUTH_SESSION only ever transmits a client's build
// number, so Major/Minor/Patch are never known for a live connection and
// a full-struct comparison against them could never succeed.
func (p *Patcher) CheckVersion(v GameVersion) VersionStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, a := range p.allowed {
		if a.Build == v.Build {
			return VersionOK
		}
	}
	for _, a := range p.allowed {
		if v.Less(a) {
			return VersionTooOld
		}
	}
	return VersionTooNew
}

// FindPatch resolves the single next patch a client at client.Build should
// apply to move toward a whitelisted version, preferring an incremental
// edge and falling back to the smallest qualifying rollup when no
// incremental path exists yet.
func (p *Patcher) FindPatch(client GameVersion, locale, arch, os string) (*PatchMeta, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	bucket := BucketKey(locale, arch, os)
	if _, ok := p.bins[bucket]; !ok {
		return nil, false
	}
	igraph := p.incGraphs[bucket]
	build := client.Build

	for _, v := range p.allowed {
		if igraph.IsPath(build, v.Build) {
			path := igraph.Path(build, v.Build)
			if len(path) > 0 {
				return path[0], true
			}
		}
	}

	var chosen *PatchMeta
	for _, r := range p.rollups[bucket] {
		if r.BuildFrom > build {
			continue
		}
		qualifies := false
		for _, v := range p.allowed {
			if r.BuildTo > v.Build {
				continue
			}
			if r.BuildTo == v.Build || igraph.IsPath(r.BuildTo, v.Build) {
				qualifies = true
				break
			}
		}
		if !qualifies {
			continue
		}
		if chosen == nil || r.File.Size < chosen.File.Size {
			chosen = r
		}
	}
	if chosen == nil {
		return nil, false
	}
	return chosen, true
}

// SetSurvey loads the telemetry survey probe from disk and caches its
// bytes and MD5. It is a distinct code path from patch loading: surveys
// and patches share the file-meta-plus-blob shape but are never
// interchangeable, so they stay separate types all the way down.
func (p *Patcher) SetSurvey(path string, id uint32) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("patch: reading survey %s: %w", path, err)
	}
	sum := md5.Sum(data)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.survey = &survey{
		id: id,
		meta: FileMeta{
			Name: "Survey",
			Path: path,
			Size: int64(len(data)),
			MD5:  sum,
		},
		data: data,
	}
	return nil
}

// SurveyMeta returns the announcement the client compares against its
// local probe before running the survey.
func (p *Patcher) SurveyMeta() (SurveyInfo, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.survey == nil {
		return SurveyInfo{}, false
	}
	return SurveyInfo{
		Name: p.survey.meta.Name,
		Size: uint32(p.survey.meta.Size),
		MD5:  p.survey.meta.MD5,
	}, true
}

// SurveyPlatform gates survey delivery to the one platform combination the
// telemetry probe is built for.
func SurveyPlatform(arch, os string) bool {
	return arch == "x86" && os == "Win"
}

// BucketSummary is a read-only snapshot of one (locale, arch, OS) bucket's
// patch graph, for the operator CLI and admin API to report on.
type BucketSummary struct {
	Locale  string
	Arch    string
	OS      string
	Edges   int
	Rollups int
}

// BucketSummaries returns one summary per known bucket, in no particular
// order.
func (p *Patcher) BucketSummaries() []BucketSummary {
	p.mu.RLock()
	defer p.mu.RUnlock()

	summaries := make([]BucketSummary, 0, len(p.bins))
	for b, metas := range p.bins {
		if len(metas) == 0 {
			continue
		}
		s := BucketSummary{Locale: metas[0].Locale, Arch: metas[0].Arch, OS: metas[0].OS}
		s.Rollups = len(p.rollups[b])
		s.Edges = len(metas) - s.Rollups
		summaries = append(summaries, s)
	}
	return summaries
}
