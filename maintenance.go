package thumb

import (
	"context"
	"encoding/hex"
	"fmt"
	"math"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/zeebo/blake3"
	"github.com/zoobzio/capitan"
)

// thumbnailName matches the basename of every derived asset.
var thumbnailName = regexp.MustCompile(`(?i)^.*_\d+_\d+(_\w+)?\.(jpg|jpeg|png|webp|gif)$`)

// largestDirectories is how many directories a Distribution ranks.
const largestDirectories = 10

// IsThumbnailFile reports whether key names a derived asset.
func IsThumbnailFile(key string) bool {
	return thumbnailName.MatchString(path.Base(key))
}

// Maintainer runs purge, cleanup, and reporting over derived assets.
type Maintainer struct {
	presets Presets
	disks   *Disks
	lookup  *Lookup
	log     zerolog.Logger
	metrics *Metrics

	// CleanEmptyDirs removes empty shard directories after a purge.
	CleanEmptyDirs bool
}

// NewMaintainer creates a Maintainer. lookup may be nil.
func NewMaintainer(presets Presets, disks *Disks, lookup *Lookup, log zerolog.Logger, metrics *Metrics) *Maintainer {
	return &Maintainer{
		presets:        presets,
		disks:          disks,
		lookup:         lookup,
		log:            log,
		metrics:        metrics,
		CleanEmptyDirs: true,
	}
}

// destination is one (disk, base path) a preset writes to.
type destination struct {
	disk     string
	base     string
	strategy ShardStrategy
}

// destinations returns the distinct destinations of a preset and its variants.
func (m *Maintainer) destinations(name string) ([]destination, error) {
	p, err := m.presets.Lookup(name)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var out []destination
	for _, variant := range append([]string{""}, p.VariantNames()...) {
		cfg, err := p.Effective(variant)
		if err != nil {
			return nil, err
		}
		k := cfg.Disk + ":" + cfg.BasePath
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, destination{disk: cfg.Disk, base: cfg.BasePath, strategy: cfg.Sharding})
	}
	return out, nil
}

// thumbnails lists the derived assets under a destination. A destination
// without a base path shares its tree with the originals and is refused.
func (m *Maintainer) thumbnails(ctx context.Context, d destination) (DiskProvider, []ObjectInfo, error) {
	if d.base == "" {
		return nil, nil, fmt.Errorf("%w: destination on disk %q has no base path", ErrInvalidKey, d.disk)
	}
	disk, err := m.disks.Get(d.disk)
	if err != nil {
		return nil, nil, err
	}
	files, err := disk.List(ctx, d.base, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("list %s:%s: %w", d.disk, d.base, err)
	}
	out := files[:0]
	for _, f := range files {
		if IsThumbnailFile(f.Key) {
			out = append(out, f)
		}
	}
	return disk, out, nil
}

// Purge deletes every derived asset of preset, removes emptied shard
// directories, flushes the preset's cache entries, and returns the number
// of files deleted.
func (m *Maintainer) Purge(ctx context.Context, preset string) (int, error) {
	dests, err := m.destinations(preset)
	if err != nil {
		return 0, err
	}
	purged := 0
	for _, d := range dests {
		disk, files, err := m.thumbnails(ctx, d)
		if err != nil {
			return purged, fmt.Errorf("purge %s: %w", preset, err)
		}
		for _, f := range files {
			if err := disk.Delete(ctx, f.Key); err != nil {
				if isNotFound(err) {
					continue
				}
				return purged, fmt.Errorf("purge %s: delete %s: %w", preset, f.Key, err)
			}
			purged++
		}
		if m.CleanEmptyDirs {
			m.cleanDestination(ctx, d)
		}
	}
	if m.lookup != nil {
		m.lookup.Flush(ctx, preset)
	}
	m.metrics.purge(preset, purged)
	capitan.Emit(ctx, PurgeCompleted, FieldPreset.Field(preset), FieldCount.Field(purged))
	m.log.Info().Str("preset", preset).Int("purged", purged).Msg("purged thumbnails")
	return purged, nil
}

// PurgeAll purges every preset and flushes the whole cache namespace.
// Per-preset failures are logged and skipped.
func (m *Maintainer) PurgeAll(ctx context.Context) int {
	total := 0
	for _, name := range m.presets.Names() {
		n, err := m.Purge(ctx, name)
		total += n
		if err != nil {
			m.log.Warn().Err(err).Str("preset", name).Msg("could not purge preset")
		}
	}
	if m.lookup != nil {
		m.lookup.Flush(ctx, "")
	}
	return total
}

// CleanEmptyDirectories removes empty directories below the preset's base
// paths, deepest first, and returns how many were removed. The base paths
// themselves are kept. Presets without sharding are skipped.
func (m *Maintainer) CleanEmptyDirectories(ctx context.Context, preset string) (int, error) {
	dests, err := m.destinations(preset)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, d := range dests {
		removed += m.cleanDestination(ctx, d)
	}
	return removed, nil
}

func (m *Maintainer) cleanDestination(ctx context.Context, d destination) int {
	if d.strategy == ShardNone || d.base == "" {
		return 0
	}
	disk, err := m.disks.Get(d.disk)
	if err != nil {
		return 0
	}
	dp, ok := disk.(DirectoryProvider)
	if !ok {
		return 0
	}
	children, err := dp.Directories(ctx, strings.TrimSuffix(d.base, "/"))
	if err != nil {
		m.log.Warn().Err(err).Str("disk", d.disk).Str("path", d.base).Msg("could not clean empty directories")
		return 0
	}
	removed := 0
	for _, child := range children {
		removed += m.cleanRecursive(ctx, disk, dp, child)
	}
	return removed
}

func (m *Maintainer) cleanRecursive(ctx context.Context, disk DiskProvider, dp DirectoryProvider, dir string) int {
	removed := 0
	subdirs, err := dp.Directories(ctx, dir)
	if err != nil {
		return 0
	}
	for _, sub := range subdirs {
		removed += m.cleanRecursive(ctx, disk, dp, sub)
	}
	remaining, err := dp.Directories(ctx, dir)
	if err != nil || len(remaining) > 0 {
		return removed
	}
	files, err := disk.List(ctx, dir+"/", 1)
	if err != nil || len(files) > 0 {
		return removed
	}
	if err := dp.DeleteDirectory(ctx, dir); err != nil {
		m.log.Debug().Err(err).Str("dir", dir).Msg("could not delete directory")
		return removed
	}
	return removed + 1
}

// FindDuplicates returns derived assets whose content repeats an earlier
// file in listing order. The first file of each content hash is kept.
func (m *Maintainer) FindDuplicates(ctx context.Context, preset string) ([]ObjectInfo, error) {
	dests, err := m.destinations(preset)
	if err != nil {
		return nil, err
	}
	var dups []ObjectInfo
	seen := make(map[string]string)
	for _, d := range dests {
		disk, files, err := m.thumbnails(ctx, d)
		if err != nil {
			return dups, err
		}
		for _, f := range files {
			data, _, err := disk.Get(ctx, f.Key)
			if err != nil {
				continue
			}
			sum := blake3.Sum256(data)
			h := hex.EncodeToString(sum[:])
			if _, ok := seen[h]; ok {
				if f.Size == 0 {
					f.Size = int64(len(data))
				}
				dups = append(dups, f)
				continue
			}
			seen[h] = f.Key
		}
	}
	return dups, nil
}

// OptimizeResult summarizes Optimize.
type OptimizeResult struct {
	DuplicatesRemoved int   `json:"duplicates_removed"`
	EmptyDirsRemoved  int   `json:"empty_dirs_removed"`
	BytesFreed        int64 `json:"space_freed"`
}

// Optimize deletes duplicate assets and empty directories across every
// preset. Per-preset failures are logged and skipped.
func (m *Maintainer) Optimize(ctx context.Context) OptimizeResult {
	var res OptimizeResult
	for _, name := range m.presets.Names() {
		dups, err := m.FindDuplicates(ctx, name)
		if err != nil {
			m.log.Warn().Err(err).Str("preset", name).Msg("could not optimize preset")
			continue
		}
		cfg, err := m.presets.Effective(name, "")
		if err != nil {
			continue
		}
		for _, dup := range dups {
			disk, err := m.diskFor(name, dup.Key, cfg.Disk)
			if err != nil {
				continue
			}
			if err := disk.Delete(ctx, dup.Key); err != nil {
				continue
			}
			res.DuplicatesRemoved++
			res.BytesFreed += dup.Size
		}
		if m.CleanEmptyDirs {
			n, _ := m.CleanEmptyDirectories(ctx, name)
			res.EmptyDirsRemoved += n
		}
	}
	return res
}

// diskFor finds the disk of the preset destination that holds key.
func (m *Maintainer) diskFor(preset, key, fallback string) (DiskProvider, error) {
	dests, err := m.destinations(preset)
	if err == nil {
		for _, d := range dests {
			if strings.HasPrefix(key, d.base) {
				return m.disks.Get(d.disk)
			}
		}
	}
	return m.disks.Get(fallback)
}

// Usage is a file count and byte total.
type Usage struct {
	Files int   `json:"count"`
	Bytes int64 `json:"size"`
}

// DirectoryUsage is the usage of one directory.
type DirectoryUsage struct {
	Directory string `json:"directory"`
	Usage
}

// Distribution describes how a preset's assets spread across directories.
type Distribution struct {
	Preset              string           `json:"preset"`
	TotalFiles          int              `json:"total_files"`
	TotalBytes          int64            `json:"total_size"`
	Directories         int              `json:"directories_count"`
	AveragePerDirectory float64          `json:"average_per_directory"`
	ByDirectory         map[string]Usage `json:"distribution_by_directory"`
	ByFormat            map[string]Usage `json:"distribution_by_format"`
	Largest             []DirectoryUsage `json:"largest_directories"`
	Strategy            ShardStrategy    `json:"strategy"`
}

// AnalyzeDistribution reports file counts and sizes per directory and per
// format for preset.
func (m *Maintainer) AnalyzeDistribution(ctx context.Context, preset string) (Distribution, error) {
	cfg, err := m.presets.Effective(preset, "")
	if err != nil {
		return Distribution{}, err
	}
	dests, err := m.destinations(preset)
	if err != nil {
		return Distribution{}, err
	}
	dist := Distribution{
		Preset:      preset,
		ByDirectory: make(map[string]Usage),
		ByFormat:    make(map[string]Usage),
		Strategy:    cfg.Sharding,
	}
	for _, d := range dests {
		_, files, err := m.thumbnails(ctx, d)
		if err != nil {
			return Distribution{}, fmt.Errorf("analyze %s: %w", preset, err)
		}
		for _, f := range files {
			dir := path.Dir(f.Key)
			ext := strings.ToLower(strings.TrimPrefix(path.Ext(f.Key), "."))
			du := dist.ByDirectory[dir]
			du.Files++
			du.Bytes += f.Size
			dist.ByDirectory[dir] = du
			fu := dist.ByFormat[ext]
			fu.Files++
			fu.Bytes += f.Size
			dist.ByFormat[ext] = fu
			dist.TotalFiles++
			dist.TotalBytes += f.Size
		}
	}
	dist.Directories = len(dist.ByDirectory)
	if dist.Directories > 0 {
		dist.AveragePerDirectory = math.Round(float64(dist.TotalFiles)/float64(dist.Directories)*100) / 100
	}
	dist.Largest = largest(dist.ByDirectory, largestDirectories)
	return dist, nil
}

func largest(byDir map[string]Usage, limit int) []DirectoryUsage {
	out := make([]DirectoryUsage, 0, len(byDir))
	for dir, u := range byDir {
		out = append(out, DirectoryUsage{Directory: dir, Usage: u})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Files != out[j].Files {
			return out[i].Files > out[j].Files
		}
		return out[i].Directory < out[j].Directory
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// DiskUsage totals the assets on one disk.
type DiskUsage struct {
	Usage
	Presets []string `json:"presets"`
}

// Stats aggregates every preset's distribution.
type Stats struct {
	Presets    map[string]Distribution `json:"presets"`
	TotalFiles int                     `json:"total_files"`
	TotalBytes int64                   `json:"total_size"`
	Disks      map[string]DiskUsage    `json:"disk_usage"`
}

// SystemStats analyzes every preset. Presets that fail are logged and skipped.
func (m *Maintainer) SystemStats(ctx context.Context) Stats {
	stats := Stats{
		Presets: make(map[string]Distribution),
		Disks:   make(map[string]DiskUsage),
	}
	for _, name := range m.presets.Names() {
		dist, err := m.AnalyzeDistribution(ctx, name)
		if err != nil {
			m.log.Warn().Err(err).Str("preset", name).Msg("could not get stats for preset")
			continue
		}
		stats.Presets[name] = dist
		stats.TotalFiles += dist.TotalFiles
		stats.TotalBytes += dist.TotalBytes

		disk := m.presets[name].Disk
		du := stats.Disks[disk]
		du.Files += dist.TotalFiles
		du.Bytes += dist.TotalBytes
		du.Presets = append(du.Presets, name)
		stats.Disks[disk] = du
	}
	return stats
}

// ShardPreview returns the subdirectory each strategy would give filename.
func ShardPreview(filename string, now func() time.Time) map[ShardStrategy]string {
	if now == nil {
		now = time.Now
	}
	t := now()
	name := Sanitize(filename)
	out := make(map[ShardStrategy]string, len(ShardStrategies))
	for _, s := range ShardStrategies {
		out[s] = s.Shard(name, t)
	}
	return out
}
