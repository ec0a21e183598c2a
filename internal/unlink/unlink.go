// Package unlink drives the top-level data flow of the ROM unlinker: load
// the ROM and its annotations, recover vector/trap/island/reference
// structure, compute module ranges, resolve references per module, and
// emit relocatable objects (§2, §4.10).
package unlink

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/retroenv/m68kunlink/internal/island"
	"github.com/retroenv/m68kunlink/internal/label"
	"github.com/retroenv/m68kunlink/internal/manual"
	"github.com/retroenv/m68kunlink/internal/modrange"
	"github.com/retroenv/m68kunlink/internal/objfile"
	"github.com/retroenv/m68kunlink/internal/refscan"
	"github.com/retroenv/m68kunlink/internal/resolve"
	"github.com/retroenv/m68kunlink/internal/rombuf"
	"github.com/retroenv/m68kunlink/internal/traptable"
	"github.com/retroenv/m68kunlink/internal/vectortable"
	"github.com/retroenv/retrogolib/log"
)

// TrimHeaderOffset is the ROM header location of the trimmed length (§6).
const TrimHeaderOffset = 0x1A

// InvalidIslandGuessOffsetError is a fatal structural error: ISLANDGUESS
// must appear only at offset 0 of the annotation file.
type InvalidIslandGuessOffsetError struct {
	Offset uint32
}

func (e *InvalidIslandGuessOffsetError) Error() string {
	return fmt.Sprintf("ISLANDGUESS directive at offset 0x%X, must appear only at offset 0", e.Offset)
}

// FileRange is one FILE/ENDF-delimited output unit (§3).
type FileRange struct {
	Start, Stop int
	RelPath     string
	Flags       []string
}

// WriteOut reports whether this file range should be written to disk.
func (f FileRange) WriteOut() bool {
	for _, flag := range f.Flags {
		if flag == "WRITEOUT" {
			return true
		}
	}
	return false
}

// NoForce reports whether the "forced" module flag should be suppressed.
func (f FileRange) NoForce() bool {
	for _, flag := range f.Flags {
		if flag == "NOFORCE" {
			return true
		}
	}
	return false
}

// Options configures one unlinker run.
type Options struct {
	ROMPath     string
	SourcePath  string // empty in the one-argument CLI form
	OutputDir   string // defaults to filepath.Dir(ROMPath)
	DumpVectors bool
	DumpTraps   bool
	DryRun      bool // forces every FILE range to be treated as if WRITEOUT were absent
}

// Summary reports what a run produced, for CLI logging and --dump flags.
type Summary struct {
	Trim          int
	VectorRecords []vectortable.Record
	TrapRecords   []traptable.Record
	Islands       []island.Island
	ModuleRanges  []modrange.Range
	FilesWritten  []string
	Unresolved    int
}

// Run executes the full unlink pipeline against opts, writing WRITEOUT
// file ranges to opts.OutputDir (or the ROM's own directory).
func Run(logger *log.Logger, opts Options) (*Summary, error) {
	romBytes, err := os.ReadFile(opts.ROMPath)
	if err != nil {
		return nil, fmt.Errorf("reading ROM file: %w", err)
	}
	buf := rombuf.New(romBytes)

	trim32, err := buf.U32be(TrimHeaderOffset)
	if err != nil {
		return nil, fmt.Errorf("reading trim length: %w", err)
	}
	trim := int(trim32)
	if trim > buf.Len() {
		trim = buf.Len()
	}

	manualPath := opts.ROMPath + "-info.txt"
	manualMap, err := manual.Load(manualPath)
	if err != nil {
		return nil, fmt.Errorf("loading annotation file: %w", err)
	}

	fileRanges, err := buildFileRanges(manualMap)
	if err != nil {
		return nil, err
	}

	vecRecords, err := vectortable.Extract(buf)
	if err != nil {
		return nil, err
	}
	vectorsByKey := vectortable.ByKey(vecRecords)
	glues := vectortable.ExtractGlue(buf, trim, vectorsByKey)
	glueImpl := glueImplementationMap(glues, vectorsByKey)
	logger.Info("recovered vector tables", log.Int("records", len(vecRecords)), log.Int("glues", len(glues)))

	trapRecords, err := traptable.Extract(buf)
	if err != nil {
		return nil, err
	}
	logger.Info("recovered trap table", log.Int("records", len(trapRecords)))

	vectorSourceLabels := map[[2]uint16]string{}
	trapSourceLabels := map[uint16]string{}
	if opts.SourcePath != "" {
		vectorSourceLabels = loadVectorLabels(opts.SourcePath)
		trapSourceLabels = loadTrapLabels(opts.SourcePath)
	}

	islands := island.Detect(buf, trim)
	islands = island.Filter(islands, nonIslandOffsets(manualMap))

	islandGuessMode, err := islandGuessMode(manualMap)
	if err != nil {
		return nil, err
	}
	if islandGuessMode == "OFF" {
		islands = nil
	}
	logger.Info("detected branch islands", log.Int("count", len(islands)))

	sites := refscan.Scan(buf, trim)
	sites = filterByRefguess(sites, refguessIntervals(manualMap, trim))

	modInput := modrange.Input{
		Trim:            trim,
		Buf:             buf,
		Glues:           glueRefs(glues, glueImpl),
		Islands:         islands,
		ModOffsets:      offsetsOf(manualMap["MOD"]),
		FileOffsets:     offsetsOf(manualMap["FILE"]),
		EndfOffsets:     offsetsOf(manualMap["ENDF"]),
		ModguessEnabled: modguessIntervals(manualMap, trim),
	}
	ranges := modrange.Compute(modInput)
	logger.Info("computed module boundaries", log.Int("ranges", len(ranges)))

	labels := buildLabels(vecRecords, glues, vectorSourceLabels, trapRecords, trapSourceLabels, manualMap, islands, glueImpl)

	vectorImplementations := map[int]bool{}
	for _, r := range vecRecords {
		vectorImplementations[int(r.RoutineOffset)] = true
	}

	islandDestByReferrer := map[int]int{}
	islandIndexByReferrer := map[int]int{}
	for _, isl := range islands {
		islandDestByReferrer[isl.Referrer] = isl.Target
		islandIndexByReferrer[isl.Referrer] = isl.Index
	}
	hideIslands := islandGuessMode == "HIDE"

	summary := &Summary{
		Trim:          trim,
		VectorRecords: vecRecords,
		TrapRecords:   trapRecords,
		Islands:       islands,
		ModuleRanges:  ranges,
	}

	outputDir := opts.OutputDir
	if outputDir == "" {
		outputDir = filepath.Dir(opts.ROMPath)
	}

	for _, fr := range fileRanges {
		modulesInFile := modulesStartingIn(ranges, fr)
		if len(modulesInFile) == 0 {
			continue
		}
		logger.Info("emitting file range", log.String("path", fr.RelPath), log.Int("modules", len(modulesInFile)))

		var out strings.Builder
		sink := objfile.NewWriter(&out)
		if err := sink.PutFirst(); err != nil {
			return nil, err
		}

		fileBytes := 0
		fileUnresolved := 0
		for _, mr := range modulesInFile {
			unresolved, err := emitModule(sink, buf, mr, sites, labels, vectorImplementations,
				glueImpl, hideIslands, islandDestByReferrer, islandIndexByReferrer, fr)
			if err != nil {
				return nil, err
			}
			for _, u := range unresolved {
				logger.Debug("unresolved reference", log.String("kind", string(u.Kind)),
					log.Int("site", u.SiteOffset), log.Int("target", u.TargetOffset))
			}
			summary.Unresolved += len(unresolved)
			fileBytes += mr.Stop - mr.Start
			fileUnresolved += len(unresolved)
		}

		if err := sink.PutLast(); err != nil {
			return nil, err
		}

		if !fr.WriteOut() || opts.DryRun {
			logger.Debug("dry-run file range", log.String("path", fr.RelPath), log.Int("modules", len(modulesInFile)),
				log.Int("bytes", fileBytes), log.Int("unresolved", fileUnresolved))
			continue
		}

		outPath := filepath.Join(outputDir, fr.RelPath)
		// WRITEOUT ignores build errors while creating parent directories; on
		// a non-writable file system the write below then fails, which logs a
		// warning and skips this file range rather than aborting the whole run.
		_ = os.MkdirAll(filepath.Dir(outPath), 0o755)

		wrote, err := objfile.WriteIfChanged(outPath, []byte(out.String()))
		if err != nil {
			logger.Warn("skipping file range: write failed", log.String("path", outPath), log.Err(err))
			continue
		}
		if wrote {
			if _, err := objfile.WriteDescriptor(outPath + ".info"); err != nil {
				return nil, err
			}
			summary.FilesWritten = append(summary.FilesWritten, outPath)
			logger.Info("wrote object file", log.String("path", outPath), log.Int("modules", len(modulesInFile)))
		}
	}

	return summary, nil
}

// emitModule renders one module into sink, applying reference resolution
// against a local mutable copy of the module's bytes.
func emitModule(sink objfile.Sink, buf *rombuf.Buffer, mr modrange.Range, allSites []refscan.Site,
	labels *label.Map, vectorImplementations map[int]bool, glueImpl map[int]int,
	hideIslands bool, islandDestByReferrer, islandIndexByReferrer map[int]int, fr FileRange) ([]resolve.Unresolved, error) {

	localBuf, err := buf.Slice(mr.Start, mr.Stop-mr.Start)
	if err != nil {
		return nil, err
	}
	moduleBytes := append([]byte(nil), localBuf...)

	var moduleSites []refscan.Site
	for _, s := range allSites {
		if s.SiteOffset >= mr.Start && s.SiteOffset < mr.Stop {
			moduleSites = append(moduleSites, s)
		}
	}

	resolved, unresolved := resolve.Resolve(resolve.Input{
		Sites:                 moduleSites,
		ModuleStart:           mr.Start,
		ModuleStop:            mr.Stop,
		Buf:                   moduleBytes,
		Labels:                labels.Labels,
		VectorImplementations: vectorImplementations,
		GlueImplementation:    glueImplSafe(glueImpl),
		HideIslands:           hideIslands,
		IslandDestByReferrer:  islandDestByReferrer,
		IslandIndexByReferrer: islandIndexByReferrer,
	})

	vectorBound, other := labels.EntriesInRange(mr.Start, mr.Stop)
	modName, vectorBound, other := label.SelectModuleName(vectorBound, other, mr.Start)
	chunkOrder := label.ChunkOrder(vectorBound, other)

	names := dictNames(resolved)

	comment := buildComment(modName, mr, resolved, unresolved)
	if err := sink.PutComment(comment); err != nil {
		return nil, err
	}
	if err := sink.PutDict(names); err != nil {
		return nil, err
	}

	flags := objfile.FlagExternallyAccessible
	if !fr.NoForce() {
		flags |= objfile.FlagForced
	}
	if err := sink.PutMod(modName, flags); err != nil {
		return nil, err
	}
	if err := sink.PutSize(mr.Stop - mr.Start); err != nil {
		return nil, err
	}
	if err := sink.PutContents(moduleBytes); err != nil {
		return nil, err
	}

	for _, e := range chunkOrder {
		if err := sink.PutEntry(e.Offset-mr.Start, e.Label); err != nil {
			return nil, err
		}
	}

	for _, r := range resolved {
		site := r.SiteOffset - mr.Start
		if r.Weird {
			if err := sink.PutWeirdRef(r.Label, r.Width, site); err != nil {
				return nil, err
			}
		} else {
			if err := sink.PutSimpleRef(r.Label, r.Width, site); err != nil {
				return nil, err
			}
		}
	}

	if err := sink.PutComment(fmt.Sprintf("end of module %s", modName)); err != nil {
		return nil, err
	}

	return unresolved, nil
}

func glueImplSafe(m map[int]int) map[int]int {
	if m == nil {
		return map[int]int{}
	}
	return m
}

func dictNames(resolved []resolve.Resolved) []string {
	seen := map[string]bool{}
	var names []string
	for _, r := range resolved {
		if seen[r.Label] {
			continue
		}
		seen[r.Label] = true
		names = append(names, r.Label)
	}
	sort.Strings(names)
	return names
}

func buildComment(modName string, mr modrange.Range, resolved []resolve.Resolved, unresolved []resolve.Unresolved) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [0x%X, 0x%X)\n", modName, mr.Start, mr.Stop)
	if len(mr.StartReasons) > 0 {
		fmt.Fprintf(&b, "start: %s\n", strings.Join(mr.StartReasons, ", "))
	}
	if len(mr.StopReasons) > 0 {
		fmt.Fprintf(&b, "stop: %s\n", strings.Join(mr.StopReasons, ", "))
	}
	for _, r := range resolved {
		kind := "ref"
		if r.Weird {
			kind = "branch"
		}
		fmt.Fprintf(&b, "%s -> %s\n", kind, r.Label)
	}
	for _, u := range unresolved {
		fmt.Fprintf(&b, "unresolved %s at 0x%X -> 0x%X\n", u.Kind, u.SiteOffset, u.TargetOffset)
	}
	return b.String()
}

func modulesStartingIn(ranges []modrange.Range, fr FileRange) []modrange.Range {
	var out []modrange.Range
	for _, r := range ranges {
		if r.Start >= fr.Start && r.Start < fr.Stop {
			out = append(out, r)
		}
	}
	return out
}

func buildFileRanges(m manual.Map) ([]FileRange, error) {
	files := m["FILE"]
	endfs := m["ENDF"]

	var ranges []FileRange
	for i, f := range files {
		var stop int
		if i < len(endfs) {
			stop = int(endfs[i].Offset)
		} else {
			stop = int(f.Offset)
		}
		relpath := ""
		var flags []string
		if len(f.Args) > 0 {
			relpath = f.Args[0]
			flags = f.Args[1:]
		}
		ranges = append(ranges, FileRange{Start: int(f.Offset), Stop: stop, RelPath: relpath, Flags: flags})
	}
	return ranges, nil
}

func offsetsOf(records []manual.Record) []int {
	out := make([]int, len(records))
	for i, r := range records {
		out[i] = int(r.Offset)
	}
	return out
}

func glueRefs(glues []vectortable.Glue, glueImpl map[int]int) []modrange.GlueRef {
	out := make([]modrange.GlueRef, len(glues))
	for i, g := range glues {
		impl, hasImpl := glueImpl[g.StubOffset]
		out[i] = modrange.GlueRef{Offset: g.StubOffset, Implementation: impl, HasImpl: hasImpl}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Offset < out[j].Offset })
	return out
}

func glueImplementationMap(glues []vectortable.Glue, vectors map[[2]uint16]uint32) map[int]int {
	m := make(map[int]int, len(glues))
	for _, g := range glues {
		if impl, ok := vectors[[2]uint16{g.TableID, g.VOffset}]; ok {
			m[g.StubOffset] = int(impl)
		}
	}
	return m
}

func nonIslandOffsets(m manual.Map) map[int]bool {
	out := map[int]bool{}
	for _, r := range m["NONISLAND"] {
		out[int(r.Offset)] = true
	}
	return out
}

// islandGuessMode returns "ON" (default), "HIDE", or "OFF" from a single
// ISLANDGUESS directive, which must appear only at offset 0.
func islandGuessMode(m manual.Map) (string, error) {
	recs := m["ISLANDGUESS"]
	if len(recs) == 0 {
		return "ON", nil
	}
	for _, r := range recs {
		if r.Offset != 0 {
			return "", &InvalidIslandGuessOffsetError{Offset: r.Offset}
		}
	}
	if len(recs[0].Args) == 0 {
		return "ON", nil
	}
	return strings.ToUpper(recs[0].Args[0]), nil
}

// toggleIntervals turns a directive's ordered (offset, [OFF]) occurrences
// into enabled intervals, assuming the toggle starts enabled at offset 0.
func toggleIntervals(records []manual.Record, trim int) []modrange.Interval {
	var out []modrange.Interval
	enabled := true
	start := 0

	for _, r := range records {
		off := int(r.Offset)
		isOff := len(r.Args) > 0 && strings.ToUpper(r.Args[0]) == "OFF"
		if enabled && isOff {
			out = append(out, modrange.Interval{Start: start, Stop: off})
			enabled = false
		} else if !enabled && !isOff {
			start = off
			enabled = true
		}
	}
	if enabled {
		out = append(out, modrange.Interval{Start: start, Stop: trim})
	}
	return out
}

func modguessIntervals(m manual.Map, trim int) []modrange.Interval {
	return toggleIntervals(m["MODGUESS"], trim)
}

func refguessIntervals(m manual.Map, trim int) []modrange.Interval {
	return toggleIntervals(m["REFGUESS"], trim)
}

func filterByRefguess(sites []refscan.Site, intervals []modrange.Interval) []refscan.Site {
	var out []refscan.Site
	for _, s := range sites {
		for _, iv := range intervals {
			if s.SiteOffset >= iv.Start && s.SiteOffset < iv.Stop {
				out = append(out, s)
				break
			}
		}
	}
	return out
}

func buildLabels(vecRecords []vectortable.Record, glues []vectortable.Glue, vectorSourceLabels map[[2]uint16]string,
	trapRecords []traptable.Record, trapSourceLabels map[uint16]string, m manual.Map,
	islands []island.Island, glueImpl map[int]int) *label.Map {

	firstGlueOffset := map[[2]uint16]int{}
	for _, g := range glues {
		key := [2]uint16{g.TableID, g.VOffset}
		if off, ok := firstGlueOffset[key]; !ok || g.StubOffset < off {
			firstGlueOffset[key] = g.StubOffset
		}
	}

	var vectorSources []label.VectorSource
	for _, r := range vecRecords {
		key := [2]uint16{r.TableID, r.VOffset}
		glueOff, hasGlue := firstGlueOffset[key]
		vectorSources = append(vectorSources, label.VectorSource{
			TableID:       r.TableID,
			VOffset:       r.VOffset,
			RoutineOffset: int(r.RoutineOffset),
			SourceLabel:   vectorSourceLabels[key],
			GlueOffset:    glueOff,
			HasGlue:       hasGlue,
		})
	}

	var trapSources []label.TrapSource
	for _, t := range trapRecords {
		lbl := trapSourceLabels[t.TrapNumber]
		if lbl == "" {
			lbl = traptable.Placeholder(t.TrapNumber)
		}
		trapSources = append(trapSources, label.TrapSource{
			TrapNumber:    t.TrapNumber,
			RoutineOffset: int(t.RoutineOffset),
			Label:         lbl,
		})
	}

	var directives []label.Directive
	for _, r := range m["MOD"] {
		if len(r.Args) > 0 {
			directives = append(directives, label.Directive{Offset: int(r.Offset), Label: r.Args[0]})
		}
	}
	for _, r := range m["ENTRY"] {
		if len(r.Args) > 0 {
			directives = append(directives, label.Directive{Offset: int(r.Offset), Label: r.Args[0]})
		}
	}

	l := label.New()
	l.AddVectors(vectorSources)
	l.AddTraps(trapSources)
	l.AddDirectives(directives)

	var islandRefs []label.IslandRef
	for _, isl := range islands {
		islandRefs = append(islandRefs, label.IslandRef{Referrer: isl.Referrer, Target: isl.Target})
	}
	l.ApplyIslands(islandRefs, glueImpl)

	return l
}

func loadVectorLabels(sourcePath string) map[[2]uint16]string {
	for _, rel := range []string{"Make/VectorTable.a", "VectorTable.a"} {
		text, err := os.ReadFile(filepath.Join(sourcePath, rel))
		if err == nil {
			return vectortable.LabelsFromSource(string(text))
		}
	}
	return map[[2]uint16]string{}
}

func loadTrapLabels(sourcePath string) map[uint16]string {
	for _, rel := range []string{"OS/DispTable.a", "DispTable.a"} {
		text, err := os.ReadFile(filepath.Join(sourcePath, rel))
		if err == nil {
			return traptable.LabelsFromSource(string(text))
		}
	}
	return map[uint16]string{}
}
