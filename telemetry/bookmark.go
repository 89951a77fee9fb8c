package telemetry

import (
	"fmt"
	"log/slog"
)

// BookmarkType identifies the type of bookmark.
type BookmarkType string

const (
	BookmarkFirstFission     BookmarkType = "first_fission"
	BookmarkClonalSweep      BookmarkType = "clonal_sweep"
	BookmarkPopulationCrash  BookmarkType = "population_crash"
	BookmarkTurnoverStarted  BookmarkType = "turnover_started"
	BookmarkStablePopulation BookmarkType = "stable_population"
)

// Bookmark marks a notable moment of a run.
type Bookmark struct {
	Type        BookmarkType `csv:"type" json:"type"`
	Time        float64      `csv:"time" json:"time"`
	Description string       `csv:"description" json:"description"`
}

// LogBookmark logs the bookmark using slog.
func (b Bookmark) LogBookmark() {
	slog.Info("bookmark",
		"type", string(b.Type),
		"time", b.Time,
		"description", b.Description,
	)
}

// BookmarkDetector detects notable moments from successive window stats.
type BookmarkDetector struct {
	// Rolling history (circular buffer)
	history     []WindowStats
	historySize int
	historyIdx  int
	historyFull bool

	sawFission         bool
	sawTurnover        bool
	swept              map[int]bool // Genotypes already reported as sweeping
	recentPeak         int
	stableWindowsCount int
}

// NewBookmarkDetector creates a detector with the given history size.
func NewBookmarkDetector(historySize int) *BookmarkDetector {
	if historySize < 4 {
		historySize = 4 // minimum for stable population detection
	}
	return &BookmarkDetector{
		history:     make([]WindowStats, historySize),
		historySize: historySize,
		swept:       make(map[int]bool),
	}
}

// Check analyzes the latest stats and returns any triggered bookmarks.
func (bd *BookmarkDetector) Check(stats WindowStats) []Bookmark {
	var bookmarks []Bookmark

	if b := bd.checkFirstFission(stats); b != nil {
		bookmarks = append(bookmarks, *b)
	}
	if b := bd.checkClonalSweep(stats); b != nil {
		bookmarks = append(bookmarks, *b)
	}
	if b := bd.checkPopulationCrash(stats); b != nil {
		bookmarks = append(bookmarks, *b)
	}
	if b := bd.checkTurnover(stats); b != nil {
		bookmarks = append(bookmarks, *b)
	}
	if b := bd.checkStablePopulation(stats); b != nil {
		bookmarks = append(bookmarks, *b)
	}

	bd.addToHistory(stats)
	if stats.Population > bd.recentPeak {
		bd.recentPeak = stats.Population
	}

	return bookmarks
}

func (bd *BookmarkDetector) addToHistory(stats WindowStats) {
	bd.history[bd.historyIdx] = stats
	bd.historyIdx = (bd.historyIdx + 1) % bd.historySize
	if bd.historyIdx == 0 {
		bd.historyFull = true
	}
}

// recent returns up to n of the most recent windows, oldest first.
func (bd *BookmarkDetector) recent(n int) []WindowStats {
	count := bd.historyIdx
	if bd.historyFull {
		count = bd.historySize
	}
	if n > count {
		n = count
	}
	out := make([]WindowStats, 0, n)
	for i := n; i > 0; i-- {
		idx := (bd.historyIdx - i + bd.historySize) % bd.historySize
		out = append(out, bd.history[idx])
	}
	return out
}

func (bd *BookmarkDetector) checkFirstFission(stats WindowStats) *Bookmark {
	if bd.sawFission || stats.Demes < 2 {
		return nil
	}
	bd.sawFission = true
	return &Bookmark{
		Type:        BookmarkFirstFission,
		Time:        stats.WindowEnd,
		Description: fmt.Sprintf("Tumour split into %d demes at population %d", stats.Demes, stats.Population),
	}
}

func (bd *BookmarkDetector) checkClonalSweep(stats WindowStats) *Bookmark {
	// The founder starts at full share, so only descendants can sweep
	if stats.DominantGenotype == 0 || stats.DominantShare < 0.5 || bd.swept[stats.DominantGenotype] {
		return nil
	}
	bd.swept[stats.DominantGenotype] = true
	return &Bookmark{
		Type:        BookmarkClonalSweep,
		Time:        stats.WindowEnd,
		Description: fmt.Sprintf("Genotype %d reached %.0f%% of cells", stats.DominantGenotype, stats.DominantShare*100),
	}
}

func (bd *BookmarkDetector) checkPopulationCrash(stats WindowStats) *Bookmark {
	if bd.recentPeak == 0 {
		return nil
	}

	drop := 1.0 - float64(stats.Population)/float64(bd.recentPeak)
	if drop > 0.30 && stats.Population < bd.recentPeak-10 {
		// Reset peak after crash
		oldPeak := bd.recentPeak
		bd.recentPeak = stats.Population

		return &Bookmark{
			Type:        BookmarkPopulationCrash,
			Time:        stats.WindowEnd,
			Description: fmt.Sprintf("Population fell %.0f%% from peak %d to %d", drop*100, oldPeak, stats.Population),
		}
	}
	return nil
}

func (bd *BookmarkDetector) checkTurnover(stats WindowStats) *Bookmark {
	if bd.sawTurnover || !stats.Turnover {
		return nil
	}
	bd.sawTurnover = true
	return &Bookmark{
		Type:        BookmarkTurnoverStarted,
		Time:        stats.WindowEnd,
		Description: fmt.Sprintf("All %d demes formed, population %d", stats.Demes, stats.Population),
	}
}

func (bd *BookmarkDetector) checkStablePopulation(stats WindowStats) *Bookmark {
	if stats.Population < 10 {
		bd.stableWindowsCount = 0
		return nil
	}

	window := append(bd.recent(3), stats)
	if len(window) < 4 {
		return nil
	}

	var sum float64
	for _, h := range window {
		sum += float64(h.Population)
	}
	mean := sum / float64(len(window))

	var variance float64
	for _, h := range window {
		d := float64(h.Population) - mean
		variance += d * d
	}
	variance /= float64(len(window))

	if variance/(mean*mean) < 0.0025 { // CV < 5%
		bd.stableWindowsCount++
	} else {
		bd.stableWindowsCount = 0
	}

	if bd.stableWindowsCount == 5 { // trigger exactly once at 5 windows
		return &Bookmark{
			Type:        BookmarkStablePopulation,
			Time:        stats.WindowEnd,
			Description: fmt.Sprintf("Population steady near %.0f cells over 5+ windows", mean),
		}
	}
	return nil
}
