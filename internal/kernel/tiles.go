package kernel

import (
	"fmt"
	"sync"
	"time"
)

// Tile sizes for the blocked convolution/dense traversal. Rows and Cols block
// the output feature map; Chans blocks output channels (or dense units).
const (
	defaultTileRows  = 4
	defaultTileCols  = 8
	defaultTileChans = 16

	maxTileRows  = 64
	maxTileCols  = 64
	maxTileChans = 256
)

// Tiles is a blocking configuration.
type Tiles struct {
	Rows  int
	Cols  int
	Chans int
}

func (t Tiles) String() string {
	return fmt.Sprintf("%dx%dx%d", t.Rows, t.Cols, t.Chans)
}

// Clamp bounds every tile dimension to [1, max] and to the extent it blocks.
func (t Tiles) Clamp(rows, cols, chans int) Tiles {
	return Tiles{
		Rows:  clampTile(min(t.Rows, rows), maxTileRows),
		Cols:  clampTile(min(t.Cols, cols), maxTileCols),
		Chans: clampTile(min(t.Chans, chans), maxTileChans),
	}
}

// SelectTiles picks a blocking for an output of rows x cols x chans whose
// per-element reduction has length red.
func SelectTiles(rows, cols, chans, red int) Tiles {
	t := Tiles{Rows: defaultTileRows, Cols: defaultTileCols, Chans: defaultTileChans}
	switch {
	case red >= 512:
		t.Chans = 8
	case red >= 128:
		t.Chans = 16
	default:
		t.Chans = 32
	}
	if cols <= 16 {
		t.Cols = cols
	}
	return t.Clamp(rows, cols, chans)
}

func clampTile(value, max int) int {
	if value < 1 {
		return 1
	}
	if value > max {
		return max
	}
	return value
}

// TileKey identifies a blocked workload for the autotuner.
type TileKey struct {
	Kind  string
	Rows  int
	Cols  int
	Chans int
	Red   int
}

type tunedTiles struct {
	tiles Tiles
	score time.Duration
}

// Autotuner times candidate tilings once per workload and caches the
// fastest. It is safe for concurrent use.
type Autotuner struct {
	mu    sync.RWMutex
	cache map[TileKey]tunedTiles
}

// NewAutotuner returns an empty tuner.
func NewAutotuner() *Autotuner {
	return &Autotuner{cache: make(map[TileKey]tunedTiles)}
}

// Tiles returns the cached tiling for key, running and timing run for the
// base configuration and each candidate on first use.
func (t *Autotuner) Tiles(key TileKey, base Tiles, run func(Tiles)) Tiles {
	t.mu.RLock()
	if tuned, ok := t.cache[key]; ok {
		t.mu.RUnlock()
		return tuned.tiles
	}
	t.mu.RUnlock()

	best := base
	bestScore := timeRun(run, base)
	for _, cand := range candidateTiles(base, key) {
		if score := timeRun(run, cand); score < bestScore {
			best, bestScore = cand, score
		}
	}

	t.mu.Lock()
	t.cache[key] = tunedTiles{tiles: best, score: bestScore}
	t.mu.Unlock()
	return best
}

// Cached returns the tuned tiling for key, if any.
func (t *Autotuner) Cached(key TileKey) (Tiles, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	tuned, ok := t.cache[key]
	return tuned.tiles, ok
}

func timeRun(run func(Tiles), tiles Tiles) time.Duration {
	start := time.Now()
	run(tiles)
	return time.Since(start)
}

func candidateTiles(base Tiles, key TileKey) []Tiles {
	var out []Tiles
	for _, ch := range []int{base.Chans / 2, base.Chans * 2, 8, 32} {
		if ch <= 0 || ch == base.Chans {
			continue
		}
		cand := base
		cand.Chans = ch
		out = append(out, cand.Clamp(key.Rows, key.Cols, key.Chans))
	}
	for _, cols := range []int{base.Cols / 2, base.Cols * 2} {
		if cols <= 0 || cols == base.Cols {
			continue
		}
		cand := base
		cand.Cols = cols
		out = append(out, cand.Clamp(key.Rows, key.Cols, key.Chans))
	}
	return out
}
