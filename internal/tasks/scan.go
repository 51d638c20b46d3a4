package tasks

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"motioncor/internal/fsutil"
)

// ErrNotMovie is returned when a directory holds too few frames to align.
var ErrNotMovie = errors.New("not a movie directory")

// ScanResult captures the movie directories found under a root.
type ScanResult struct {
	Movies []MovieGroup
}

// MovieGroup is one directory of frames.
type MovieGroup struct {
	Dir      string
	Frames   int
	Modified time.Time
}

// Scan walks root and reports every directory holding at least minFrames
// frame files, newest activity last.
func Scan(root string, minFrames int) (ScanResult, error) {
	if minFrames < 2 {
		minFrames = 2
	}
	dirs, err := fsutil.ListMovieDirs(root, minFrames)
	if err != nil {
		return ScanResult{}, err
	}
	var res ScanResult
	for _, dir := range dirs {
		g, err := describeMovie(dir)
		if err != nil {
			return ScanResult{}, err
		}
		res.Movies = append(res.Movies, g)
	}
	sort.SliceStable(res.Movies, func(i, j int) bool {
		if res.Movies[i].Modified.Equal(res.Movies[j].Modified) {
			return res.Movies[i].Dir < res.Movies[j].Dir
		}
		return res.Movies[i].Modified.Before(res.Movies[j].Modified)
	})
	return res, nil
}

// CheckMovie verifies dir can be processed as a movie.
func CheckMovie(dir string, minFrames int) (MovieGroup, error) {
	g, err := describeMovie(dir)
	if err != nil {
		return MovieGroup{}, err
	}
	if g.Frames < minFrames {
		return g, fmt.Errorf("%s has %d frames, need %d: %w", dir, g.Frames, minFrames, ErrNotMovie)
	}
	return g, nil
}

func describeMovie(dir string) (MovieGroup, error) {
	files, err := fsutil.ListFrames(dir)
	if err != nil {
		return MovieGroup{}, err
	}
	g := MovieGroup{Dir: dir, Frames: len(files)}
	for _, f := range files {
		st, err := os.Stat(f)
		if err != nil {
			continue
		}
		if st.ModTime().After(g.Modified) {
			g.Modified = st.ModTime()
		}
	}
	return g, nil
}

// TouchManifest writes a small manifest file next to a job's outputs.
func TouchManifest(path string, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(time.Now().UTC().Format(time.RFC3339)+"\n"+content+"\n"), 0o644)
}
