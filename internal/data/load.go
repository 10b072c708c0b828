package data

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

type recordInfo struct {
	ID       string
	Path     string
	NLeads   int
	NSamples int
}

// loadRecords parses every record file of folder with concurrency workers,
// normalizes it and puts it into the store. The result is sorted by ID.
func loadRecords(
	ctx context.Context,
	folder string,
	concurrency int,
	store *RecordStore,
) ([]recordInfo, error) {
	files, err := recordFiles(folder)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no record files in %v", folder)
	}
	if concurrency < 1 {
		concurrency = 1
	}

	g, ctx := errgroup.WithContext(ctx)

	var paths = make(chan string, 128)
	var results = make(chan recordInfo, 128)

	g.Go(func() error {
		defer close(paths)
		for _, path := range files {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case paths <- path:
			}
		}
		return nil
	})

	var res []recordInfo
	g.Go(func() error {
		for info := range results {
			res = append(res, info)
		}
		return nil
	})

	var wg = &sync.WaitGroup{}
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		g.Go(func() error {
			defer wg.Done()
			return parseRecords(ctx, paths, results, store)
		})
	}

	g.Go(func() error {
		wg.Wait()
		close(results)
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func parseRecords(
	ctx context.Context,
	paths <-chan string,
	results chan<- recordInfo,
	store *RecordStore,
) error {
	for path := range paths {
		rec, err := readNormalized(path)
		if err != nil {
			return err
		}
		store.Put(path, &rec)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case results <- recordInfo{
			ID:       rec.ID,
			Path:     path,
			NLeads:   rec.NLeads(),
			NSamples: rec.NSamples(),
		}:
		}
	}
	return nil
}

func readNormalized(path string) (Record, error) {
	rec, err := LoadRecordFile(path)
	if err != nil {
		return Record{}, fmt.Errorf("load record %v: %w", path, err)
	}
	Normalize(&rec)
	return rec, nil
}

func recordFiles(folderPath string) ([]string, error) {
	dirs, err := os.ReadDir(folderPath)
	if err != nil {
		return nil, err
	}
	var result []string
	for _, de := range dirs {
		if !de.IsDir() && isRecordFile(de.Name()) {
			result = append(result, filepath.Join(folderPath, de.Name()))
		}
	}
	return result, nil
}
