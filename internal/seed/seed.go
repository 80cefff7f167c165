// Package seed reads YAML files describing known faces and enrolls them.
package seed

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/kozaktomas/face-matcher/internal/matcher"
	"gopkg.in/yaml.v3"
)

// Entry is one known face in a seed file. Exactly one of Embedding or Image is set.
// Entries without an id get one derived from their content, see StableID.
type Entry struct {
	ID        string    `yaml:"id"`
	Name      string    `yaml:"name"`
	Embedding []float32 `yaml:"embedding,omitempty"`
	Image     string    `yaml:"image,omitempty"`
}

// File is a parsed seed file.
type File struct {
	Faces []Entry `yaml:"faces"`
}

// Load reads and validates a seed file. Image paths are resolved relative to
// the directory of the seed file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}

	file, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	dir := filepath.Dir(path)
	for i := range file.Faces {
		if img := file.Faces[i].Image; img != "" && !filepath.IsAbs(img) {
			file.Faces[i].Image = filepath.Join(dir, img)
		}
	}
	return file, nil
}

// Parse decodes and validates seed YAML.
func Parse(data []byte) (*File, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse seed yaml: %w", err)
	}
	if err := file.Validate(); err != nil {
		return nil, err
	}
	return &file, nil
}

// Validate checks that each entry names exactly one embedding source and
// that explicit ids are unique.
func (f *File) Validate() error {
	var errs []error
	seen := make(map[string]int)
	for i, e := range f.Faces {
		hasEmbedding := len(e.Embedding) > 0
		hasImage := e.Image != ""
		switch {
		case hasEmbedding && hasImage:
			errs = append(errs, fmt.Errorf("face %d: embedding and image are mutually exclusive", i))
		case !hasEmbedding && !hasImage:
			errs = append(errs, fmt.Errorf("face %d: embedding or image is required", i))
		}
		if e.ID == "" {
			continue
		}
		if prev, ok := seen[e.ID]; ok {
			errs = append(errs, fmt.Errorf("face %d: id %q already used by face %d", i, e.ID, prev))
			continue
		}
		seen[e.ID] = i
	}
	return errors.Join(errs...)
}

// Enroller registers known faces.
type Enroller interface {
	Enroll(ctx context.Context, id, name string, imageData []byte) (matcher.KnownFace, error)
	EnrollEmbedding(ctx context.Context, id, name string, embedding []float32) (matcher.KnownFace, error)
}

// Report summarizes an Apply run.
type Report struct {
	Enrolled int
	// Skipped counts entries whose id is already registered.
	Skipped int
	Errors  []error
}

// Apply enrolls entries with up to concurrency workers. Entries whose id is
// already registered are skipped. With concurrency 1 faces are registered in
// file order. onDone is called after each entry, from the worker goroutine.
func Apply(ctx context.Context, enroller Enroller, entries []Entry, concurrency int, onDone func()) Report {
	if concurrency < 1 {
		concurrency = 1
	}

	var report Report
	var mu sync.Mutex
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for i := range entries {
		if ctx.Err() != nil {
			mu.Lock()
			report.Errors = append(report.Errors, ctx.Err())
			mu.Unlock()
			break
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(e Entry) {
			defer wg.Done()
			defer func() { <-sem }()

			err := enrollEntry(ctx, enroller, e)

			mu.Lock()
			switch {
			case err == nil:
				report.Enrolled++
			case errors.Is(err, matcher.ErrDuplicateID):
				report.Skipped++
			default:
				report.Errors = append(report.Errors, fmt.Errorf("face %s: %w", entryLabel(e), err))
			}
			mu.Unlock()

			if onDone != nil {
				onDone()
			}
		}(entries[i])
	}
	wg.Wait()

	return report
}

func enrollEntry(ctx context.Context, enroller Enroller, e Entry) error {
	if len(e.Embedding) > 0 {
		id := e.ID
		if id == "" {
			id = StableID(e.Name, e.Embedding, nil)
		}
		_, err := enroller.EnrollEmbedding(ctx, id, e.Name, e.Embedding)
		return err
	}

	data, err := os.ReadFile(e.Image)
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}
	id := e.ID
	if id == "" {
		id = StableID(e.Name, nil, data)
	}
	_, err = enroller.Enroll(ctx, id, e.Name, data)
	return err
}

// StableID derives the id of a face listed without one from its name and
// embedding or image bytes, so loading the same file again maps the face
// to the identity enrolled the first time.
func StableID(name string, embedding []float32, imageData []byte) string {
	h := sha256.New()
	h.Write([]byte(name))
	h.Write([]byte{0})
	var buf [4]byte
	for _, v := range embedding {
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
		h.Write(buf[:])
	}
	h.Write(imageData)
	return "seed-" + hex.EncodeToString(h.Sum(nil))[:16]
}

func entryLabel(e Entry) string {
	switch {
	case e.ID != "":
		return e.ID
	case e.Name != "":
		return e.Name
	default:
		return e.Image
	}
}
