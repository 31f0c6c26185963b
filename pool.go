/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"math/rand/v2"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/Seednode/memorybox/game"
	"github.com/go-playground/validator/v10"
	"github.com/julienschmidt/httprouter"
	"github.com/nfnt/resize"
)

const (
	manifestName = "pool.toml"

	// fallbackBack is shown on face-down cards when the pool has no back image.
	fallbackBack = "?"
)

var imageTypes = map[string]string{
	".gif":  "image/gif",
	".jpeg": "image/jpeg",
	".jpg":  "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
}

// Manifest describes a pool directory. Each image entry lists either one
// file, which is duplicated into a pair, or two related files that match
// each other.
//
//	back = "back.png"
//
//	[[image]]
//	key = "moon"
//	files = ["moon-day.jpg", "moon-night.jpg"]
//
//	[[image]]
//	files = ["cat.png"]
type Manifest struct {
	Back   string          `toml:"back" validate:"omitempty,basename"`
	Images []ManifestImage `toml:"image" validate:"dive"`
}

type ManifestImage struct {
	Key   string   `toml:"key" validate:"omitempty,max=64"`
	Files []string `toml:"files" validate:"min=1,max=2,dive,required,basename"`
}

func readManifest(dir string) (*Manifest, error) {
	path := filepath.Join(dir, manifestName)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}

	var m Manifest
	if _, err := toml.DecodeFile(path, &m); err != nil {
		return nil, fmt.Errorf("error parsing %s: %w", manifestName, err)
	}

	return &m, nil
}

func newManifestValidator() (*validator.Validate, error) {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := v.RegisterValidation("basename", validateBasename); err != nil {
		return nil, fmt.Errorf("failed to register basename validator: %w", err)
	}

	return v, nil
}

// validateBasename accepts plain file names only, so that manifests cannot
// point outside the pool directory.
func validateBasename(fl validator.FieldLevel) bool {
	name := fl.Field().String()

	return name != "" && name != "." && name != ".." && filepath.Base(name) == name
}

// problems returns every reason the manifest cannot be served from dir.
func (m *Manifest) problems(dir string) []string {
	var out []string

	v, err := newManifestValidator()
	if err != nil {
		return []string{err.Error()}
	}

	if err := v.Struct(m); err != nil {
		var validationErrors validator.ValidationErrors
		if !errors.As(err, &validationErrors) {
			return []string{err.Error()}
		}
		for _, e := range validationErrors {
			out = append(out, formatManifestError(e))
		}

		return out
	}

	keys := make(map[string]int)
	for i, img := range m.Images {
		if img.Key != "" {
			if j, ok := keys[img.Key]; ok {
				out = append(out, fmt.Sprintf("image[%d]: key %q is already used by image[%d]", i, img.Key, j))
			} else {
				keys[img.Key] = i
			}
		}

		if len(img.Files) == 2 && img.Files[0] == img.Files[1] {
			out = append(out, fmt.Sprintf("image[%d]: pair lists %q twice", i, img.Files[0]))
		}

		for _, f := range img.Files {
			if p := checkImageFile(dir, f); p != "" {
				out = append(out, fmt.Sprintf("image[%d]: %s", i, p))
			}
		}
	}

	if m.Back != "" {
		if p := checkImageFile(dir, m.Back); p != "" {
			out = append(out, "back: "+p)
		}
	}

	return out
}

func formatManifestError(e validator.FieldError) string {
	field := e.Namespace()

	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must have at least %s items", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must have at most %s items", field, e.Param())
	case "basename":
		return fmt.Sprintf("%s must be a file name inside the pool directory", field)
	default:
		return fmt.Sprintf("%s failed %s validation", field, e.Tag())
	}
}

func checkImageFile(dir, name string) string {
	if _, ok := imageTypes[strings.ToLower(filepath.Ext(name))]; !ok {
		return fmt.Sprintf("%q is not a supported image type", name)
	}

	info, err := os.Stat(filepath.Join(dir, name))
	switch {
	case err != nil:
		return fmt.Sprintf("%q not found", name)
	case info.IsDir():
		return fmt.Sprintf("%q is a directory", name)
	}

	return ""
}

func isBackImage(name string) bool {
	return strings.TrimSuffix(strings.ToLower(name), strings.ToLower(filepath.Ext(name))) == "back"
}

// scanPool lists the image files in dir, excluding any card back.
func scanPool(dir string) (images []string, back string, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, "", err
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if _, ok := imageTypes[strings.ToLower(filepath.Ext(name))]; !ok {
			continue
		}

		if isBackImage(name) {
			if back == "" {
				back = name
			}
			continue
		}

		images = append(images, name)
	}

	slices.Sort(images)

	return images, back, nil
}

// PoolReport is the outcome of checking a pool directory.
type PoolReport struct {
	Manifest bool
	Items    int
	Back     string
	Problems []string
	Warnings []string
}

func checkPool(dir string) (*PoolReport, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("pool directory not found: %s", dir)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("pool path is not a directory: %s", dir)
	}

	m, err := readManifest(dir)
	if err != nil {
		return nil, err
	}

	images, back, err := scanPool(dir)
	if err != nil {
		return nil, err
	}

	report := &PoolReport{Back: back}

	if m == nil {
		report.Items = len(images)
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("no %s found, every image is used as a single", manifestName))
	} else {
		report.Manifest = true
		report.Items = len(m.Images)
		report.Problems = m.problems(dir)
		if m.Back != "" {
			report.Back = m.Back
		}
	}

	if report.Back == "" {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("no card back image, face-down cards show %q", fallbackBack))
	}

	if report.Items < 2 {
		report.Warnings = append(report.Warnings,
			"fewer than 2 images, players must upload their own")
	}

	return report, nil
}

type thumbnail struct {
	data        []byte
	contentType string
	modTime     time.Time
}

// Catalog is the system-provided part of the image pool.
type Catalog struct {
	dir       string
	urlPrefix string
	thumbSize uint

	items []game.Item
	files map[string]bool
	back  string

	mu     sync.Mutex
	thumbs map[string]thumbnail
}

func loadCatalog(cfg *Config) (*Catalog, error) {
	c := &Catalog{
		dir:       cfg.poolDir,
		urlPrefix: cfg.prefix + "/pool/",
		thumbSize: cfg.thumbnailSize,
		files:     make(map[string]bool),
		back:      fallbackBack,
		thumbs:    make(map[string]thumbnail),
	}

	if cfg.poolDir == "" {
		return c, nil
	}

	report, err := checkPool(cfg.poolDir)
	if err != nil {
		return nil, err
	}
	if len(report.Problems) > 0 {
		return nil, fmt.Errorf("invalid %s: %s", manifestName, strings.Join(report.Problems, "; "))
	}

	if report.Back != "" {
		c.files[report.Back] = true
		c.back = c.ref(report.Back)
	}

	if report.Manifest {
		m, err := readManifest(cfg.poolDir)
		if err != nil {
			return nil, err
		}

		for _, img := range m.Images {
			refs := make([]string, len(img.Files))
			for i, f := range img.Files {
				c.files[f] = true
				refs[i] = c.ref(f)
			}
			c.items = append(c.items, game.Item{Key: img.Key, Images: refs, Source: game.SourceSystem})
		}
	} else {
		images, _, err := scanPool(cfg.poolDir)
		if err != nil {
			return nil, err
		}

		for _, f := range images {
			c.files[f] = true
			c.items = append(c.items, game.Single(c.ref(f), game.SourceSystem))
		}
	}

	for _, w := range report.Warnings {
		logf(cfg, "POOL: %s", w)
	}
	logf(cfg, "POOL: Loaded %d images from %s", len(c.items), cfg.poolDir)

	return c, nil
}

func (c *Catalog) ref(name string) string {
	return c.urlPrefix + url.PathEscape(name)
}

// Len returns the number of catalog items.
func (c *Catalog) Len() int {
	return len(c.items)
}

// Back returns the card back reference, or the fallback glyph.
func (c *Catalog) Back() string {
	return c.back
}

// Sample returns up to n catalog items in random order.
func (c *Catalog) Sample(n int) []game.Item {
	n = min(n, len(c.items))
	out := make([]game.Item, 0, n)

	for _, i := range rand.Perm(len(c.items))[:n] {
		out = append(out, c.items[i])
	}

	return out
}

// thumbnail returns the bytes served for a pool file, shrinking png and
// jpeg images whose longest edge exceeds the thumbnail size.
func (c *Catalog) thumbnail(name string) (thumbnail, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t, ok := c.thumbs[name]; ok {
		return t, nil
	}

	path := filepath.Join(c.dir, name)

	info, err := os.Stat(path)
	if err != nil {
		return thumbnail{}, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return thumbnail{}, err
	}

	t := thumbnail{
		data:        data,
		contentType: imageTypes[strings.ToLower(filepath.Ext(name))],
		modTime:     info.ModTime(),
	}

	if c.thumbSize > 0 && (t.contentType == "image/png" || t.contentType == "image/jpeg") {
		shrunk, err := shrink(data, t.contentType, c.thumbSize)
		if err != nil {
			return thumbnail{}, fmt.Errorf("%s: %w", name, err)
		}
		if shrunk != nil {
			t.data = shrunk
		}
	}

	c.thumbs[name] = t

	return t, nil
}

// shrink returns nil when the image already fits within size.
func shrink(data []byte, contentType string, size uint) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	if uint(bounds.Dx()) <= size && uint(bounds.Dy()) <= size {
		return nil, nil
	}

	small := resize.Thumbnail(size, size, img, resize.Lanczos3)

	var buf bytes.Buffer
	if contentType == "image/jpeg" {
		err = jpeg.Encode(&buf, small, &jpeg.Options{Quality: 85})
	} else {
		err = png.Encode(&buf, small)
	}
	if err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func (c *Catalog) serveImage(cfg *Config, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		startTime := time.Now()

		name := ps.ByName("image")
		if !c.files[name] {
			http.NotFound(w, r)
			return
		}

		t, err := c.thumbnail(name)
		if err != nil {
			errs <- err
			http.Error(w, "unable to load image", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", t.contentType)
		w.Header().Set("Content-Length", strconv.Itoa(len(t.data)))
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Last-Modified", t.modTime.UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		written, err := w.Write(t.data)
		if err != nil {
			errs <- err
			return
		}

		logf(cfg, "SERVE: Pool image %s (%s) to %s in %s",
			name,
			humanReadableSize(int64(written)),
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}
