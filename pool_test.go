/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Seednode/memorybox/game"
	"github.com/julienschmidt/httprouter"
)

func writePNG(t *testing.T, dir, name string, w, h int) {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode() error: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, name), buf.Bytes(), 0o644); err != nil {
		t.Fatalf("WriteFile(%s) error: %v", name, err)
	}
}

func writeManifest(t *testing.T, dir, body string) {
	t.Helper()

	if err := os.WriteFile(filepath.Join(dir, manifestName), []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile(%s) error: %v", manifestName, err)
	}
}

func TestCheckPool_DirectoryListing(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, dir, "cat.png", 8, 8)
	writePNG(t, dir, "dog.png", 8, 8)
	writePNG(t, dir, "back.png", 8, 8)
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}

	report, err := checkPool(dir)
	if err != nil {
		t.Fatalf("checkPool() error: %v", err)
	}

	if report.Manifest {
		t.Error("Manifest = true, want false")
	}
	if report.Items != 2 {
		t.Errorf("Items = %d, want 2", report.Items)
	}
	if report.Back != "back.png" {
		t.Errorf("Back = %q, want back.png", report.Back)
	}
	if len(report.Problems) != 0 {
		t.Errorf("Problems = %v, want none", report.Problems)
	}
}

func TestCheckPool_Manifest(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, dir, "moon-day.png", 8, 8)
	writePNG(t, dir, "moon-night.png", 8, 8)
	writePNG(t, dir, "cat.png", 8, 8)
	writeManifest(t, dir, `
[[image]]
key = "moon"
files = ["moon-day.png", "moon-night.png"]

[[image]]
files = ["cat.png"]
`)

	report, err := checkPool(dir)
	if err != nil {
		t.Fatalf("checkPool() error: %v", err)
	}

	if !report.Manifest || report.Items != 2 {
		t.Errorf("Manifest = %v, Items = %d, want true and 2", report.Manifest, report.Items)
	}
	if len(report.Problems) != 0 {
		t.Errorf("Problems = %v, want none", report.Problems)
	}

	foundBackWarning := false
	for _, w := range report.Warnings {
		if strings.Contains(w, "card back") {
			foundBackWarning = true
		}
	}
	if !foundBackWarning {
		t.Errorf("Warnings = %v, want a missing card back warning", report.Warnings)
	}
}

func TestCheckPool_ManifestProblems(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, dir, "a.png", 8, 8)
	writePNG(t, dir, "b.png", 8, 8)
	writeManifest(t, dir, `
back = "missing-back.png"

[[image]]
key = "x"
files = ["a.png"]

[[image]]
key = "x"
files = ["b.png", "b.png"]

[[image]]
files = ["gone.png"]

[[image]]
files = ["notes.txt"]
`)

	report, err := checkPool(dir)
	if err != nil {
		t.Fatalf("checkPool() error: %v", err)
	}

	want := []string{
		`key "x" is already used`,
		`lists "b.png" twice`,
		`"gone.png" not found`,
		`"notes.txt" is not a supported image type`,
		`back: "missing-back.png" not found`,
	}

	joined := strings.Join(report.Problems, "\n")
	for _, w := range want {
		if !strings.Contains(joined, w) {
			t.Errorf("Problems missing %q:\n%s", w, joined)
		}
	}
}

func TestCheckPool_ManifestRejectsPaths(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[[image]]
files = ["../secret.png"]

[[image]]
files = []
`)

	report, err := checkPool(dir)
	if err != nil {
		t.Fatalf("checkPool() error: %v", err)
	}

	joined := strings.Join(report.Problems, "\n")
	if !strings.Contains(joined, "must be a file name inside the pool directory") {
		t.Errorf("Problems = %q, want a basename problem", joined)
	}
	if !strings.Contains(joined, "must have at least 1 items") {
		t.Errorf("Problems = %q, want a min problem", joined)
	}
}

func TestCheckPool_Errors(t *testing.T) {
	if _, err := checkPool(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("checkPool(missing) error = nil, want error")
	}

	dir := t.TempDir()
	writeManifest(t, dir, `[[image]`)
	if _, err := checkPool(dir); err == nil {
		t.Error("checkPool(bad toml) error = nil, want error")
	}
}

func TestLoadCatalog_Empty(t *testing.T) {
	cfg := testConfig()

	c, err := loadCatalog(cfg)
	if err != nil {
		t.Fatalf("loadCatalog() error: %v", err)
	}

	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0", c.Len())
	}
	if c.Back() != fallbackBack {
		t.Errorf("Back() = %q, want %q", c.Back(), fallbackBack)
	}
	if got := c.Sample(8); len(got) != 0 {
		t.Errorf("Sample() = %v, want empty", got)
	}
}

func TestLoadCatalog_Manifest(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, dir, "moon day.png", 8, 8)
	writePNG(t, dir, "moon-night.png", 8, 8)
	writePNG(t, dir, "cat.png", 8, 8)
	writePNG(t, dir, "back.png", 8, 8)
	writeManifest(t, dir, `
[[image]]
key = "moon"
files = ["moon day.png", "moon-night.png"]

[[image]]
files = ["cat.png"]
`)

	cfg := testConfig()
	cfg.poolDir = dir
	cfg.prefix = "/games"

	c, err := loadCatalog(cfg)
	if err != nil {
		t.Fatalf("loadCatalog() error: %v", err)
	}

	if c.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", c.Len())
	}
	if c.Back() != "/games/pool/back.png" {
		t.Errorf("Back() = %q, want /games/pool/back.png", c.Back())
	}

	moon := c.items[0]
	if moon.Key != "moon" || moon.Source != game.SourceSystem {
		t.Errorf("items[0] = %+v, want key moon from the system", moon)
	}
	if len(moon.Images) != 2 || moon.Images[0] != "/games/pool/moon%20day.png" {
		t.Errorf("items[0].Images = %v, want escaped pool urls", moon.Images)
	}

	cards, err := game.BuildCards(game.Pool{System: c.Sample(8)})
	if err != nil {
		t.Fatalf("BuildCards() error: %v", err)
	}
	if len(cards) != 4 {
		t.Errorf("len(cards) = %d, want 4", len(cards))
	}
}

func TestLoadCatalog_InvalidManifest(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[[image]]
files = ["gone.png"]
`)

	cfg := testConfig()
	cfg.poolDir = dir

	if _, err := loadCatalog(cfg); err == nil {
		t.Error("loadCatalog() error = nil, want error")
	}
}

func TestCatalog_ServeImageThumbnails(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, dir, "big.png", 64, 32)
	writePNG(t, dir, "small.png", 8, 8)

	cfg := testConfig()
	cfg.poolDir = dir
	cfg.thumbnailSize = 16

	c, err := loadCatalog(cfg)
	if err != nil {
		t.Fatalf("loadCatalog() error: %v", err)
	}

	errs := make(chan error, 4)
	mux := httprouter.New()
	mux.GET("/pool/:image", c.serveImage(cfg, errs))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/pool/big.png", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q, want image/png", ct)
	}

	img, err := png.Decode(rec.Body)
	if err != nil {
		t.Fatalf("png.Decode() error: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 16 || b.Dy() != 8 {
		t.Errorf("thumbnail = %dx%d, want 16x8", b.Dx(), b.Dy())
	}

	original, err := os.ReadFile(filepath.Join(dir, "small.png"))
	if err != nil {
		t.Fatal(err)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/pool/small.png", nil))
	if !bytes.Equal(rec.Body.Bytes(), original) {
		t.Error("small image was re-encoded, want the original bytes")
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/pool/missing.png", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 for an unknown image", rec.Code)
	}

	if len(errs) != 0 {
		t.Errorf("handler reported %d errors", len(errs))
	}
}
