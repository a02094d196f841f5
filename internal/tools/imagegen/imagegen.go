// Package imagegen generates a supporting image for a slide section.
// Output is an image artifact: always a local PNG, optionally uploaded
// to a shared store for a public URL.
package imagegen

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/haasonsaas/presgen/internal/backoff"
	"github.com/haasonsaas/presgen/internal/cache"
	"github.com/haasonsaas/presgen/internal/llm"
	"github.com/haasonsaas/presgen/internal/toolerr"
)

// Method is the JSON-RPC method name this tool registers under.
const Method = "image.generate"

// sizeByAspect maps aspect ratios to generated pixel dimensions.
var sizeByAspect = map[string]string{
	"16:9": "1280x720",
	"1:1":  "1024x1024",
	"4:3":  "1024x768",
}

// Params is the image.generate request payload.
type Params struct {
	Prompt       string `json:"prompt" jsonschema:"required,description=Visual description for the image model"`
	Aspect       string `json:"aspect,omitempty" jsonschema:"enum=16:9,enum=1:1,enum=4:3,description=Aspect ratio (default 16:9)"`
	Size         string `json:"size,omitempty" jsonschema:"description=Explicit WxH override"`
	SafetyTier   string `json:"safety_tier,omitempty" jsonschema:"enum=default,enum=block_most,enum=block_only_high,enum=block_none"`
	ReturnShared bool   `json:"return_shared,omitempty" jsonschema:"description=Upload and return a public URL"`
	NoCache      bool   `json:"no_cache,omitempty" jsonschema:"description=Skip the cache read; the fresh result is still stored"`
}

// Result is the produced image artifact. LocalPath is always set; URL
// and DriveFileID are set when the image was shared.
type Result struct {
	LocalPath   string `json:"local_path"`
	URL         string `json:"url,omitempty"`
	DriveFileID string `json:"drive_file_id,omitempty"`
}

// Uploader stages a local file for public access.
type Uploader interface {
	UploadPublicImage(ctx context.Context, localPath string, makePublic bool) (fileID, publicURL string, err error)
}

type uploadResult struct {
	fileID string
	url    string
}

// Tool implements image.generate.
type Tool struct {
	backend     llm.ImageBackend
	uploader    Uploader
	model       string
	defaultSize string
	outDir      string
	cache       *cache.Store
	ttl         time.Duration
	policy      backoff.Policy
	sleeper     backoff.Sleeper
	logger      *slog.Logger
	now         func() time.Time
}

// New builds the tool. uploader and store may be nil; without an
// uploader return_shared degrades to a local-only artifact. A non-empty
// defaultSize overrides the aspect-derived dimensions; per-request Size
// still wins.
func New(backend llm.ImageBackend, uploader Uploader, model, defaultSize, outDir string, store *cache.Store, ttl time.Duration, logger *slog.Logger) *Tool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tool{
		backend:     backend,
		uploader:    uploader,
		model:       model,
		defaultSize: defaultSize,
		outDir:      outDir,
		cache:       store,
		ttl:         ttl,
		policy:      backoff.DefaultPolicy(),
		sleeper:     backoff.SleepWithContext,
		logger:      logger,
		now:         time.Now,
	}
}

// Generate produces an image for the prompt, consulting the cache first.
// Only transient backend failures are retried.
func (t *Tool) Generate(ctx context.Context, p Params) (any, error) {
	if p.Prompt == "" {
		return nil, toolerr.New(toolerr.BadRequest, "prompt is required")
	}
	if p.Aspect == "" {
		p.Aspect = "16:9"
	}
	size, ok := sizeByAspect[p.Aspect]
	if !ok {
		return nil, toolerr.New(toolerr.BadRequest, "unsupported aspect %q", p.Aspect)
	}
	if t.defaultSize != "" {
		size = t.defaultSize
	}
	if p.Size != "" {
		size = p.Size
	}

	key := cache.ImageKey(p.Prompt, p.Aspect, size, t.model, p.ReturnShared)
	if t.cache != nil && !p.NoCache {
		if raw, ok := t.cache.Get(cache.NamespaceImage, key, t.ttl); ok {
			var res Result
			if err := json.Unmarshal(raw, &res); err == nil && artifactUsable(res) {
				t.logger.Debug("image cache hit", "key", key)
				return res, nil
			}
		}
	}

	imageBytes, err := backoff.RetryWithSleeper(ctx, t.policy, toolerr.IsRetryable, t.sleeper, func(ctx context.Context) ([]byte, error) {
		return t.backend.GenerateImage(ctx, p.Prompt, p.Aspect, p.SafetyTier)
	})
	if err != nil {
		return nil, err
	}
	if len(imageBytes) == 0 {
		return nil, toolerr.New(toolerr.InvalidOutput, "image backend returned empty payload")
	}

	if err := os.MkdirAll(t.outDir, 0o755); err != nil {
		return nil, fmt.Errorf("imagegen: create out dir: %w", err)
	}
	localPath := filepath.Join(t.outDir, fmt.Sprintf("imagen_%d.png", t.now().Unix()))
	if err := os.WriteFile(localPath, imageBytes, 0o644); err != nil {
		return nil, fmt.Errorf("imagegen: write image: %w", err)
	}

	res := Result{LocalPath: localPath}
	if p.ReturnShared && t.uploader != nil {
		up, err := backoff.RetryWithSleeper(ctx, t.policy, toolerr.IsRetryable, t.sleeper, func(ctx context.Context) (uploadResult, error) {
			id, u, err := t.uploader.UploadPublicImage(ctx, localPath, true)
			return uploadResult{fileID: id, url: u}, err
		})
		if err != nil {
			// Sharing is best-effort: the local artifact still serves.
			t.logger.Warn("image share failed, returning local artifact", "error", err)
		} else {
			res.DriveFileID = up.fileID
			res.URL = up.url
		}
	}

	if t.cache != nil {
		if encoded, mErr := json.Marshal(res); mErr == nil {
			if sErr := t.cache.Set(cache.NamespaceImage, key, encoded); sErr != nil {
				t.logger.Warn("image cache write failed", "key", key, "error", sErr)
			}
		}
	}
	t.logger.Info("generated image", "path", localPath, "aspect", p.Aspect, "shared", res.URL != "")
	return res, nil
}

// artifactUsable reports whether a cached artifact still resolves: a
// local path must exist on disk, a bare URL is trusted as-is.
func artifactUsable(res Result) bool {
	if res.LocalPath != "" {
		_, err := os.Stat(res.LocalPath)
		return err == nil
	}
	return res.URL != ""
}
