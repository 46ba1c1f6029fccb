// Package ocr extracts text from screenshots through Google Cloud Vision
// and fans extraction out across the images of one request.
package ocr

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/api/option"
	"google.golang.org/api/vision/v1"
)

// ErrEmptyResponse reports a Vision reply without an annotation result.
var ErrEmptyResponse = errors.New("ocr: empty response")

// Extractor extracts the text visible in one image.
type Extractor interface {
	Extract(ctx context.Context, image []byte) (string, error)
}

// VisionExtractor calls images:annotate with TEXT_DETECTION.
type VisionExtractor struct {
	svc           *vision.Service
	languageHints []string
}

// NewVisionExtractor builds a Vision client. Callers pass option.WithAPIKey
// or rely on application default credentials.
func NewVisionExtractor(ctx context.Context, languageHints []string, opts ...option.ClientOption) (*VisionExtractor, error) {
	svc, err := vision.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create vision client: %w", err)
	}
	return &VisionExtractor{svc: svc, languageHints: languageHints}, nil
}

// Extract implements Extractor.
func (v *VisionExtractor) Extract(ctx context.Context, image []byte) (string, error) {
	req := &vision.AnnotateImageRequest{
		Image:    &vision.Image{Content: base64.StdEncoding.EncodeToString(image)},
		Features: []*vision.Feature{{Type: "TEXT_DETECTION"}},
	}
	if len(v.languageHints) > 0 {
		req.ImageContext = &vision.ImageContext{LanguageHints: v.languageHints}
	}
	resp, err := v.svc.Images.Annotate(&vision.BatchAnnotateImagesRequest{
		Requests: []*vision.AnnotateImageRequest{req},
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("vision annotate: %w", err)
	}
	if resp == nil || len(resp.Responses) == 0 || resp.Responses[0] == nil {
		return "", ErrEmptyResponse
	}
	r := resp.Responses[0]
	if r.Error != nil && r.Error.Code != 0 {
		return "", fmt.Errorf("vision annotate: code %d: %s", r.Error.Code, r.Error.Message)
	}
	if r.FullTextAnnotation != nil && r.FullTextAnnotation.Text != "" {
		return strings.TrimSpace(r.FullTextAnnotation.Text), nil
	}
	if len(r.TextAnnotations) > 0 && r.TextAnnotations[0] != nil {
		return strings.TrimSpace(r.TextAnnotations[0].Description), nil
	}
	return "", nil
}

// Result is the extraction outcome for the image at Index.
type Result struct {
	Index int
	Text  string
	Err   error
	// Skipped is set when the caller supplied the text up front.
	Skipped bool
}

// Batch holds per-image results in input order.
type Batch struct {
	Results []Result
}

// Failed counts images whose extraction returned an error.
func (b Batch) Failed() int {
	n := 0
	for _, r := range b.Results {
		if r.Err != nil {
			n++
		}
	}
	return n
}

// Succeeded counts images with a usable result, pre-extracted or not.
func (b Batch) Succeeded() int { return len(b.Results) - b.Failed() }

// AllFailed reports a non-empty batch in which every image failed.
func (b Batch) AllFailed() bool { return len(b.Results) > 0 && b.Failed() == len(b.Results) }

// Text joins the non-empty texts in input order, separated by a blank line.
func (b Batch) Text() string {
	parts := make([]string, 0, len(b.Results))
	for _, r := range b.Results {
		if r.Err == nil {
			if t := strings.TrimSpace(r.Text); t != "" {
				parts = append(parts, t)
			}
		}
	}
	return strings.Join(parts, "\n\n")
}

// ExtractAll runs ex concurrently for every image whose entry in pre is
// empty and waits for all of them. A failing image never cancels its
// siblings.
func ExtractAll(ctx context.Context, ex Extractor, images [][]byte, pre []string) Batch {
	results := make([]Result, len(images))
	var wg sync.WaitGroup
	for i, img := range images {
		if i < len(pre) && strings.TrimSpace(pre[i]) != "" {
			results[i] = Result{Index: i, Text: pre[i], Skipped: true}
			continue
		}
		wg.Add(1)
		go func(i int, img []byte) {
			defer wg.Done()
			text, err := ex.Extract(ctx, img)
			results[i] = Result{Index: i, Text: text, Err: err}
		}(i, img)
	}
	wg.Wait()
	return Batch{Results: results}
}
