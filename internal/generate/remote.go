package generate

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/stillframe/memorialtube/internal/imaging"
)

// Compile-time interface checks.
var (
	_ Outpainter     = (*RemoteOutpainter)(nil)
	_ Detector       = (*RemoteDetector)(nil)
	_ FrameGenerator = (*RemoteFrameGenerator)(nil)
)

// animalLabels is the closed set of detector labels treated as animals.
var animalLabels = map[string]bool{
	"cat": true, "dog": true, "bird": true, "horse": true, "sheep": true,
	"cow": true, "elephant": true, "bear": true, "zebra": true, "giraffe": true,
}

const remoteTimeout = 120 * time.Second

// remoteClient is shared plumbing for the model-backed adapters: each talks
// JSON over HTTP to an inference service, shipping images as base64 PNG.
type remoteClient struct {
	endpoint string
	http     *http.Client
	logger   *zap.Logger
}

func newRemoteClient(endpoint string, logger *zap.Logger) remoteClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return remoteClient{
		endpoint: endpoint,
		http:     &http.Client{Timeout: remoteTimeout},
		logger:   logger,
	}
}

func (c remoteClient) post(ctx context.Context, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("generate: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("generate: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("generate: call %s: %w", c.endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("generate: %s returned %d: %s", c.endpoint, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("generate: decode response from %s: %w", c.endpoint, err)
	}
	return nil
}

func encodeImage(im *imaging.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, im.ToRGBA()); err != nil {
		return "", fmt.Errorf("generate: encode image: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func encodeMask(m *imaging.Mask) (string, error) {
	gray := image.NewGray(image.Rect(0, 0, m.W, m.H))
	copy(gray.Pix, m.Pix)
	var buf bytes.Buffer
	if err := png.Encode(&buf, gray); err != nil {
		return "", fmt.Errorf("generate: encode mask: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func decodeImage(data string) (*imaging.Image, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("generate: decode image payload: %w", err)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("generate: decode image payload: %w", err)
	}
	return imaging.FromNative(img), nil
}

// RemoteOutpainter calls an inpainting inference service. It is the
// model-backed, generative variant of the outpaint capability.
type RemoteOutpainter struct {
	client         remoteClient
	prompt         string
	negativePrompt string
}

// NewRemoteOutpainter builds an adapter for the given endpoint.
func NewRemoteOutpainter(endpoint, prompt, negativePrompt string, logger *zap.Logger) *RemoteOutpainter {
	return &RemoteOutpainter{
		client:         newRemoteClient(endpoint, logger),
		prompt:         prompt,
		negativePrompt: negativePrompt,
	}
}

func (*RemoteOutpainter) Name() string     { return "remote" }
func (*RemoteOutpainter) Generative() bool { return true }

func (o *RemoteOutpainter) Outpaint(ctx context.Context, base *imaging.Image, mask *imaging.Mask, opts OutpaintOptions) (*imaging.Image, error) {
	if !mask.MatchesImage(base) {
		return nil, fmt.Errorf("generate: generation mask %dx%d does not match image %dx%d", mask.W, mask.H, base.W, base.H)
	}
	img, err := encodeImage(base)
	if err != nil {
		return nil, err
	}
	msk, err := encodeMask(mask)
	if err != nil {
		return nil, err
	}

	req := struct {
		Image          string `json:"image"`
		Mask           string `json:"mask"`
		Prompt         string `json:"prompt"`
		NegativePrompt string `json:"negative_prompt,omitempty"`
		Steps          int    `json:"steps,omitempty"`
	}{img, msk, o.prompt, o.negativePrompt, opts.Steps}

	var resp struct {
		Image string `json:"image"`
	}
	if err := o.client.post(ctx, req, &resp); err != nil {
		return nil, err
	}
	out, err := decodeImage(resp.Image)
	if err != nil {
		return nil, err
	}
	if !out.SameSize(base) {
		out = imaging.Resize(out, base.W, base.H)
	}
	return out, nil
}

// RemoteDetector calls an object-detection inference service and keeps only
// animal labels above the confidence threshold.
type RemoteDetector struct {
	client     remoteClient
	confidence float64
}

// NewRemoteDetector builds an adapter for the given endpoint.
func NewRemoteDetector(endpoint string, confidence float64, logger *zap.Logger) *RemoteDetector {
	return &RemoteDetector{client: newRemoteClient(endpoint, logger), confidence: confidence}
}

func (*RemoteDetector) Name() string    { return "remote" }
func (*RemoteDetector) Available() bool { return true }

func (d *RemoteDetector) Detect(ctx context.Context, im *imaging.Image) ([]Detection, error) {
	img, err := encodeImage(im)
	if err != nil {
		return nil, err
	}
	req := struct {
		Image string `json:"image"`
	}{img}

	var resp struct {
		Detections []Detection `json:"detections"`
	}
	if err := d.client.post(ctx, req, &resp); err != nil {
		return nil, err
	}

	var out []Detection
	for _, det := range resp.Detections {
		label := strings.ToLower(det.Label)
		if det.Confidence < d.confidence || !animalLabels[label] {
			continue
		}
		det.Label = label
		out = append(out, det)
	}
	return out, nil
}

// RemoteFrameGenerator calls an image-to-image inference service to stylize
// a single transition frame.
type RemoteFrameGenerator struct {
	client remoteClient
}

// NewRemoteFrameGenerator builds an adapter for the given endpoint.
func NewRemoteFrameGenerator(endpoint string, logger *zap.Logger) *RemoteFrameGenerator {
	return &RemoteFrameGenerator{client: newRemoteClient(endpoint, logger)}
}

func (*RemoteFrameGenerator) Name() string    { return "remote" }
func (*RemoteFrameGenerator) Available() bool { return true }

func (g *RemoteFrameGenerator) GenerateFrame(ctx context.Context, base *imaging.Image, prompt, negativePrompt string) (*imaging.Image, error) {
	img, err := encodeImage(base)
	if err != nil {
		return nil, err
	}
	req := struct {
		Image          string `json:"image"`
		Prompt         string `json:"prompt"`
		NegativePrompt string `json:"negative_prompt,omitempty"`
	}{img, prompt, negativePrompt}

	var resp struct {
		Image string `json:"image"`
	}
	if err := g.client.post(ctx, req, &resp); err != nil {
		return nil, err
	}
	out, err := decodeImage(resp.Image)
	if err != nil {
		return nil, err
	}
	if !out.SameSize(base) {
		out = imaging.Resize(out, base.W, base.H)
	}
	return out, nil
}
