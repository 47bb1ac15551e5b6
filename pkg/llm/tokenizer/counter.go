package tokenizer

import (
	"encoding/json"
	"math"

	"github.com/entrhq/conduit/pkg/types"
)

// ImageConfig holds the constants for image token costing.
type ImageConfig struct {
	LowDetailTokens           int `yaml:"low_detail_tokens" json:"low_detail_tokens"`
	HighDetailTileTokens      int `yaml:"high_detail_tile_tokens" json:"high_detail_tile_tokens"`
	MaxSize                   int `yaml:"max_size" json:"max_size"`
	HighDetailTargetShortSide int `yaml:"high_detail_target_short_side" json:"high_detail_target_short_side"`
	TileSize                  int `yaml:"tile_size" json:"tile_size"`
	DefaultWidth              int `yaml:"default_width" json:"default_width"`
	DefaultHeight             int `yaml:"default_height" json:"default_height"`
}

// CounterConfig holds the per-message and per-request overheads.
type CounterConfig struct {
	BaseMessageTokens int         `yaml:"base_message_tokens" json:"base_message_tokens"`
	FormatTokens      int         `yaml:"format_tokens" json:"format_tokens"`
	Image             ImageConfig `yaml:"image" json:"image"`
}

// DefaultCounterConfig returns the OpenAI chat accounting constants.
func DefaultCounterConfig() CounterConfig {
	return CounterConfig{
		BaseMessageTokens: 4,
		FormatTokens:      2,
		Image: ImageConfig{
			LowDetailTokens:           85,
			HighDetailTileTokens:      170,
			MaxSize:                   2048,
			HighDetailTargetShortSide: 768,
			TileSize:                  512,
			DefaultWidth:              1024,
			DefaultHeight:             1024,
		},
	}
}

// withDefaults fills zero fields from DefaultCounterConfig.
func (c CounterConfig) withDefaults() CounterConfig {
	d := DefaultCounterConfig()
	if c.BaseMessageTokens == 0 {
		c.BaseMessageTokens = d.BaseMessageTokens
	}
	if c.FormatTokens == 0 {
		c.FormatTokens = d.FormatTokens
	}
	img := &c.Image
	if img.LowDetailTokens == 0 {
		img.LowDetailTokens = d.Image.LowDetailTokens
	}
	if img.HighDetailTileTokens == 0 {
		img.HighDetailTileTokens = d.Image.HighDetailTileTokens
	}
	if img.MaxSize == 0 {
		img.MaxSize = d.Image.MaxSize
	}
	if img.HighDetailTargetShortSide == 0 {
		img.HighDetailTargetShortSide = d.Image.HighDetailTargetShortSide
	}
	if img.TileSize == 0 {
		img.TileSize = d.Image.TileSize
	}
	if img.DefaultWidth == 0 {
		img.DefaultWidth = d.Image.DefaultWidth
	}
	if img.DefaultHeight == 0 {
		img.DefaultHeight = d.Image.DefaultHeight
	}
	return c
}

// Counter estimates the input tokens of a chat request.
type Counter struct {
	enc Encoder
	cfg CounterConfig
}

// NewCounter creates a counter. Zero config fields take default values.
func NewCounter(enc Encoder, cfg CounterConfig) *Counter {
	return &Counter{enc: enc, cfg: cfg.withDefaults()}
}

// Config returns the effective configuration.
func (c *Counter) Config() CounterConfig {
	return c.cfg
}

// CountText returns the encoded length of text.
func (c *Counter) CountText(text string) int {
	if text == "" {
		return 0
	}
	return len(c.enc.Encode(text))
}

// CountImage returns the token cost of one image.
func (c *Counter) CountImage(img types.Image) int {
	if img.Detail == types.ImageDetailLow {
		return c.cfg.Image.LowDetailTokens
	}
	w, h := img.Width, img.Height
	if w <= 0 || h <= 0 {
		w, h = c.cfg.Image.DefaultWidth, c.cfg.Image.DefaultHeight
	}
	return c.highDetailTokens(w, h)
}

func (c *Counter) highDetailTokens(width, height int) int {
	ic := c.cfg.Image
	w, h := float64(width), float64(height)

	if longest := math.Max(w, h); longest > float64(ic.MaxSize) {
		scale := float64(ic.MaxSize) / longest
		w, h = math.Trunc(w*scale), math.Trunc(h*scale)
	}

	scale := float64(ic.HighDetailTargetShortSide) / math.Min(w, h)
	sw, sh := math.Trunc(w*scale), math.Trunc(h*scale)

	tiles := int(math.Ceil(sw/float64(ic.TileSize))) * int(math.Ceil(sh/float64(ic.TileSize)))
	return tiles*ic.HighDetailTileTokens + ic.LowDetailTokens
}

// CountContent returns the cost of a message body: its text plus any images.
func (c *Counter) CountContent(m *types.Message) int {
	tokens := c.CountText(m.Content)
	for _, img := range m.Images {
		tokens += c.CountImage(img)
	}
	return tokens
}

// CountMessage returns the cost of a single message excluding the
// once-per-request format overhead.
func (c *Counter) CountMessage(m *types.Message) int {
	tokens := c.cfg.BaseMessageTokens
	tokens += c.CountText(string(m.Role))
	tokens += c.CountContent(m)
	for _, tc := range m.ToolCalls {
		tokens += c.CountText(tc.Function.Name)
		tokens += c.CountText(tc.Function.Arguments)
	}
	tokens += c.CountText(m.Name)
	tokens += c.CountText(m.ToolCallID)
	return tokens
}

// CountMessages returns the cost of a full message list.
func (c *Counter) CountMessages(msgs []*types.Message) int {
	total := c.cfg.FormatTokens
	for _, m := range msgs {
		total += c.CountMessage(m)
	}
	return total
}

// CountTools returns the cost of serialized tool definitions. A nil or
// empty slice costs nothing.
func (c *Counter) CountTools(tools any) int {
	if tools == nil {
		return 0
	}
	data, err := json.Marshal(tools)
	if err != nil || string(data) == "null" || string(data) == "[]" {
		return 0
	}
	return c.CountText(string(data))
}
