package chain

import "strings"

// Category is the role a function plays in chain correlation.
type Category int

const (
	CategoryNone Category = iota
	CategoryDecoder
	CategoryDangerous
	CategoryObfuscation
)

func (c Category) String() string {
	switch c {
	case CategoryDecoder:
		return "decoder"
	case CategoryDangerous:
		return "dangerous"
	case CategoryObfuscation:
		return "obfuscation"
	default:
		return "none"
	}
}

// FunctionSets lists the function names that drive correlation. Dangerous and
// Decoders match exactly; ObfuscationPatterns match as substrings.
type FunctionSets struct {
	Dangerous           []string `mapstructure:"dangerous_functions" yaml:"dangerous_functions"`
	Decoders            []string `mapstructure:"decoder_functions" yaml:"decoder_functions"`
	ObfuscationPatterns []string `mapstructure:"obfuscation_patterns" yaml:"obfuscation_patterns"`
}

// DefaultFunctionSets returns the stock tables.
func DefaultFunctionSets() FunctionSets {
	return FunctionSets{
		Dangerous:           []string{"eval", "Function", "setTimeout", "setInterval"},
		Decoders:            []string{"atob", "btoa", "unescape", "decodeURIComponent"},
		ObfuscationPatterns: []string{"fromCharCode", "charCodeAt"},
	}
}

// DefaultMultiLayerPattern is the set of calls that, all present in one chain,
// mark a layered base64 -> bytes -> text -> DOM write payload.
var DefaultMultiLayerPattern = []string{"atob", "TextDecoder", "Uint8Array.from", "document.write"}

// Classifier maps function names to categories. It is immutable after
// construction and safe to share between detectors.
type Classifier struct {
	dangerous   map[string]struct{}
	decoders    map[string]struct{}
	obfuscation []string
}

// NewClassifier copies sets into lookup tables.
func NewClassifier(sets FunctionSets) *Classifier {
	c := &Classifier{
		dangerous: make(map[string]struct{}, len(sets.Dangerous)),
		decoders:  make(map[string]struct{}, len(sets.Decoders)),
	}
	for _, name := range sets.Dangerous {
		c.dangerous[name] = struct{}{}
	}
	for _, name := range sets.Decoders {
		c.decoders[name] = struct{}{}
	}
	for _, p := range sets.ObfuscationPatterns {
		if p != "" {
			c.obfuscation = append(c.obfuscation, p)
		}
	}
	return c
}

// Classify returns the category of name. When a name could fall into several
// tables, decoder wins over dangerous, which wins over obfuscation.
func (c *Classifier) Classify(name string) Category {
	if _, ok := c.decoders[name]; ok {
		return CategoryDecoder
	}
	if _, ok := c.dangerous[name]; ok {
		return CategoryDangerous
	}
	for _, p := range c.obfuscation {
		if strings.Contains(name, p) {
			return CategoryObfuscation
		}
	}
	return CategoryNone
}

// Chain type labels.
const (
	ChainTypeMultiLayerDecode  = "MULTI_LAYER_DECODE_ATTACK"
	ChainTypeDecodeToExec      = "DECODE_TO_EXEC_CHAIN"
	ChainTypeObfuscationToExec = "OBFUSCATION_TO_EXEC_CHAIN"
	ChainTypeDirectExec        = "DIRECT_EXEC_CHAIN"
	ChainTypeDecodeObfuscation = "DECODE_OBFUSCATION_CHAIN"
	ChainTypeDecode            = "DECODE_CHAIN"
	ChainTypeObfuscation       = "OBFUSCATION_CHAIN"
	ChainTypeUnknown           = "UNKNOWN_CHAIN"
)

// ChainTypePolicy derives a chain's label from its steps. The label depends on
// nothing but the step sequence.
type ChainTypePolicy struct {
	classifier *Classifier
	multiLayer []string
}

// NewChainTypePolicy builds a policy. An empty multiLayer pattern disables the
// multi-layer label.
func NewChainTypePolicy(classifier *Classifier, multiLayer []string) *ChainTypePolicy {
	if classifier == nil {
		classifier = NewClassifier(DefaultFunctionSets())
	}
	p := &ChainTypePolicy{classifier: classifier}
	p.multiLayer = append(p.multiLayer, multiLayer...)
	return p
}

// DefaultChainTypePolicy uses the stock tables and multi-layer pattern.
func DefaultChainTypePolicy() *ChainTypePolicy {
	return NewChainTypePolicy(NewClassifier(DefaultFunctionSets()), DefaultMultiLayerPattern)
}

// Label classifies steps. A dangerous step only counts as decode-to-exec when
// a decoder step precedes it.
func (p *ChainTypePolicy) Label(steps []ChainStep) string {
	if p.IsMultiLayerDecoding(steps) {
		return ChainTypeMultiLayerDecode
	}

	var sawDecoder, sawObfuscation, decodeThenExec, exec bool
	for _, s := range steps {
		switch p.classifier.Classify(s.FunctionName) {
		case CategoryDecoder:
			sawDecoder = true
		case CategoryObfuscation:
			sawObfuscation = true
		case CategoryDangerous:
			exec = true
			if sawDecoder {
				decodeThenExec = true
			}
		}
	}

	switch {
	case decodeThenExec:
		return ChainTypeDecodeToExec
	case exec && sawObfuscation:
		return ChainTypeObfuscationToExec
	case exec:
		return ChainTypeDirectExec
	case sawDecoder && sawObfuscation:
		return ChainTypeDecodeObfuscation
	case sawDecoder:
		return ChainTypeDecode
	case sawObfuscation:
		return ChainTypeObfuscation
	default:
		return ChainTypeUnknown
	}
}

// IsMultiLayerDecoding reports whether every function of the multi-layer
// pattern appears in steps, in any order.
func (p *ChainTypePolicy) IsMultiLayerDecoding(steps []ChainStep) bool {
	if len(p.multiLayer) == 0 {
		return false
	}
	seen := make(map[string]bool, len(steps))
	for _, s := range steps {
		seen[s.FunctionName] = true
	}
	for _, name := range p.multiLayer {
		if !seen[name] {
			return false
		}
	}
	return true
}
