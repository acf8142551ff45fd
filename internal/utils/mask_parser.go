package utils

import (
	"fmt"
	"math/big"
	"strings"
)

// MaxMaskLength is the longest candidate a mask may describe
const MaxMaskLength = 255

// MaskPosition represents a single position in a hashcat mask
type MaskPosition struct {
	Placeholder string // e.g., "?l", "?u", "?d", "?1", or a literal character
	IsLiteral   bool   // true if this is a literal character, false if it's a placeholder
}

// ParseMask parses a hashcat mask into individual positions
// Hashcat placeholders are 2 characters: ?l, ?u, ?d, ?s, ?a, ?b, ?h, ?H, ?1-?4
// "??" is a literal question mark. Everything else is treated as a literal character
func ParseMask(mask string) ([]MaskPosition, error) {
	if mask == "" {
		return nil, fmt.Errorf("mask cannot be empty")
	}

	var positions []MaskPosition
	i := 0

	for i < len(mask) {
		if mask[i] == '?' {
			// Check if there's a next character
			if i+1 >= len(mask) {
				return nil, fmt.Errorf("incomplete placeholder at end of mask")
			}

			// Get the placeholder (2 characters)
			placeholder := mask[i : i+2]

			if placeholder == "??" {
				positions = append(positions, MaskPosition{
					Placeholder: "?",
					IsLiteral:   true,
				})
				i += 2
				continue
			}

			// Validate placeholder
			if !isValidPlaceholder(placeholder) {
				return nil, fmt.Errorf("invalid placeholder: %s", placeholder)
			}

			positions = append(positions, MaskPosition{
				Placeholder: placeholder,
				IsLiteral:   false,
			})

			i += 2 // Skip both characters of the placeholder
		} else {
			// Literal character
			positions = append(positions, MaskPosition{
				Placeholder: string(mask[i]),
				IsLiteral:   true,
			})
			i++
		}
	}

	if len(positions) > MaxMaskLength {
		return nil, fmt.Errorf("mask length %d exceeds maximum of %d", len(positions), MaxMaskLength)
	}

	return positions, nil
}

// isValidPlaceholder checks if a 2-character string is a valid hashcat placeholder
func isValidPlaceholder(placeholder string) bool {
	if len(placeholder) != 2 || placeholder[0] != '?' {
		return false
	}

	// Valid second characters: l, u, d, s, a, b, h, H, 1-4
	second := placeholder[1]
	switch second {
	case 'l', 'u', 'd', 's', 'a', 'b', 'h', 'H':
		return true
	case '1', '2', '3', '4':
		return true
	default:
		return false
	}
}

func isCustomPlaceholder(placeholder string) bool {
	return len(placeholder) == 2 && placeholder[1] >= '1' && placeholder[1] <= '4'
}

// GenerateIncrementLayers generates masks for each length from min to max
// For increment mode: returns shortest to longest
// For increment_inverse mode: returns longest to shortest
func GenerateIncrementLayers(mask string, minLength int, maxLength int, isInverse bool) ([]string, error) {
	if minLength < 1 {
		return nil, fmt.Errorf("min_length must be at least 1")
	}

	if maxLength < minLength {
		return nil, fmt.Errorf("max_length (%d) must be >= min_length (%d)", maxLength, minLength)
	}

	// Parse the mask into positions
	positions, err := ParseMask(mask)
	if err != nil {
		return nil, fmt.Errorf("failed to parse mask: %w", err)
	}

	maskLength := len(positions)

	// Validate that min/max don't exceed mask length
	if minLength > maskLength {
		return nil, fmt.Errorf("min_length (%d) exceeds mask length (%d)", minLength, maskLength)
	}

	// Cap maxLength at mask length
	if maxLength > maskLength {
		maxLength = maskLength
	}

	// Generate layer masks
	var layers []string
	for length := minLength; length <= maxLength; length++ {
		layerMask := buildMaskFromPositions(positions[:length])
		layers = append(layers, layerMask)
	}

	// Reverse for increment_inverse mode (longest first)
	if isInverse {
		for i, j := 0, len(layers)-1; i < j; i, j = i+1, j-1 {
			layers[i], layers[j] = layers[j], layers[i]
		}
	}

	return layers, nil
}

// buildMaskFromPositions reconstructs a mask string from positions
func buildMaskFromPositions(positions []MaskPosition) string {
	var sb strings.Builder
	for _, pos := range positions {
		if pos.IsLiteral && pos.Placeholder == "?" {
			sb.WriteString("??")
			continue
		}
		sb.WriteString(pos.Placeholder)
	}
	return sb.String()
}

// GetMaskLength returns the number of positions in a mask (not the string length)
func GetMaskLength(mask string) (int, error) {
	positions, err := ParseMask(mask)
	if err != nil {
		return 0, err
	}
	return len(positions), nil
}

// CalculateEffectiveKeyspace calculates the total number of candidates for a mask
// by multiplying the charset size for each position.
// For example: ?l?l = 26 * 26 = 676, ?l?d = 26 * 10 = 260
// Custom placeholders ?1-?4 are resolved against customCharsets keyed "1".."4".
func CalculateEffectiveKeyspace(mask string, customCharsets map[string]string) (*big.Int, error) {
	positions, err := ParseMask(mask)
	if err != nil {
		return nil, fmt.Errorf("failed to parse mask: %w", err)
	}

	keyspace := big.NewInt(1)
	for _, pos := range positions {
		if pos.IsLiteral {
			// Literal characters don't multiply keyspace (they're fixed)
			continue
		}

		charsetSize, err := placeholderSize(pos.Placeholder, customCharsets)
		if err != nil {
			return nil, err
		}
		keyspace.Mul(keyspace, big.NewInt(charsetSize))
	}

	return keyspace, nil
}

// CalculateIncrementKeyspace sums the keyspace of every increment layer of a mask
func CalculateIncrementKeyspace(mask string, customCharsets map[string]string, minLength, maxLength int) (*big.Int, error) {
	layers, err := GenerateIncrementLayers(mask, minLength, maxLength, false)
	if err != nil {
		return nil, err
	}

	total := new(big.Int)
	for _, layer := range layers {
		ks, err := CalculateEffectiveKeyspace(layer, customCharsets)
		if err != nil {
			return nil, err
		}
		total.Add(total, ks)
	}
	return total, nil
}

func placeholderSize(placeholder string, customCharsets map[string]string) (int64, error) {
	if isCustomPlaceholder(placeholder) {
		def, ok := customCharsets[placeholder[1:]]
		if !ok || def == "" {
			return 0, fmt.Errorf("custom charset %s is referenced but not defined", placeholder)
		}
		return CharsetCardinality(def, nil)
	}
	return getCharsetSize(placeholder), nil
}

// getCharsetSize returns the number of characters in a placeholder's charset
func getCharsetSize(placeholder string) int64 {
	return int64(builtinCharset(placeholder).count())
}

type charSet [256]bool

func (c *charSet) addRange(from, to byte) {
	for b := int(from); b <= int(to); b++ {
		c[b] = true
	}
}

func (c *charSet) addString(s string) {
	for i := 0; i < len(s); i++ {
		c[s[i]] = true
	}
}

func (c *charSet) union(o charSet) {
	for i := range o {
		if o[i] {
			c[i] = true
		}
	}
}

func (c charSet) count() int {
	n := 0
	for _, set := range c {
		if set {
			n++
		}
	}
	return n
}

const specialChars = " !\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"

func builtinCharset(placeholder string) charSet {
	var cs charSet
	switch placeholder {
	case "?l": // lowercase letters (a-z)
		cs.addRange('a', 'z')
	case "?u": // uppercase letters (A-Z)
		cs.addRange('A', 'Z')
	case "?d": // digits (0-9)
		cs.addRange('0', '9')
	case "?s": // special characters, space included
		cs.addString(specialChars)
	case "?a": // all printable ASCII
		cs.addRange('a', 'z')
		cs.addRange('A', 'Z')
		cs.addRange('0', '9')
		cs.addString(specialChars)
	case "?b": // all bytes (0x00-0xff)
		cs.addRange(0x00, 0xff)
	case "?h": // lowercase hex (0-9a-f)
		cs.addRange('0', '9')
		cs.addRange('a', 'f')
	case "?H": // uppercase hex (0-9A-F)
		cs.addRange('0', '9')
		cs.addRange('A', 'F')
	}
	return cs
}

// CharsetCardinality returns the number of distinct characters a charset
// definition expands to. A definition mixes built-in placeholders and literal
// characters, e.g. "?l?d" (36) or "abc?d" (13). Custom placeholders inside the
// definition are resolved against customCharsets, one level deep.
func CharsetCardinality(definition string, customCharsets map[string]string) (int64, error) {
	cs, err := expandCharset(definition, customCharsets, 0)
	if err != nil {
		return 0, err
	}
	n := cs.count()
	if n == 0 {
		return 0, fmt.Errorf("charset %q is empty", definition)
	}
	return int64(n), nil
}

func expandCharset(definition string, customCharsets map[string]string, depth int) (charSet, error) {
	var cs charSet
	for i := 0; i < len(definition); i++ {
		if definition[i] != '?' {
			cs[definition[i]] = true
			continue
		}
		if i+1 >= len(definition) {
			return cs, fmt.Errorf("incomplete placeholder at end of charset %q", definition)
		}
		placeholder := definition[i : i+2]
		i++
		switch {
		case placeholder == "??":
			cs['?'] = true
		case isCustomPlaceholder(placeholder):
			def, ok := customCharsets[placeholder[1:]]
			if !ok || depth > 0 {
				return cs, fmt.Errorf("custom charset %s cannot be used in %q", placeholder, definition)
			}
			nested, err := expandCharset(def, nil, depth+1)
			if err != nil {
				return cs, err
			}
			cs.union(nested)
		case isValidPlaceholder(placeholder):
			cs.union(builtinCharset(placeholder))
		default:
			return cs, fmt.Errorf("invalid placeholder %s in charset %q", placeholder, definition)
		}
	}
	return cs, nil
}
