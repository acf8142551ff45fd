package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
)

// Keyspace is an arbitrary-precision candidate count or position. Values are
// immutable: every operation returns a new Keyspace and the zero value is 0.
type Keyspace struct {
	n *big.Int
}

// NewKeyspace creates a keyspace from an int64
func NewKeyspace(v int64) Keyspace {
	return Keyspace{n: big.NewInt(v)}
}

// KeyspaceFromBig copies b into a new keyspace
func KeyspaceFromBig(b *big.Int) Keyspace {
	if b == nil {
		return Keyspace{}
	}
	return Keyspace{n: new(big.Int).Set(b)}
}

// ParseKeyspace parses a base-10 integer string
func ParseKeyspace(s string) (Keyspace, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Keyspace{}, nil
	}
	// NUMERIC columns may come back as "123" or "123.0"
	if i := strings.IndexByte(s, '.'); i >= 0 {
		if strings.Trim(s[i+1:], "0") != "" {
			return Keyspace{}, fmt.Errorf("keyspace %q is not an integer", s)
		}
		s = s[:i]
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Keyspace{}, fmt.Errorf("invalid keyspace value %q", s)
	}
	return Keyspace{n: n}, nil
}

// MustParseKeyspace is ParseKeyspace for constants in tests and defaults
func MustParseKeyspace(s string) Keyspace {
	k, err := ParseKeyspace(s)
	if err != nil {
		panic(err)
	}
	return k
}

func (k Keyspace) big() *big.Int {
	if k.n == nil {
		return new(big.Int)
	}
	return k.n
}

// Big returns a copy of the underlying integer
func (k Keyspace) Big() *big.Int {
	return new(big.Int).Set(k.big())
}

func (k Keyspace) Add(o Keyspace) Keyspace {
	return Keyspace{n: new(big.Int).Add(k.big(), o.big())}
}

func (k Keyspace) Sub(o Keyspace) Keyspace {
	return Keyspace{n: new(big.Int).Sub(k.big(), o.big())}
}

func (k Keyspace) Mul(o Keyspace) Keyspace {
	return Keyspace{n: new(big.Int).Mul(k.big(), o.big())}
}

// Cmp compares k and o and returns -1, 0 or +1
func (k Keyspace) Cmp(o Keyspace) int {
	return k.big().Cmp(o.big())
}

func (k Keyspace) Sign() int {
	return k.big().Sign()
}

func (k Keyspace) IsZero() bool {
	return k.Sign() == 0
}

// Max returns the larger of k and o
func (k Keyspace) Max(o Keyspace) Keyspace {
	if k.Cmp(o) >= 0 {
		return k
	}
	return o
}

// Min returns the smaller of k and o
func (k Keyspace) Min(o Keyspace) Keyspace {
	if k.Cmp(o) <= 0 {
		return k
	}
	return o
}

// Int64 returns the value as int64 and whether it fits
func (k Keyspace) Int64() (int64, bool) {
	b := k.big()
	if !b.IsInt64() {
		return 0, false
	}
	return b.Int64(), true
}

// Float64 returns the nearest float64, used only for percentages and display
func (k Keyspace) Float64() float64 {
	f, _ := new(big.Float).SetInt(k.big()).Float64()
	return f
}

// Ratio returns k/o as a percentage in [0, 100]. A zero denominator yields 0.
func (k Keyspace) Ratio(o Keyspace) float64 {
	if o.Sign() <= 0 {
		return 0
	}
	r := new(big.Rat).SetFrac(k.big(), o.big())
	r.Mul(r, big.NewRat(100, 1))
	f, _ := r.Float64()
	if f > 100 {
		f = 100
	}
	if f < 0 {
		f = 0
	}
	return f
}

func (k Keyspace) String() string {
	return k.big().String()
}

// MarshalJSON encodes the keyspace as a decimal string since values routinely exceed 2^53
func (k Keyspace) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON accepts either a decimal string or a JSON number
func (k *Keyspace) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*k = Keyspace{}
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
	}
	parsed, err := ParseKeyspace(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Value stores the keyspace in a NUMERIC column
func (k Keyspace) Value() (driver.Value, error) {
	return k.String(), nil
}

// Scan reads a NUMERIC column
func (k *Keyspace) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*k = Keyspace{}
		return nil
	case []byte:
		parsed, err := ParseKeyspace(string(v))
		if err != nil {
			return err
		}
		*k = parsed
		return nil
	case string:
		parsed, err := ParseKeyspace(v)
		if err != nil {
			return err
		}
		*k = parsed
		return nil
	case int64:
		*k = NewKeyspace(v)
		return nil
	default:
		return fmt.Errorf("unsupported type for keyspace: %T", value)
	}
}
