package endpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var placeholderRegex = regexp.MustCompile(`\{([A-Za-z0-9_]+)\}`)

// Params are the request parameters of a query. Values must be primitives:
// strings, booleans, integers, floats or json.Number.
type Params map[string]any

func (p Params) Validate() error {
	for name, v := range p {
		if name == "" {
			return fmt.Errorf("empty parameter name")
		}
		if _, _, err := canonicalValue(v); err != nil {
			return fmt.Errorf("parameter %q: %w", name, err)
		}
	}
	return nil
}

func (p Params) Clone() Params {
	if p == nil {
		return nil
	}
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Encode serializes p deterministically: names sorted, each value tagged
// with its kind so "1" and 1 stay distinct while 1 and 1.0 collapse.
func (p Params) Encode() string {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for i, name := range names {
		kind, value, err := canonicalValue(p[name])
		if err != nil {
			kind, value = "?", fmt.Sprint(p[name])
		}
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(name))
		b.WriteByte('=')
		b.WriteString(kind)
		b.WriteByte(':')
		b.WriteString(url.QueryEscape(value))
	}
	return b.String()
}

// CacheKey derives the cache key for an endpoint and its params. The endpoint
// key is kept as a readable prefix.
func CacheKey(endpointKey string, p Params) string {
	if len(p) == 0 {
		return endpointKey
	}
	sum := sha256.Sum256([]byte(endpointKey + "\x00" + p.Encode()))
	return endpointKey + "#" + hex.EncodeToString(sum[:8])
}

// Expand substitutes {name} placeholders of template with params. Params not
// consumed by the template are appended as a sorted query string.
func Expand(template string, p Params) (string, error) {
	used := make(map[string]bool)
	var missing []string

	path := placeholderRegex.ReplaceAllStringFunc(template, func(m string) string {
		name := m[1 : len(m)-1]
		v, ok := p[name]
		if !ok {
			missing = append(missing, name)
			return m
		}
		used[name] = true
		_, s, err := canonicalValue(v)
		if err != nil {
			s = fmt.Sprint(v)
		}
		return url.PathEscape(s)
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("missing path parameters: %s", strings.Join(missing, ", "))
	}

	query := url.Values{}
	for name, v := range p {
		if used[name] {
			continue
		}
		_, s, err := canonicalValue(v)
		if err != nil {
			return "", fmt.Errorf("parameter %q: %w", name, err)
		}
		query.Set(name, s)
	}
	if len(query) == 0 {
		return path, nil
	}

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + query.Encode(), nil
}

func canonicalValue(v any) (kind string, value string, err error) {
	switch x := v.(type) {
	case string:
		return "s", x, nil
	case bool:
		return "b", strconv.FormatBool(x), nil
	case int:
		return "n", strconv.FormatInt(int64(x), 10), nil
	case int8:
		return "n", strconv.FormatInt(int64(x), 10), nil
	case int16:
		return "n", strconv.FormatInt(int64(x), 10), nil
	case int32:
		return "n", strconv.FormatInt(int64(x), 10), nil
	case int64:
		return "n", strconv.FormatInt(x, 10), nil
	case uint:
		return "n", strconv.FormatUint(uint64(x), 10), nil
	case uint8:
		return "n", strconv.FormatUint(uint64(x), 10), nil
	case uint16:
		return "n", strconv.FormatUint(uint64(x), 10), nil
	case uint32:
		return "n", strconv.FormatUint(uint64(x), 10), nil
	case uint64:
		return "n", strconv.FormatUint(x, 10), nil
	case float32:
		return "n", formatFloat(float64(x)), nil
	case float64:
		return "n", formatFloat(x), nil
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return "n", strconv.FormatInt(i, 10), nil
		}
		f, err := x.Float64()
		if err != nil {
			return "", "", fmt.Errorf("invalid number %q", x.String())
		}
		return "n", formatFloat(f), nil
	default:
		return "", "", fmt.Errorf("unsupported value type %T", v)
	}
}

// formatFloat spells integral floats exactly as the integer they hold, so
// 1<<60 and float64(1<<60) share a cache key.
func formatFloat(f float64) string {
	if math.IsInf(f, 0) || f != math.Trunc(f) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	if math.Abs(f) < 1<<53 {
		return strconv.FormatInt(int64(f), 10)
	}
	i, _ := new(big.Float).SetFloat64(f).Int(nil)
	return i.String()
}
