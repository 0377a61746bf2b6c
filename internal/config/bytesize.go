package config

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ByteSize is a byte count written as a plain integer or with a unit:
// 512KiB, 2GiB, 3GB, 10M.
type ByteSize int64

const (
	KiB ByteSize = 1 << (10 * (iota + 1))
	MiB
	GiB
	TiB
)

var byteUnits = map[string]ByteSize{
	"":    1,
	"b":   1,
	"k":   KiB,
	"kb":  1000,
	"kib": KiB,
	"m":   MiB,
	"mb":  1000 * 1000,
	"mib": MiB,
	"g":   GiB,
	"gb":  1000 * 1000 * 1000,
	"gib": GiB,
	"t":   TiB,
	"tb":  1000 * 1000 * 1000 * 1000,
	"tib": TiB,
}

// ParseByteSize parses a size such as "2GiB".
func ParseByteSize(s string) (ByteSize, error) {
	s = strings.TrimSpace(s)
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	n, err := strconv.ParseInt(s[:i], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	unit, ok := byteUnits[strings.ToLower(strings.TrimSpace(s[i:]))]
	if !ok {
		return 0, fmt.Errorf("invalid size unit in %q", s)
	}
	if n > 0 && int64(unit) > (1<<63-1)/n {
		return 0, fmt.Errorf("size %q overflows", s)
	}
	return ByteSize(n) * unit, nil
}

func (b *ByteSize) UnmarshalYAML(node *yaml.Node) error {
	v, err := ParseByteSize(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*b = v
	return nil
}

// Set lets a ByteSize back a command-line flag.
func (b *ByteSize) Set(s string) error {
	v, err := ParseByteSize(s)
	if err != nil {
		return err
	}
	*b = v
	return nil
}

func (b ByteSize) String() string {
	for _, u := range []struct {
		size ByteSize
		name string
	}{{TiB, "TiB"}, {GiB, "GiB"}, {MiB, "MiB"}, {KiB, "KiB"}} {
		if b >= u.size && b%u.size == 0 {
			return strconv.FormatInt(int64(b/u.size), 10) + u.name
		}
	}
	return strconv.FormatInt(int64(b), 10)
}

func (b ByteSize) MarshalYAML() (any, error) {
	return b.String(), nil
}
