package packet

import (
	"fmt"
	"strconv"
)

// Version is a negotiated protocol revision. Versions are ordered.
type Version int32

const (
	V1_8    Version = 47
	V1_12_2 Version = 340
	V1_13   Version = 393
	V1_16   Version = 735
	V1_19   Version = 759
	V1_19_1 Version = 760
	V1_19_3 Version = 761
	V1_19_4 Version = 762
	V1_20   Version = 763
	V1_20_2 Version = 764
	V1_20_3 Version = 765
	V1_20_5 Version = 766
	V1_21   Version = 767

	MinimumVersion = V1_8
	MaximumVersion = V1_21
)

var versionNames = map[Version]string{
	V1_8:    "1.8",
	V1_12_2: "1.12.2",
	V1_13:   "1.13",
	V1_16:   "1.16",
	V1_19:   "1.19",
	V1_19_1: "1.19.1",
	V1_19_3: "1.19.3",
	V1_19_4: "1.19.4",
	V1_20:   "1.20",
	V1_20_2: "1.20.2",
	V1_20_3: "1.20.3",
	V1_20_5: "1.20.5",
	V1_21:   "1.21",
}

func (v Version) Supported() bool {
	return v >= MinimumVersion && v <= MaximumVersion
}

func (v Version) String() string {
	if name, ok := versionNames[v]; ok {
		return name
	}
	return "protocol " + strconv.Itoa(int(v))
}

// ParseVersion accepts either a protocol number ("767") or a release name ("1.21").
func ParseVersion(s string) (Version, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return Version(n), nil
	}
	for v, name := range versionNames {
		if name == s {
			return v, nil
		}
	}
	return 0, fmt.Errorf("packet: unknown version %q", s)
}

// Range is an inclusive version interval. Until == 0 leaves it open ended.
type Range struct {
	Since Version
	Until Version
}

func AllVersions() Range { return Range{} }
func Since(v Version) Range { return Range{Since: v} }
func Between(since, until Version) Range { return Range{Since: since, Until: until} }

func (r Range) Contains(v Version) bool {
	if v < r.Since {
		return false
	}
	return r.Until == 0 || v <= r.Until
}
