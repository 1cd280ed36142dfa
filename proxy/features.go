package proxy

import (
	"fmt"
	"math/bits"
	"strings"
)

// Features is a set of readiness bits a remote-mirrored object acquires.
type Features uint32

const (
	// FeatureProxy is set once the local proxy exists.
	FeatureProxy Features = 1 << iota
	// FeatureBound is set once the remote peer assigned a global id.
	FeatureBound
	// FeatureInfo is set once the object's info arrived.
	FeatureInfo
	// FeatureProperties is set once any properties of the object are known,
	// from its info or from a property update.
	FeatureProperties

	// FeatureLast is the first bit available to specialized proxies.
	FeatureLast Features = 1 << 8
)

var featureNames = map[Features]string{ //nolint:gochecknoglobals
	FeatureProxy:      "proxy",
	FeatureBound:      "bound",
	FeatureInfo:       "info",
	FeatureProperties: "properties",
}

// Has reports whether every bit of wanted is in f.
func (f Features) Has(wanted Features) bool {
	return f&wanted == wanted
}

// Union returns the bits present in f or other.
func (f Features) Union(other Features) Features {
	return f | other
}

// Missing returns the bits of wanted that f lacks.
func (f Features) Missing(wanted Features) Features {
	return wanted &^ f
}

func (f Features) String() string {
	if f == 0 {
		return "none"
	}

	parts := make([]string, 0, bits.OnesCount32(uint32(f)))

	for rest := f; rest != 0; rest &= rest - 1 {
		bit := Features(1) << bits.TrailingZeros32(uint32(rest))

		if name, ok := featureNames[bit]; ok {
			parts = append(parts, name)
		} else {
			parts = append(parts, fmt.Sprintf("0x%x", uint32(bit)))
		}
	}

	return strings.Join(parts, "|")
}
