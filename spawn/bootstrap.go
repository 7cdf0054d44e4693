package spawn

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// ProtocolVersion is the envelope protocol spoken by this package.
const ProtocolVersion = "1.0.0"

// DefaultName is the name an isolate endpoint is exposed under in its scope.
const DefaultName = "spawn"

var protocolConstraint = mustConstraint("^1")

func mustConstraint(c string) *semver.Constraints {
	cs, err := semver.NewConstraint(c)
	if err != nil {
		panic(err)
	}
	return cs
}

// Bootstrap is everything a fresh isolated context needs to reconstruct its
// endpoint before user code runs. Only the data fields are rendered; Job is
// handed over out of band and only to contexts living in this process.
type Bootstrap struct {
	Protocol string   `json:"protocol"`
	Name     string   `json:"name"`
	Location Location `json:"location"`

	Job Job `json:"-"`
}

// Render produces the bootstrap's source text.
func (b *Bootstrap) Render() ([]byte, error) {
	out := *b
	if out.Protocol == "" {
		out.Protocol = ProtocolVersion
	}
	if out.Name == "" {
		out.Name = DefaultName
	}
	return json.Marshal(&out)
}

// ParseBootstrap reads text produced by Render and checks that its protocol
// version is one this package speaks.
func ParseBootstrap(text []byte) (*Bootstrap, error) {
	var b Bootstrap
	if err := json.Unmarshal(text, &b); err != nil {
		return nil, fmt.Errorf("parse bootstrap: %w", err)
	}

	v, err := semver.NewVersion(strings.TrimSpace(b.Protocol))
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrProtocolVersion, b.Protocol)
	}
	if !protocolConstraint.Check(v) {
		return nil, fmt.Errorf("%w: %s", ErrProtocolVersion, v)
	}

	if b.Name == "" {
		b.Name = DefaultName
	}
	return &b, nil
}
