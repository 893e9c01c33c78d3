package gql

import (
	"strings"

	"github.com/pkg/errors"
)

// Tokens are the session cookies and form key issued by the service. They are
// obtained out of band; this package only attaches them to requests.
type Tokens struct {
	PB          string `yaml:"p-b"`
	PLat        string `yaml:"p-lat"`
	Formkey     string `yaml:"formkey,omitempty"`
	CFBm        string `yaml:"__cf_bm,omitempty"`
	CFClearance string `yaml:"cf_clearance,omitempty"`
}

func (t Tokens) Validate() error {
	if strings.TrimSpace(t.PB) == "" {
		return errors.New("tokens: p-b is required")
	}
	if strings.TrimSpace(t.PLat) == "" {
		return errors.New("tokens: p-lat is required")
	}
	return nil
}

// Cookie renders the Cookie header value. The Cloudflare pair is only sent when
// both halves are present.
func (t Tokens) Cookie() string {
	parts := []string{"p-b=" + t.PB, "p-lat=" + t.PLat}
	if t.CFBm != "" && t.CFClearance != "" {
		parts = append(parts, "__cf_bm="+t.CFBm, "cf_clearance="+t.CFClearance)
	}
	return strings.Join(parts, "; ")
}
