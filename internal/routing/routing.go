// Package routing resolves a complaint category to the department that
// receives it. The table is loaded once at startup and is read-only after.
package routing

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/linnemanlabs/grievance/internal/complaint"
)

//go:embed routes.yaml
var defaultRoutes []byte

// Recipient is the delivery target for one department.
type Recipient struct {
	Department      string `yaml:"department" json:"department"`
	Email           string `yaml:"email" json:"email"`
	SlackWebhookURL string `yaml:"slack_webhook_url,omitempty" json:"slack_webhook_url,omitempty"`
}

type file struct {
	Version int         `yaml:"version"`
	Routes  []Recipient `yaml:"routes"`
}

// Table maps every category to exactly one recipient.
type Table struct {
	version int
	routes  [complaint.NumCategories]*Recipient
}

// Default returns the table compiled into the binary.
func Default() (*Table, error) {
	return Parse(bytes.NewReader(defaultRoutes))
}

// Load reads a routing table from path. An empty path loads the default table.
func Load(path string) (*Table, error) {
	if path == "" {
		return Default()
	}
	f, err := os.Open(path) //nolint:gosec // path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("open routing table: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Parse(f)
}

// Parse decodes and validates a routing table. Unknown YAML keys are rejected.
func Parse(r io.Reader) (*Table, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f file
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode routing table: %w", err)
	}

	t := &Table{version: f.Version}
	var errs []error
	for i := range f.Routes {
		rec := f.Routes[i]
		c, err := complaint.ParseCategory(rec.Department)
		if err != nil {
			errs = append(errs, fmt.Errorf("route %d: %w", i, err))
			continue
		}
		if t.routes[c] != nil {
			errs = append(errs, fmt.Errorf("route %d: duplicate entry for %s", i, c))
			continue
		}
		t.routes[c] = &rec
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Validate confirms every category has a recipient with an e-mail address.
func (t *Table) Validate() error {
	var missing []string
	var errs []error
	for _, c := range complaint.Categories() {
		rec := t.routes[c]
		if rec == nil {
			missing = append(missing, c.String())
			continue
		}
		if strings.TrimSpace(rec.Email) == "" {
			errs = append(errs, fmt.Errorf("route for %s has no email", c))
		}
	}
	if len(missing) > 0 {
		errs = append(errs, fmt.Errorf("%w: %s", complaint.ErrUnroutableCategory, strings.Join(missing, ", ")))
	}
	return errors.Join(errs...)
}

// Resolve returns the recipient for c.
func (t *Table) Resolve(c complaint.Category) (Recipient, error) {
	if t == nil || !c.Valid() || t.routes[c] == nil {
		return Recipient{}, fmt.Errorf("%w: %s", complaint.ErrUnroutableCategory, c)
	}
	return *t.routes[c], nil
}

// HasSlackWebhooks reports whether any recipient carries its own webhook.
func (t *Table) HasSlackWebhooks() bool {
	for _, rec := range t.routes {
		if rec != nil && rec.SlackWebhookURL != "" {
			return true
		}
	}
	return false
}

// Version reports the table's declared version.
func (t *Table) Version() int { return t.version }
