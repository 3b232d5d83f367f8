package story

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dohr-michael/storybook/internal/pipeline"
)

// Catalog is a rotating list of topics loaded from YAML:
//
//	style_ref: watercolor.png
//	topics:
//	  - text: a brave little cat
//	  - text: a lost balloon
//	    style_ref: pastel.png
//
// A bare string is accepted for a topic without its own style ref.
type Catalog struct {
	StyleRef string  `yaml:"style_ref,omitempty"`
	Topics   []entry `yaml:"topics"`
}

type entry struct {
	pipeline.Topic
}

func (e *entry) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		e.Text = n.Value
		return nil
	}
	var t pipeline.Topic
	if err := n.Decode(&t); err != nil {
		return err
	}
	e.Topic = t
	return nil
}

// LoadCatalog reads a topic catalog. Blank topics are dropped.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read topics: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes a YAML topic catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse topics: %w", err)
	}
	kept := c.Topics[:0]
	for _, t := range c.Topics {
		t.Text = strings.TrimSpace(t.Text)
		if t.Text != "" {
			kept = append(kept, t)
		}
	}
	c.Topics = kept
	return &c, nil
}

// Next implements pipeline.TopicSource. Topics rotate with the ledger size,
// so consecutive runs that each add stories move through the list.
func (c *Catalog) Next(_ context.Context, taskCount int) (pipeline.Topic, bool, error) {
	if c == nil || len(c.Topics) == 0 {
		return pipeline.Topic{}, false, nil
	}
	if taskCount < 0 {
		taskCount = 0
	}
	t := c.Topics[taskCount%len(c.Topics)].Topic
	if t.StyleRef == "" {
		t.StyleRef = c.StyleRef
	}
	return t, true, nil
}

// Len returns the number of topics.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Topics)
}
