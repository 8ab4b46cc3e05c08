package preview

import (
	"fmt"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
)

// Container holds the live preview DOM. Every Replace starts a new epoch;
// work scheduled against an older epoch must not touch the new content.
type Container struct {
	doc   *goquery.Document
	epoch uint64
	mu    sync.RWMutex
}

// NewContainer returns an empty container at epoch 0.
func NewContainer() *Container {
	doc, _ := goquery.NewDocumentFromReader(strings.NewReader(""))
	return &Container{doc: doc}
}

// Replace swaps the whole content and returns the new epoch.
func (c *Container) Replace(html string) (uint64, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return 0, fmt.Errorf("parse preview html: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.doc = doc
	c.epoch++
	return c.epoch, nil
}

// Epoch returns the current epoch.
func (c *Container) Epoch() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.epoch
}

// HTML serialises the current content.
func (c *Container) HTML() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out, _ := c.root().Html()
	return out
}

// View runs fn with read access to the content root.
func (c *Container) View(fn func(root *goquery.Selection)) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fn(c.root())
}

// Mutate runs fn with write access to the current content.
func (c *Container) Mutate(fn func(root *goquery.Selection)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c.root())
}

// Patch runs fn only while epoch is still current and reports whether it
// ran.
func (c *Container) Patch(epoch uint64, fn func(root *goquery.Selection)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch != c.epoch {
		return false
	}
	fn(c.root())
	return true
}

// Live reports whether an element with id exists in epoch.
func (c *Container) Live(epoch uint64, id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return epoch == c.epoch && byID(c.root(), id).Length() > 0
}

func (c *Container) root() *goquery.Selection {
	return c.doc.Find("body").First()
}

func byID(root *goquery.Selection, id string) *goquery.Selection {
	return root.Find(`[id="` + strings.ReplaceAll(id, `"`, `\"`) + `"]`).First()
}
