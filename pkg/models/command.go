// Package models defines the core domain models for command orchestration
// against remote target surfaces.
package models

import "time"

// CommandType identifies the kind of action a structured command performs.
type CommandType string

const (
	CommandNavigate   CommandType = "navigate"
	CommandClick      CommandType = "click"
	CommandFill       CommandType = "fill"
	CommandSubmit     CommandType = "submit"
	CommandExtract    CommandType = "extract"
	CommandWait       CommandType = "wait"
	CommandScreenshot CommandType = "screenshot"
)

// Mutating reports whether commands of this type change the state of the
// target surface. Mutating commands within one request must execute in
// submission order; read-only commands may run in parallel.
func (t CommandType) Mutating() bool {
	switch t {
	case CommandNavigate, CommandClick, CommandFill, CommandSubmit:
		return true
	default:
		return false
	}
}

// NavigateParams loads a URL in the target surface.
type NavigateParams struct {
	URL string `json:"url" validate:"required"`
}

// ClickParams clicks the element addressed by Selector.
type ClickParams struct {
	Selector string `json:"selector" validate:"required"`
	Button   string `json:"button,omitempty"`
}

// FillParams types Value into the element addressed by Selector.
type FillParams struct {
	Selector string `json:"selector" validate:"required"`
	Value    string `json:"value"    validate:"required"`
}

// SubmitParams submits the form addressed by Selector.
type SubmitParams struct {
	Selector string `json:"selector" validate:"required"`
}

// ExtractParams reads content from the element addressed by Selector.
type ExtractParams struct {
	Selector  string `json:"selector" validate:"required"`
	Attribute string `json:"attribute,omitempty"`
	Multiple  bool   `json:"multiple,omitempty"`
}

// WaitParams pauses execution for a fixed duration.
type WaitParams struct {
	DurationMs int `json:"duration_ms" validate:"gte=0"`
}

// ScreenshotParams captures the current viewport. FullPage captures the
// whole document instead.
type ScreenshotParams struct {
	FullPage bool `json:"full_page,omitempty"`
}

// StructuredCommand is a single fully-typed action ready for execution.
// Exactly one variant field matching Type must be set; Meta carries opaque
// pass-through data only.
type StructuredCommand struct {
	ID   string      `json:"id"`
	Type CommandType `json:"type" validate:"required"`

	Navigate   *NavigateParams   `json:"navigate,omitempty"`
	Click      *ClickParams      `json:"click,omitempty"`
	Fill       *FillParams       `json:"fill,omitempty"`
	Submit     *SubmitParams     `json:"submit,omitempty"`
	Extract    *ExtractParams    `json:"extract,omitempty"`
	Wait       *WaitParams       `json:"wait,omitempty"`
	Screenshot *ScreenshotParams `json:"screenshot,omitempty"`

	Timeout time.Duration  `json:"timeout,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// HasParams reports whether the variant field matching the command type is
// populated.
func (c *StructuredCommand) HasParams() bool {
	switch c.Type {
	case CommandNavigate:
		return c.Navigate != nil
	case CommandClick:
		return c.Click != nil
	case CommandFill:
		return c.Fill != nil
	case CommandSubmit:
		return c.Submit != nil
	case CommandExtract:
		return c.Extract != nil
	case CommandWait:
		return c.Wait != nil
	case CommandScreenshot:
		return c.Screenshot != nil
	default:
		return false
	}
}

// Locator returns the selector or URL the command targets, if any.
func (c *StructuredCommand) Locator() string {
	switch c.Type {
	case CommandNavigate:
		if c.Navigate != nil {
			return c.Navigate.URL
		}
	case CommandClick:
		if c.Click != nil {
			return c.Click.Selector
		}
	case CommandFill:
		if c.Fill != nil {
			return c.Fill.Selector
		}
	case CommandSubmit:
		if c.Submit != nil {
			return c.Submit.Selector
		}
	case CommandExtract:
		if c.Extract != nil {
			return c.Extract.Selector
		}
	}

	return ""
}

// FreeText returns user-supplied free text carried by the command, if any.
func (c *StructuredCommand) FreeText() string {
	if c.Type == CommandFill && c.Fill != nil {
		return c.Fill.Value
	}

	return ""
}

// Clone returns a deep copy of the command.
func (c *StructuredCommand) Clone() *StructuredCommand {
	clone := *c

	if c.Navigate != nil {
		p := *c.Navigate
		clone.Navigate = &p
	}

	if c.Click != nil {
		p := *c.Click
		clone.Click = &p
	}

	if c.Fill != nil {
		p := *c.Fill
		clone.Fill = &p
	}

	if c.Submit != nil {
		p := *c.Submit
		clone.Submit = &p
	}

	if c.Extract != nil {
		p := *c.Extract
		clone.Extract = &p
	}

	if c.Wait != nil {
		p := *c.Wait
		clone.Wait = &p
	}

	if c.Screenshot != nil {
		p := *c.Screenshot
		clone.Screenshot = &p
	}

	if c.Meta != nil {
		clone.Meta = make(map[string]any, len(c.Meta))
		for k, v := range c.Meta {
			clone.Meta[k] = v
		}
	}

	return &clone
}
