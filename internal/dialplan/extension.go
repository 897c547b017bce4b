package dialplan

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrNoRoute is returned when no extension matches a dialled number.
var ErrNoRoute = errors.New("no extension for number")

// Action is one application invocation.
type Action struct {
	Application string `json:"application"`
	Data        string `json:"data,omitempty"`
}

// Extension is the action list run for a dialled number.
type Extension struct {
	Number  string   `json:"number"`
	Name    string   `json:"name,omitempty"`
	Actions []Action `json:"actions"`
}

// Dialplan maps dialled numbers to extensions.
type Dialplan struct {
	Extensions []Extension `json:"extensions"`

	byNumber map[string]*Extension
}

// Default returns the built-in dialplan: 1234 runs net_dev_record and 1235
// collects four digits into entered_digits.
func Default() *Dialplan {
	dp := &Dialplan{Extensions: []Extension{
		{
			Number:  "1234",
			Name:    "net dev record",
			Actions: []Action{{Application: "net_dev_record"}},
		},
		{
			Number: "1235",
			Name:   "read digits",
			Actions: []Action{
				{Application: "answer"},
				{Application: "read_digits", Data: "4 entered_digits 5000"},
				{Application: "hangup"},
			},
		},
	}}
	dp.index()
	return dp
}

// Load parses a JSON dialplan:
//
//	{"extensions": [{"number": "1235", "actions": [{"application": "read_digits", "data": "4 pin 5000"}]}]}
func Load(r io.Reader) (*Dialplan, error) {
	var dp Dialplan
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&dp); err != nil {
		return nil, fmt.Errorf("decoding dialplan: %w", err)
	}
	if err := dp.index(); err != nil {
		return nil, err
	}
	return &dp, nil
}

// LoadFile reads a JSON dialplan from path.
func LoadFile(path string) (*Dialplan, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening dialplan: %w", err)
	}
	defer f.Close()
	return Load(f)
}

func (d *Dialplan) index() error {
	d.byNumber = make(map[string]*Extension, len(d.Extensions))
	for i := range d.Extensions {
		ext := &d.Extensions[i]
		if ext.Number == "" {
			return fmt.Errorf("extension %d: number is required", i)
		}
		if len(ext.Actions) == 0 {
			return fmt.Errorf("extension %s: no actions", ext.Number)
		}
		if _, dup := d.byNumber[ext.Number]; dup {
			return fmt.Errorf("extension %s: defined twice", ext.Number)
		}
		d.byNumber[ext.Number] = ext
	}
	return nil
}

// Lookup returns the extension for number.
func (d *Dialplan) Lookup(number string) (*Extension, bool) {
	ext, ok := d.byNumber[number]
	return ext, ok
}

// Validate checks that every action names a registered application.
func (d *Dialplan) Validate(reg *Registry) error {
	for _, ext := range d.Extensions {
		for _, a := range ext.Actions {
			if _, ok := reg.Lookup(a.Application); !ok {
				return fmt.Errorf("extension %s: %w %q", ext.Number, ErrUnknownApplication, a.Application)
			}
		}
	}
	return nil
}
